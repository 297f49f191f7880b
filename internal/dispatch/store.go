package dispatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/yanun0323/errors"
)

// CounterStore persists the per-date dispatched-order counts.
type CounterStore interface {
	Load() (map[string]int, error)
	Save(map[string]int) error
}

// Mapping records which instrument a broker order id belongs to, so a
// restart can reconcile orders placed before the crash.
type Mapping struct {
	Symbol   string    `json:"symbol"`
	SignalID string    `json:"signalId"`
	Tag      string    `json:"tag"`
	PlacedAt time.Time `json:"placedAt"`
}

// MappingStore persists the order-id recovery mappings.
type MappingStore interface {
	Load() (map[int64]Mapping, error)
	Save(map[int64]Mapping) error
}

// FileCounterStore keeps counts in a JSON file with atomic replace
// semantics: a crash mid-write never corrupts the previous valid state.
type FileCounterStore struct {
	Path string
}

func (s FileCounterStore) Load() (map[string]int, error) {
	counts := make(map[string]int)
	if err := readJSON(s.Path, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s FileCounterStore) Save(counts map[string]int) error {
	return writeJSONAtomic(s.Path, counts)
}

// FileMappingStore keeps recovery mappings in a JSON file, same replace
// semantics as the counter store.
type FileMappingStore struct {
	Path string
}

func (s FileMappingStore) Load() (map[int64]Mapping, error) {
	raw := make(map[string]Mapping)
	if err := readJSON(s.Path, &raw); err != nil {
		return nil, err
	}
	out := make(map[int64]Mapping, len(raw))
	for key, m := range raw {
		id, err := parseOrderID(key)
		if err != nil {
			return nil, errors.Wrap(err, "parse mapping order id")
		}
		out[id] = m
	}
	return out, nil
}

func (s FileMappingStore) Save(mappings map[int64]Mapping) error {
	raw := make(map[string]Mapping, len(mappings))
	for id, m := range mappings {
		raw[formatOrderID(id)] = m
	}
	return writeJSONAtomic(s.Path, raw)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read "+path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "decode "+path)
	}
	return nil
}

// writeJSONAtomic writes to a temp file in the same directory and renames
// it over the target.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode "+path)
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create dir for "+path)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write "+tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace "+path)
	}
	return nil
}
