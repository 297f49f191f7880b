package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCounterStoreRoundTrip(t *testing.T) {
	store := FileCounterStore{Path: filepath.Join(t.TempDir(), "state", "counts.json")}

	// Missing file reads as empty, not as an error.
	counts, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, counts)

	require.NoError(t, store.Save(map[string]int{"2026-03-10": 7, "2026-03-09": 3000}))
	counts, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, counts["2026-03-10"])
	assert.Equal(t, 3000, counts["2026-03-09"])

	// No temp file left behind after a successful replace.
	_, err = os.Stat(store.Path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileCounterStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := FileCounterStore{Path: path}.Load()
	assert.Error(t, err)
}

func TestFileMappingStoreRoundTrip(t *testing.T) {
	store := FileMappingStore{Path: filepath.Join(t.TempDir(), "mappings.json")}
	placed := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(map[int64]Mapping{
		1001: {Symbol: "INFY", SignalID: "a1b2c3d4e5", Tag: "scr_a1b2c_2603101504", PlacedAt: placed},
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "INFY", loaded[1001].Symbol)
	assert.True(t, placed.Equal(loaded[1001].PlacedAt))
}

func TestMappingsPersistThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")
	m, err := NewMappings(FileMappingStore{Path: path})
	require.NoError(t, err)

	require.NoError(t, m.Put(1001, Mapping{Symbol: "INFY"}))
	require.NoError(t, m.Put(1002, Mapping{Symbol: "TCS"}))
	require.NoError(t, m.Delete(1001))
	// Deleting an unknown id is a no-op.
	require.NoError(t, m.Delete(9999))

	reloaded, err := NewMappings(FileMappingStore{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Len())
	_, ok := reloaded.Get(1001)
	assert.False(t, ok)
	got, ok := reloaded.Get(1002)
	require.True(t, ok)
	assert.Equal(t, "TCS", got.Symbol)
}
