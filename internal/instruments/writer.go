package instruments

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/registry"
)

var writeHeader = []string{
	colSymbol, colExchange, colTradeType, colBuffer, colEntryPrice,
	colQuantity, colRemainingQty, colProductType, colTimeframe, colStrategy,
	colSignalDate, colValidityDate, colSignalID,
	colCurrentPrice, colPreviousClose, colTargetPrice, colTriggerPrice,
	colOrderTrigger, colOrderID, colOrderStatus,
}

// Writer flushes registry snapshots back to the watchlist file. Saves are
// rate limited so the periodic flush task cannot thrash the disk; Force
// bypasses the limit for shutdown.
type Writer struct {
	mu       sync.Mutex
	minGap   time.Duration
	lastSave map[string]time.Time
	now      func() time.Time
}

// NewWriter creates a writer with the given minimum gap between saves of
// the same path. Zero means no rate limit.
func NewWriter(minGap time.Duration) *Writer {
	return &Writer{
		minGap:   minGap,
		lastSave: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Save writes rows to path with atomic replace semantics. Returns false
// without writing when the path was saved within the rate-limit window.
func (w *Writer) Save(path string, rows []registry.Instrument) (bool, error) {
	return w.save(path, rows, false)
}

// Force writes unconditionally.
func (w *Writer) Force(path string, rows []registry.Instrument) error {
	_, err := w.save(path, rows, true)
	return err
}

func (w *Writer) save(path string, rows []registry.Instrument, force bool) (bool, error) {
	w.mu.Lock()
	now := w.now()
	if !force && w.minGap > 0 {
		if last, ok := w.lastSave[path]; ok && now.Sub(last) < w.minGap {
			w.mu.Unlock()
			logs.Debugf("skipping save for %s, saved %s ago", path, now.Sub(last))
			return false, nil
		}
	}
	// Stamp before writing so concurrent callers back off immediately.
	w.lastSave[path] = now
	w.mu.Unlock()

	if err := writeCSVAtomic(path, rows); err != nil {
		// Let a retry through well before the full window.
		w.mu.Lock()
		w.lastSave[path] = now.Add(5 * time.Second).Add(-w.minGap)
		w.mu.Unlock()
		return false, err
	}
	return true, nil
}

// AppendArchive appends rows to the archive file, writing the header when
// the file is new.
func AppendArchive(path string, rows []registry.Instrument) error {
	if len(rows) == 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create archive dir")
		}
	}
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if fresh {
		if err := cw.Write(writeHeader); err != nil {
			return errors.Wrap(err, "write archive header")
		}
	}
	for _, row := range rows {
		if err := cw.Write(record(row)); err != nil {
			return errors.Wrap(err, "write archive row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush archive")
}

func writeCSVAtomic(path string, rows []registry.Instrument) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create watchlist dir")
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create "+tmp)
	}

	cw := csv.NewWriter(f)
	writeErr := cw.Write(writeHeader)
	for _, row := range rows {
		if writeErr != nil {
			break
		}
		writeErr = cw.Write(record(row))
	}
	cw.Flush()
	if writeErr == nil {
		writeErr = cw.Error()
	}
	if err := f.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		os.Remove(tmp)
		return errors.Wrap(writeErr, "write "+tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace "+path)
	}
	return nil
}

// record serializes one instrument in writeHeader column order.
func record(in registry.Instrument) []string {
	return []string{
		in.Symbol,
		in.Exchange,
		in.Direction.String(),
		strconv.FormatFloat(in.BufferPct, 'f', -1, 64),
		formatFloat(in.EntryPrice),
		strconv.Itoa(in.Quantity),
		strconv.Itoa(in.RemainingQuantity),
		in.ProductType,
		in.Timeframe.String(),
		in.Strategy,
		in.SignalDate.String(),
		in.ValidityDate.String(),
		in.SignalID,
		formatFloat(in.CurrentPrice),
		formatFloat(in.PreviousClose),
		formatFloat(in.TargetPrice),
		formatFloat(in.TriggerPrice),
		formatFloat(in.OrderTriggerPrice),
		formatInt(in.OrderID),
		in.OrderStatus.String(),
	}
}

func formatFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInt(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
