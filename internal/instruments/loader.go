// Package instruments reads and writes the CSV watchlist that seeds the
// registry and receives its periodic flushes.
package instruments

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/registry"
)

// Watchlist column names. Symbol, buffer and Trade Type are required;
// everything else defaults when absent.
const (
	colSymbol        = "Symbol"
	colBuffer        = "buffer"
	colTradeType     = "Trade Type"
	colExchange      = "Exchange"
	colEntryPrice    = "Entry Price"
	colQuantity      = "Quantity"
	colRemainingQty  = "Remaining Quantity"
	colProductType   = "Product Type"
	colTimeframe     = "Timeframe"
	colStrategy      = "Strategy"
	colSignalDate    = "Signal Date"
	colValidityDate  = "Validity Date"
	colSignalID      = "signal_id"
	colCurrentPrice  = "Current Price"
	colPreviousClose = "Previous Close"
	colTargetPrice   = "Target Price"
	colTriggerPrice  = "Trigger Price"
	colOrderTrigger  = "Order Trigger Price"
	colOrderID       = "Order ID"
	colOrderStatus   = "Order Status"
)

var requiredColumns = []string{colSymbol, colBuffer, colTradeType}

// Load reads a watchlist file into instruments. Rows with an unknown trade
// type or an unparseable buffer are skipped with a warning; missing dates
// default to today and missing signal ids are derived from the row.
func Load(path string, now time.Time) ([]registry.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open watchlist")
	}
	defer f.Close()
	return Read(f, now)
}

// Read parses watchlist CSV content.
func Read(r io.Reader, now time.Time) ([]registry.Instrument, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read watchlist header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("watchlist missing required column %q", name)
		}
	}

	today := registry.DateOf(now)
	var out []registry.Instrument
	for idx := 0; ; idx++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read watchlist row")
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		symbol := field(colSymbol)
		if symbol == "" {
			continue
		}
		dir, ok := registry.ParseDirection(field(colTradeType))
		if !ok {
			logs.Warnf("skipping %s: unknown trade type %q", symbol, field(colTradeType))
			continue
		}
		buffer, err := strconv.ParseFloat(field(colBuffer), 64)
		if err != nil {
			logs.Warnf("skipping %s: bad buffer %q", symbol, field(colBuffer))
			continue
		}

		in := registry.Instrument{
			Symbol:            symbol,
			Exchange:          field(colExchange),
			Direction:         dir,
			BufferPct:         buffer,
			EntryPrice:        parseFloat(field(colEntryPrice)),
			ProductType:       field(colProductType),
			Strategy:          field(colStrategy),
			SignalID:          field(colSignalID),
			CurrentPrice:      parseFloat(field(colCurrentPrice)),
			PreviousClose:     parseFloat(field(colPreviousClose)),
			TargetPrice:       parseFloat(field(colTargetPrice)),
			TriggerPrice:      parseFloat(field(colTriggerPrice)),
			OrderTriggerPrice: parseFloat(field(colOrderTrigger)),
			OrderID:           parseInt(field(colOrderID)),
			OrderStatus:       parseStatus(field(colOrderStatus)),
		}
		if in.ProductType == "" {
			in.ProductType = "CNC"
		}

		in.Quantity = int(parseInt(field(colQuantity)))
		if in.Quantity <= 0 {
			in.Quantity = 1
		}
		in.RemainingQuantity = int(parseInt(field(colRemainingQty)))
		if in.RemainingQuantity <= 0 {
			in.RemainingQuantity = in.Quantity
		}

		in.Timeframe, ok = registry.ParseTimeframe(field(colTimeframe))
		if !ok {
			logs.Warnf("%s has unknown timeframe %q", symbol, field(colTimeframe))
		}

		in.SignalDate = parseDateOr(field(colSignalDate), today, symbol, colSignalDate)
		in.ValidityDate = parseDateOr(field(colValidityDate), today, symbol, colValidityDate)

		if in.SignalID == "" {
			in.SignalID = deriveSignalID(in, idx)
		}
		out = append(out, in)
	}
	return out, nil
}

// deriveSignalID hashes the row's identity into a short stable id. The row
// index keeps two otherwise identical rows distinct.
func deriveSignalID(in registry.Instrument, idx int) string {
	key := fmt.Sprintf("%s_%s_%s_%s_%s_%d_%d",
		in.Symbol, in.Strategy, in.Timeframe, in.Direction, in.SignalDate, in.Quantity, idx)
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:10]
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	// Spreadsheet round-trips turn integers into floats.
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

func parseDateOr(s string, fallback registry.Date, symbol, column string) registry.Date {
	if s == "" {
		return fallback
	}
	d, err := registry.ParseDate(s)
	if err != nil {
		logs.Warnf("%s has bad %s %q, using today", symbol, column, s)
		return fallback
	}
	return d
}

func parseStatus(s string) registry.OrderStatus {
	switch s {
	case "Active":
		return registry.StatusActive
	case "Failed":
		return registry.StatusFailed
	case "Expired":
		return registry.StatusExpired
	case "Expired (Intraday)":
		return registry.StatusExpiredIntraday
	case "Cancelled":
		return registry.StatusCancelled
	case "Executed/Expired":
		return registry.StatusConcluded
	default:
		return registry.StatusNone
	}
}
