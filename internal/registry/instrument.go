package registry

import (
	"strings"
	"time"
)

// Direction is the side of the tracked trade.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionLong
	DirectionShort
)

// ParseDirection maps a watchlist trade-type string to a Direction.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG":
		return DirectionLong, true
	case "SHORT":
		return DirectionShort, true
	default:
		return DirectionUnknown, false
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Timeframe controls which validity cutoff applies to an instrument.
type Timeframe uint8

const (
	TimeframeUnknown Timeframe = iota
	TimeframeIntraday
	TimeframeDaily
	TimeframeWeekly
	TimeframeMonthly
)

// ParseTimeframe maps a watchlist timeframe string to a Timeframe.
// Empty input resolves to Daily, matching the watchlist default.
func ParseTimeframe(s string) (Timeframe, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DAILY":
		return TimeframeDaily, true
	case "INTRADAY":
		return TimeframeIntraday, true
	case "WEEKLY":
		return TimeframeWeekly, true
	case "MONTHLY":
		return TimeframeMonthly, true
	default:
		return TimeframeUnknown, false
	}
}

func (tf Timeframe) String() string {
	switch tf {
	case TimeframeIntraday:
		return "INTRADAY"
	case TimeframeDaily:
		return "DAILY"
	case TimeframeWeekly:
		return "WEEKLY"
	case TimeframeMonthly:
		return "MONTHLY"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus tracks the lifecycle of an instrument's conditional order.
type OrderStatus uint8

const (
	StatusNone OrderStatus = iota
	StatusActive
	StatusFailed
	StatusExpired
	StatusExpiredIntraday
	StatusCancelled
	// StatusConcluded marks an order that disappeared from the broker's
	// live set: it was either executed or expired broker-side.
	StatusConcluded
)

// Terminal reports whether no further transition is expected without a
// fresh dispatch. Only Active is non-terminal.
func (s OrderStatus) Terminal() bool {
	return s != StatusActive
}

func (s OrderStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusFailed:
		return "Failed"
	case StatusExpired:
		return "Expired"
	case StatusExpiredIntraday:
		return "Expired (Intraday)"
	case StatusCancelled:
		return "Cancelled"
	case StatusConcluded:
		return "Executed/Expired"
	default:
		return ""
	}
}

// Date is a calendar date without time-of-day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "02-01-2006"

// ParseDate parses a DD-MM-YYYY watchlist date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// DateOf truncates a time to its calendar date.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Date) After(other Date) bool {
	return other.Before(d)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(dateLayout)
}

// Instrument is the tracked per-symbol trading state. All fields are read
// and written through the Registry only.
type Instrument struct {
	Symbol      string
	Exchange    string
	Token       uint32
	Direction   Direction
	ProductType string

	// Pricing. Zero means not yet known.
	CurrentPrice      float64
	PreviousClose     float64
	TargetPrice       float64
	TriggerPrice      float64
	OrderTriggerPrice float64
	BufferPct         float64
	EntryPrice        float64

	Quantity          int
	RemainingQuantity int

	OrderID     int64
	OrderStatus OrderStatus

	Timeframe    Timeframe
	ValidityDate Date
	SignalDate   Date

	SignalID string
	Strategy string
}

// HasOpenOrder reports whether the instrument holds a non-terminal order.
func (in *Instrument) HasOpenOrder() bool {
	return in.OrderID != 0 && !in.OrderStatus.Terminal()
}
