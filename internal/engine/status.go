package engine

import (
	"time"

	"main/internal/registry"
)

// InstrumentStatus is one watchlist row of the dashboard snapshot.
type InstrumentStatus struct {
	Symbol            string  `json:"symbol"`
	Exchange          string  `json:"exchange"`
	Direction         string  `json:"direction"`
	Timeframe         string  `json:"timeframe"`
	CurrentPrice      float64 `json:"currentPrice"`
	PreviousClose     float64 `json:"previousClose"`
	TargetPrice       float64 `json:"targetPrice"`
	TriggerPrice      float64 `json:"triggerPrice"`
	OrderTriggerPrice float64 `json:"orderTriggerPrice"`
	OrderID           int64   `json:"orderId,omitempty"`
	OrderStatus       string  `json:"orderStatus,omitempty"`
	ValidityDate      string  `json:"validityDate"`
}

// Status is a read-only snapshot of the pipeline.
type Status struct {
	Instruments   []InstrumentStatus   `json:"instruments"`
	Candidates    []registry.Candidate `json:"candidates,omitempty"`
	OrdersToday   int                  `json:"ordersToday"`
	MaxPerDay     int                  `json:"maxPerDay"`
	FeedConnected bool                 `json:"feedConnected"`
	LastBatchAt   time.Time            `json:"lastBatchAt,omitempty"`
}

// Status assembles the dashboard snapshot.
func (e *Engine) Status() Status {
	rows := e.reg.SnapshotRows()
	out := Status{
		Instruments:   make([]InstrumentStatus, 0, len(rows)),
		Candidates:    e.reg.Candidates(e.cfg.ProximityThreshold),
		OrdersToday:   e.disp.TodayCount(),
		MaxPerDay:     e.disp.MaxPerDay(),
		FeedConnected: e.ig.Connected(),
	}
	if ns := e.lastBatchAt.Load(); ns > 0 {
		out.LastBatchAt = time.Unix(0, ns)
	}
	for _, in := range rows {
		out.Instruments = append(out.Instruments, InstrumentStatus{
			Symbol:            in.Symbol,
			Exchange:          in.Exchange,
			Direction:         in.Direction.String(),
			Timeframe:         in.Timeframe.String(),
			CurrentPrice:      in.CurrentPrice,
			PreviousClose:     in.PreviousClose,
			TargetPrice:       in.TargetPrice,
			TriggerPrice:      in.TriggerPrice,
			OrderTriggerPrice: in.OrderTriggerPrice,
			OrderID:           in.OrderID,
			OrderStatus:       in.OrderStatus.String(),
			ValidityDate:      in.ValidityDate.String(),
		})
	}
	return out
}
