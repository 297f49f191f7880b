// Package broker defines the outbound brokerage contract the pipeline
// dispatches through. The real HTTP client lives outside this module; the
// pipeline depends only on these request/response shapes.
package broker

import (
	"context"
	"errors"

	"main/internal/registry"
)

var (
	ErrOrderRejected = errors.New("broker rejected conditional order")
	ErrUnknownSymbol = errors.New("broker does not know symbol")
	ErrUnknownOrder  = errors.New("broker does not know order id")
)

// OrderRequest describes one conditional order to be held broker-side and
// activated at the trigger price.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Direction    registry.Direction
	TriggerPrice float64
	TargetPrice  float64
	Quantity     int
	ProductType  string
	Tag          string
}

// ConditionalOrder is the broker's view of a live conditional order.
type ConditionalOrder struct {
	ID           int64
	Symbol       string
	TriggerPrice float64
	Status       string
}

// InstrumentInfo resolves a symbol to its feed token and exchange.
type InstrumentInfo struct {
	Token    uint32
	Exchange string
}

// API is the brokerage surface the pipeline consumes.
type API interface {
	// PlaceConditionalOrder submits one conditional order and returns the
	// broker-assigned id. The implementation must enforce its own timeout
	// and return an error rather than block the dispatch consumer.
	PlaceConditionalOrder(ctx context.Context, req OrderRequest) (int64, error)

	// LiveOrders lists all currently held conditional orders.
	LiveOrders(ctx context.Context) ([]ConditionalOrder, error)

	// CancelOrder removes a conditional order by id.
	CancelOrder(ctx context.Context, orderID int64) error

	// ResolveInstrument looks up the feed token and exchange for a symbol.
	ResolveInstrument(ctx context.Context, symbol string) (InstrumentInfo, error)

	// LastClose returns the previous trading day's closing price.
	LastClose(ctx context.Context, symbol, exchange string) (float64, error)
}
