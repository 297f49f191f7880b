package broker

import (
	"context"
	"sync"
)

// Sim is an in-memory broker used for paper runs and tests. It assigns
// monotonic order ids and keeps placed orders until cancelled or dropped.
type Sim struct {
	mu          sync.Mutex
	nextID      int64
	orders      map[int64]ConditionalOrder
	instruments map[string]InstrumentInfo
	closes      map[string]float64

	// FailPlacement makes every placement fail, for error-path tests.
	FailPlacement bool
}

var _ API = (*Sim)(nil)

// NewSim creates an empty simulated broker.
func NewSim() *Sim {
	return &Sim{
		nextID:      1000,
		orders:      make(map[int64]ConditionalOrder),
		instruments: make(map[string]InstrumentInfo),
		closes:      make(map[string]float64),
	}
}

// AddInstrument registers a resolvable symbol.
func (s *Sim) AddInstrument(symbol string, info InstrumentInfo, lastClose float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[symbol] = info
	s.closes[symbol] = lastClose
}

// DropOrder removes an order without a cancel, simulating broker-side
// execution or expiry.
func (s *Sim) DropOrder(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
}

func (s *Sim) PlaceConditionalOrder(_ context.Context, req OrderRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPlacement {
		return 0, ErrOrderRejected
	}
	s.nextID++
	id := s.nextID
	s.orders[id] = ConditionalOrder{
		ID:           id,
		Symbol:       req.Symbol,
		TriggerPrice: req.TriggerPrice,
		Status:       "active",
	}
	return id, nil
}

func (s *Sim) LiveOrders(_ context.Context) ([]ConditionalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConditionalOrder, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *Sim) CancelOrder(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderID]; !ok {
		return ErrUnknownOrder
	}
	delete(s.orders, orderID)
	return nil
}

func (s *Sim) ResolveInstrument(_ context.Context, symbol string) (InstrumentInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.instruments[symbol]
	if !ok {
		return InstrumentInfo{}, ErrUnknownSymbol
	}
	return info, nil
}

func (s *Sim) LastClose(_ context.Context, symbol, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	close, ok := s.closes[symbol]
	if !ok {
		return 0, ErrUnknownSymbol
	}
	return close, nil
}

// OrderCount returns the number of live orders.
func (s *Sim) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}
