package registry

import (
	"sort"
	"sync"

	"github.com/yanun0323/logs"
)

// Candidate is a symbol whose price has entered the proximity band of its
// conditional-order trigger.
type Candidate struct {
	Symbol string
	Price  float64
}

// Registry is the multi-index store of instrument state. It is the only
// structure mutated by more than one pipeline component: the ingestion path
// writes price fields, the dispatch and scheduled flows write order fields,
// and every component reads through it.
type Registry struct {
	mu        sync.RWMutex
	bySymbol  map[string]*Instrument
	byToken   map[uint32]*Instrument
	byOrderID map[int64]*Instrument
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		bySymbol:  make(map[string]*Instrument),
		byToken:   make(map[uint32]*Instrument),
		byOrderID: make(map[int64]*Instrument),
	}
}

// Upsert adds an instrument, replacing any existing entry for the same
// symbol in every index under a single lock.
func (r *Registry) Upsert(in Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySymbol[in.Symbol]; ok {
		if prev.Token != 0 {
			delete(r.byToken, prev.Token)
		}
		if prev.OrderID != 0 {
			delete(r.byOrderID, prev.OrderID)
		}
	}

	stored := in
	r.bySymbol[in.Symbol] = &stored
	if stored.Token != 0 {
		// A token already held by another symbol is evicted from that
		// instrument, so its Token field never outlives the index entry.
		if other, ok := r.byToken[stored.Token]; ok && other.Symbol != stored.Symbol {
			logs.Warnf("token %d reassigned from %s to %s", stored.Token, other.Symbol, stored.Symbol)
			other.Token = 0
		}
		r.byToken[stored.Token] = &stored
	}
	if stored.OrderID != 0 {
		if other, ok := r.byOrderID[stored.OrderID]; ok && other.Symbol != stored.Symbol {
			logs.Warnf("order id %d reassigned from %s to %s", stored.OrderID, other.Symbol, stored.Symbol)
			other.OrderID = 0
		}
		r.byOrderID[stored.OrderID] = &stored
	}
}

// BySymbol returns a copy of the instrument for a symbol.
func (r *Registry) BySymbol(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.bySymbol[symbol]
	if !ok {
		return Instrument{}, false
	}
	return *in, true
}

// ByToken returns a copy of the instrument for a feed token.
func (r *Registry) ByToken(token uint32) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.byToken[token]
	if !ok {
		return Instrument{}, false
	}
	return *in, true
}

// ByOrderID returns a copy of the instrument holding a conditional order id.
func (r *Registry) ByOrderID(orderID int64) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.byOrderID[orderID]
	if !ok {
		return Instrument{}, false
	}
	return *in, true
}

// SymbolForToken resolves a feed token to its symbol.
func (r *Registry) SymbolForToken(token uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.byToken[token]
	if !ok {
		return "", false
	}
	return in.Symbol, true
}

// AssignToken records the resolved feed token and exchange for a symbol.
// Both the token index and the instrument are updated under one lock so no
// lookup observes a half-assigned state.
func (r *Registry) AssignToken(symbol string, token uint32, exchange string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	if in.Token != 0 {
		delete(r.byToken, in.Token)
	}
	in.Token = token
	if exchange != "" {
		in.Exchange = exchange
	}
	if token != 0 {
		if other, ok := r.byToken[token]; ok && other.Symbol != symbol {
			logs.Warnf("token %d reassigned from %s to %s", token, other.Symbol, symbol)
			other.Token = 0
		}
		r.byToken[token] = in
	}
	return true
}

// UpdatePrice sets the last-known price for one symbol.
func (r *Registry) UpdatePrice(symbol string, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in, ok := r.bySymbol[symbol]; ok {
		in.CurrentPrice = price
	}
}

// UpdatePricesBatch applies a feed batch as one visible unit: a concurrent
// scan sees either none or all of the batch. Unknown symbols are ignored,
// which makes replayed batches idempotent.
func (r *Registry) UpdatePricesBatch(prices map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for symbol, price := range prices {
		if in, ok := r.bySymbol[symbol]; ok {
			in.CurrentPrice = price
		}
	}
}

// Candidates scans for instruments whose price has crossed into the
// proximity band of the conditional-order trigger. Instruments holding a
// non-terminal order or missing price data are skipped. The lock is held
// only for the scan; no callback runs under it.
func (r *Registry) Candidates(threshold float64) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Candidate
	for _, in := range r.bySymbol {
		if in.HasOpenOrder() {
			continue
		}
		price, level := in.CurrentPrice, in.OrderTriggerPrice
		if price <= 0 || level <= 0 {
			continue
		}
		switch in.Direction {
		case DirectionShort:
			if price >= level*threshold {
				out = append(out, Candidate{Symbol: in.Symbol, Price: price})
			}
		case DirectionLong:
			if price <= level/threshold {
				out = append(out, Candidate{Symbol: in.Symbol, Price: price})
			}
		}
	}
	return out
}

// SetOrder records a dispatched conditional order against a symbol and
// indexes it for order-id lookups.
func (r *Registry) SetOrder(symbol string, orderID int64, status OrderStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	if in.OrderID != 0 {
		delete(r.byOrderID, in.OrderID)
	}
	in.OrderID = orderID
	in.OrderStatus = status
	if orderID != 0 {
		r.byOrderID[orderID] = in
	}
	return true
}

// SetOrderStatus updates only the order status of a symbol.
func (r *Registry) SetOrderStatus(symbol string, status OrderStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	in.OrderStatus = status
	return true
}

// ClearOrder removes the order id from an instrument, leaving it in the
// given terminal status.
func (r *Registry) ClearOrder(symbol string, status OrderStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	if in.OrderID != 0 {
		delete(r.byOrderID, in.OrderID)
	}
	in.OrderID = 0
	in.OrderStatus = status
	return true
}

// Symbols returns all tracked symbols in stable order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySymbol))
	for sym := range r.bySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Tokens returns all resolved feed tokens.
func (r *Registry) Tokens() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.byToken))
	for token := range r.byToken {
		out = append(out, token)
	}
	return out
}

// Len returns the number of tracked instruments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySymbol)
}

// OpenOrders returns copies of all instruments holding a non-terminal order.
func (r *Registry) OpenOrders() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Instrument
	for _, in := range r.bySymbol {
		if in.HasOpenOrder() {
			out = append(out, *in)
		}
	}
	return out
}

// ArchiveExpired removes instruments whose validity date is before today
// from every index and returns them for archival.
func (r *Registry) ArchiveExpired(today Date) []Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Instrument
	for symbol, in := range r.bySymbol {
		if in.ValidityDate.IsZero() || !in.ValidityDate.Before(today) {
			continue
		}
		removed = append(removed, *in)
		delete(r.bySymbol, symbol)
		if in.Token != 0 {
			delete(r.byToken, in.Token)
		}
		if in.OrderID != 0 {
			delete(r.byOrderID, in.OrderID)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Symbol < removed[j].Symbol })
	return removed
}

// SnapshotRows returns copies of every instrument, sorted by symbol, for
// status reporting and watchlist flushes.
func (r *Registry) SnapshotRows() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instrument, 0, len(r.bySymbol))
	for _, in := range r.bySymbol {
		out = append(out, *in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
