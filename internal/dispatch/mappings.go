package dispatch

import (
	"strconv"
	"sync"

	"github.com/yanun0323/errors"
)

// Mappings is the durable order-id→instrument recovery table. A crash
// between order placement and mapping persistence is detectable: the
// broker holds an order carrying our tag that no mapping references.
type Mappings struct {
	mu    sync.Mutex
	store MappingStore
	byID  map[int64]Mapping
}

// NewMappings loads existing mappings from the store.
func NewMappings(store MappingStore) (*Mappings, error) {
	byID, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load order mappings")
	}
	if byID == nil {
		byID = make(map[int64]Mapping)
	}
	return &Mappings{store: store, byID: byID}, nil
}

// Put records a mapping and flushes the table.
func (m *Mappings) Put(orderID int64, mapping Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[orderID] = mapping
	if err := m.store.Save(m.byID); err != nil {
		return errors.Wrap(err, "flush order mappings")
	}
	return nil
}

// Delete removes a mapping once its order has concluded.
func (m *Mappings) Delete(orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[orderID]; !ok {
		return nil
	}
	delete(m.byID, orderID)
	if err := m.store.Save(m.byID); err != nil {
		return errors.Wrap(err, "flush order mappings")
	}
	return nil
}

// Get returns the mapping for an order id.
func (m *Mappings) Get(orderID int64) (Mapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.byID[orderID]
	return mapping, ok
}

// Len returns the number of tracked mappings.
func (m *Mappings) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func parseOrderID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func formatOrderID(id int64) string {
	return strconv.FormatInt(id, 10)
}
