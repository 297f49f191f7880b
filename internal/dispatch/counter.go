package dispatch

import (
	"strconv"
	"sync"
	"time"

	"github.com/yanun0323/errors"
)

const counterDateLayout = "2006-01-02"

// DailyCounter is the durable count of successfully dispatched orders per
// calendar date. Increments happen only on the single dispatch consumer,
// so no two increments ever race; reads are safe from any goroutine.
type DailyCounter struct {
	mu     sync.Mutex
	store  CounterStore
	counts map[string]int
	dirty  bool
}

// NewDailyCounter loads existing counts from the store.
func NewDailyCounter(store CounterStore) (*DailyCounter, error) {
	counts, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load order counts")
	}
	if counts == nil {
		counts = make(map[string]int)
	}
	return &DailyCounter{store: store, counts: counts}, nil
}

// CountFor returns the dispatched count for a date.
func (c *DailyCounter) CountFor(date time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[date.Format(counterDateLayout)]
}

// Increment bumps the date's count and flushes it to the store. The
// in-memory count is bumped even when the flush fails, so the quota can
// never over-run; the flush is retried on the next increment.
func (c *DailyCounter) Increment(date time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := date.Format(counterDateLayout)
	c.counts[key]++
	n := c.counts[key]
	if err := c.store.Save(c.counts); err != nil {
		c.dirty = true
		return n, errors.Wrap(err, "flush order count "+strconv.Itoa(n))
	}
	c.dirty = false
	return n, nil
}

// Flush retries a failed save. No-op when the store is up to date.
func (c *DailyCounter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := c.store.Save(c.counts); err != nil {
		return errors.Wrap(err, "flush order counts")
	}
	c.dirty = false
	return nil
}
