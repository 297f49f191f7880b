package dispatch

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/broker"
	"main/internal/registry"
)

func newTestDispatcher(t *testing.T, cfg Config, api broker.API, reg *registry.Registry) *Dispatcher {
	t.Helper()
	dir := t.TempDir()
	counter, err := NewDailyCounter(FileCounterStore{Path: filepath.Join(dir, "counts.json")})
	require.NoError(t, err)
	mappings, err := NewMappings(FileMappingStore{Path: filepath.Join(dir, "mappings.json")})
	require.NoError(t, err)
	return New(cfg, api, reg, counter, mappings)
}

func testRequest(symbol string) Request {
	return Request{
		Symbol:       symbol,
		Exchange:     "NSE",
		Direction:    registry.DirectionShort,
		TriggerPrice: 1565.8,
		TargetPrice:  1573.6,
		Quantity:     10,
		ProductType:  "CNC",
		SignalID:     "a1b2c3d4e5",
		Tag:          "scr_a1b2c_2603101504",
		CreatedAt:    time.Now(),
	}
}

func TestDispatchPlacesAndRecords(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MinInterval: time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))

	require.NoError(t, d.Submit(testRequest("INFY")))
	d.Close()

	in, ok := reg.BySymbol("INFY")
	require.True(t, ok)
	assert.Equal(t, registry.StatusActive, in.OrderStatus)
	assert.NotZero(t, in.OrderID)
	assert.Equal(t, 1, d.TodayCount())
	assert.Equal(t, 1, sim.OrderCount())

	m, ok := d.mappings.Get(in.OrderID)
	require.True(t, ok)
	assert.Equal(t, "INFY", m.Symbol)
	assert.Equal(t, "a1b2c3d4e5", m.SignalID)
}

func TestSubmitBeforeStart(t *testing.T) {
	d := newTestDispatcher(t, Config{}, broker.NewSim(), registry.New())
	assert.ErrorIs(t, d.Submit(testRequest("INFY")), ErrNotStarted)
}

func TestSubmitAfterClose(t *testing.T) {
	d := newTestDispatcher(t, Config{MinInterval: time.Millisecond}, broker.NewSim(), registry.New())
	require.NoError(t, d.Start(t.Context()))
	d.Close()
	assert.ErrorIs(t, d.Submit(testRequest("INFY")), ErrClosed)
}

func TestSubmitRacesClose(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MinInterval: time.Microsecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))

	// Submitters racing Close must see ErrClosed, never a send on the
	// closed channel.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if err := d.Submit(testRequest("INFY")); errors.Is(err, ErrClosed) {
					return
				}
			}
		}()
	}
	d.Close()
	wg.Wait()
	assert.ErrorIs(t, d.Submit(testRequest("INFY")), ErrClosed)
}

func TestDailyQuotaRejectsWithoutCounting(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})
	reg.Upsert(registry.Instrument{Symbol: "TCS", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MaxOrdersPerDay: 1, AlertThreshold: 1, MinInterval: time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))

	require.NoError(t, d.Submit(testRequest("INFY")))
	assert.Eventually(t, func() bool { return d.TodayCount() == 1 }, time.Second, 5*time.Millisecond)

	// The quota-exceeding submission is rejected synchronously and leaves
	// the counter untouched.
	err := d.Submit(testRequest("TCS"))
	assert.ErrorIs(t, err, ErrDailyLimitReached)
	assert.Equal(t, 1, d.TodayCount())
	d.Close()
	assert.Equal(t, 1, sim.OrderCount())
}

func TestConsumerReChecksQuota(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})
	reg.Upsert(registry.Instrument{Symbol: "TCS", Direction: registry.DirectionShort})

	// Both submissions pass the producer-side check before the first one
	// lands; the consumer must still honor the quota.
	d := newTestDispatcher(t, Config{MaxOrdersPerDay: 1, AlertThreshold: 1, MinInterval: 50 * time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))
	require.NoError(t, d.Submit(testRequest("INFY")))
	require.NoError(t, d.Submit(testRequest("TCS")))
	d.Close()

	assert.Equal(t, 1, d.TodayCount())
	assert.Equal(t, 1, sim.OrderCount())
	tcs, ok := reg.BySymbol("TCS")
	require.True(t, ok)
	assert.Equal(t, registry.StatusFailed, tcs.OrderStatus)
}

func TestPlacementFailureDoesNotCount(t *testing.T) {
	sim := broker.NewSim()
	sim.FailPlacement = true
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MinInterval: time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))
	require.NoError(t, d.Submit(testRequest("INFY")))
	d.Close()

	in, _ := reg.BySymbol("INFY")
	assert.Equal(t, registry.StatusFailed, in.OrderStatus)
	assert.Zero(t, in.OrderID)
	assert.Equal(t, 0, d.TodayCount())
	assert.Equal(t, 0, d.mappings.Len())
}

func TestDispatchPacing(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})
	reg.Upsert(registry.Instrument{Symbol: "TCS", Direction: registry.DirectionShort})
	reg.Upsert(registry.Instrument{Symbol: "SBIN", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MinInterval: 30 * time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))

	start := time.Now()
	require.NoError(t, d.Submit(testRequest("INFY")))
	require.NoError(t, d.Submit(testRequest("TCS")))
	require.NoError(t, d.Submit(testRequest("SBIN")))
	d.Close()

	// Three paced calls need at least two full intervals between them.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, 3, sim.OrderCount())
}

func TestVerifyAllConcludesMissingOrders(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})
	reg.Upsert(registry.Instrument{Symbol: "TCS", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MinInterval: time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))
	require.NoError(t, d.Submit(testRequest("INFY")))
	require.NoError(t, d.Submit(testRequest("TCS")))
	d.Close()

	infy, _ := reg.BySymbol("INFY")
	sim.DropOrder(infy.OrderID)

	require.NoError(t, d.VerifyAll(t.Context()))

	infy, _ = reg.BySymbol("INFY")
	assert.Equal(t, registry.StatusConcluded, infy.OrderStatus)
	assert.Zero(t, infy.OrderID)
	tcs, _ := reg.BySymbol("TCS")
	assert.Equal(t, registry.StatusActive, tcs.OrderStatus)
	assert.Equal(t, 1, d.mappings.Len())
}

func TestCancelAll(t *testing.T) {
	sim := broker.NewSim()
	reg := registry.New()
	reg.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionShort})
	reg.Upsert(registry.Instrument{Symbol: "TCS", Direction: registry.DirectionShort})

	d := newTestDispatcher(t, Config{MinInterval: time.Millisecond}, sim, reg)
	require.NoError(t, d.Start(t.Context()))
	require.NoError(t, d.Submit(testRequest("INFY")))
	require.NoError(t, d.Submit(testRequest("TCS")))
	d.Close()

	assert.Equal(t, 2, d.CancelAll(t.Context()))
	assert.Equal(t, 0, sim.OrderCount())
	assert.Equal(t, 0, d.mappings.Len())
	for _, sym := range []string{"INFY", "TCS"} {
		in, _ := reg.BySymbol(sym)
		assert.Equal(t, registry.StatusCancelled, in.OrderStatus)
	}
}

func TestCounterSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store := FileCounterStore{Path: filepath.Join(dir, "counts.json")}
	now := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)

	counter, err := NewDailyCounter(store)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := counter.Increment(now)
		require.NoError(t, err)
	}

	reloaded, err := NewDailyCounter(store)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.CountFor(now))
	assert.Equal(t, 0, reloaded.CountFor(now.AddDate(0, 0, 1)))
}

type failingCounterStore struct {
	counts map[string]int
	fail   bool
}

func (s *failingCounterStore) Load() (map[string]int, error) { return s.counts, nil }

func (s *failingCounterStore) Save(counts map[string]int) error {
	if s.fail {
		return assert.AnError
	}
	s.counts = make(map[string]int, len(counts))
	for k, v := range counts {
		s.counts[k] = v
	}
	return nil
}

func TestCounterQuotaHoldsThroughFlushFailure(t *testing.T) {
	store := &failingCounterStore{fail: true}
	counter, err := NewDailyCounter(store)
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	n, err := counter.Increment(now)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	// The in-memory count moved even though the flush failed.
	assert.Equal(t, 1, counter.CountFor(now))

	store.fail = false
	require.NoError(t, counter.Flush())
	assert.Equal(t, 1, store.counts[now.Format(counterDateLayout)])
	require.NoError(t, counter.Flush())
}
