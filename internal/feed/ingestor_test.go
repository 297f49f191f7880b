package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	r.Upsert(registry.Instrument{Symbol: "INFY", Direction: registry.DirectionLong})
	r.Upsert(registry.Instrument{Symbol: "TCS", Direction: registry.DirectionShort})
	require.True(t, r.AssignToken("INFY", 101, "NSE"))
	require.True(t, r.AssignToken("TCS", 202, "NSE"))
	return r
}

func TestOnTicksAppliesKnownTokens(t *testing.T) {
	r := newTestRegistry(t)
	ig := NewIngestor(r, Config{})

	ig.OnTicks([]Tick{
		{Token: 101, LastPrice: 1450.5},
		{Token: 202, LastPrice: 3300.0},
		{Token: 999, LastPrice: 12.0}, // unknown, dropped
		{Token: 101, LastPrice: 0},    // no price, dropped
	})

	infy, _ := r.BySymbol("INFY")
	tcs, _ := r.BySymbol("TCS")
	assert.Equal(t, 1450.5, infy.CurrentPrice)
	assert.Equal(t, 3300.0, tcs.CurrentPrice)
}

func TestOnTicksSignalsAtMostOncePerInterval(t *testing.T) {
	r := newTestRegistry(t)
	ig := NewIngestor(r, Config{SignalInterval: time.Hour})

	base := time.Now()
	ig.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		ig.OnTicks([]Tick{{Token: 101, LastPrice: float64(1000 + i)}})
	}

	select {
	case <-ig.Signals():
	default:
		t.Fatal("expected one evaluation signal")
	}
	select {
	case <-ig.Signals():
		t.Fatal("signal gate did not hold within the interval")
	default:
	}

	// Past the interval the gate reopens.
	ig.now = func() time.Time { return base.Add(2 * time.Hour) }
	ig.OnTicks([]Tick{{Token: 101, LastPrice: 1010}})
	select {
	case <-ig.Signals():
	default:
		t.Fatal("expected a signal after the interval elapsed")
	}
}

func TestOnTicksReplayIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ig := NewIngestor(r, Config{})

	batch := []Tick{{Token: 101, LastPrice: 1450.5}}
	ig.OnTicks(batch)
	ig.OnTicks(batch)
	ig.OnTicks(batch)

	infy, _ := r.BySymbol("INFY")
	assert.Equal(t, 1450.5, infy.CurrentPrice)
	assert.Equal(t, 2, r.Len())
}

func TestConnectedStatus(t *testing.T) {
	r := newTestRegistry(t)
	ig := NewIngestor(r, Config{})

	assert.False(t, ig.Connected())
	ig.SetConnected(true)
	assert.True(t, ig.Connected())
	ig.SetConnected(false)
	assert.False(t, ig.Connected())
}

func TestQueueReceivesBatches(t *testing.T) {
	r := newTestRegistry(t)
	ig := NewIngestor(r, Config{QueueSize: 2})

	ig.OnTicks([]Tick{{Token: 101, LastPrice: 1}})
	ig.OnTicks([]Tick{{Token: 101, LastPrice: 2}})
	ig.Close()

	var seen []float64
	ig.Queue().Run(t.Context(), func(b bus.Batch) {
		seen = append(seen, b.Prices["INFY"])
	})
	require.Len(t, seen, 2)
	assert.Equal(t, []float64{1, 2}, seen)
}
