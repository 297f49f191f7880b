package feed

import (
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/registry"
)

const (
	defaultSignalInterval = 200 * time.Millisecond
	defaultQueueSize      = 4096
)

// Config tunes the ingestor.
type Config struct {
	// SignalInterval gates evaluation signaling: at most one signal per
	// interval regardless of tick frequency.
	SignalInterval time.Duration
	// QueueSize bounds the batch queue toward the evaluator.
	QueueSize int
}

func (cfg Config) withDefaults() Config {
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = defaultSignalInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return cfg
}

// Ingestor receives tick batches on the feed's goroutine, applies them to
// the registry, and signals the evaluator at a bounded rate. Batch
// application is idempotent, so a backlog replay after reconnect cannot
// corrupt registry state.
type Ingestor struct {
	reg   *registry.Registry
	queue *bus.Queue

	signal     chan struct{}
	interval   time.Duration
	lastSignal atomic.Int64 // unix nanos

	connected atomic.Bool

	now func() time.Time
}

// NewIngestor creates an ingestor over the registry.
func NewIngestor(reg *registry.Registry, cfg Config) *Ingestor {
	cfg = cfg.withDefaults()
	return &Ingestor{
		reg:      reg,
		queue:    bus.NewQueue(cfg.QueueSize),
		signal:   make(chan struct{}, 1),
		interval: cfg.SignalInterval,
		now:      time.Now,
	}
}

// OnTicks handles one inbound feed batch. It runs on the feed's delivery
// goroutine and does only map lookups, one registry batch write, and two
// non-blocking channel operations.
func (ig *Ingestor) OnTicks(ticks []Tick) {
	if len(ticks) == 0 {
		return
	}

	prices := make(map[string]float64, len(ticks))
	unknown := 0
	for _, t := range ticks {
		if t.LastPrice <= 0 {
			continue
		}
		symbol, ok := ig.reg.SymbolForToken(t.Token)
		if !ok {
			unknown++
			continue
		}
		prices[symbol] = t.LastPrice
	}
	if unknown > 0 {
		obs.UnknownTokens.Add(float64(unknown))
		logs.Warnf("dropped %d ticks with unknown tokens", unknown)
	}
	if len(prices) == 0 {
		return
	}

	now := ig.now()
	ig.reg.UpdatePricesBatch(prices)
	obs.TickBatches.Inc()

	if err := ig.queue.TryPublish(bus.Batch{Prices: prices, RecvAt: now}); err != nil {
		obs.QueueDrops.Inc()
	}

	last := ig.lastSignal.Load()
	if now.UnixNano()-last < int64(ig.interval) {
		return
	}
	if !ig.lastSignal.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	select {
	case ig.signal <- struct{}{}:
	default:
	}
}

// Signals is the rate-limited evaluation trigger.
func (ig *Ingestor) Signals() <-chan struct{} {
	return ig.signal
}

// Queue exposes the batch queue for consumers that want per-batch data.
func (ig *Ingestor) Queue() *bus.Queue {
	return ig.queue
}

// SetConnected records feed connectivity, surfaced in the status snapshot.
func (ig *Ingestor) SetConnected(connected bool) {
	ig.connected.Store(connected)
	if connected {
		obs.FeedConnected.Set(1)
		logs.Info("feed connected")
	} else {
		obs.FeedConnected.Set(0)
		logs.Warn("feed disconnected")
	}
}

// Connected reports the last known feed connectivity.
func (ig *Ingestor) Connected() bool {
	return ig.connected.Load()
}

// Close stops the batch queue.
func (ig *Ingestor) Close() {
	ig.queue.Close()
}
