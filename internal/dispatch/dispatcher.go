package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/obs"
	"main/internal/registry"
)

var (
	ErrDailyLimitReached = errors.New("daily order limit reached")
	ErrQueueFull         = errors.New("dispatch queue full")
	ErrClosed            = errors.New("dispatcher closed")
	ErrNotStarted        = errors.New("dispatcher not started")
)

// Request is an immutable dispatch unit produced by the evaluator.
type Request struct {
	Symbol       string
	Exchange     string
	Direction    registry.Direction
	TriggerPrice float64
	TargetPrice  float64
	Quantity     int
	ProductType  string
	SignalID     string
	Tag          string
	CreatedAt    time.Time
}

// Config tunes the dispatcher.
type Config struct {
	// MaxOrdersPerDay is the hard daily quota.
	MaxOrdersPerDay int
	// AlertThreshold emits a warning once the daily count crosses it.
	AlertThreshold int
	// MinInterval is the pacing floor between consecutive broker calls.
	MinInterval time.Duration
	// QueueSize bounds the submission queue.
	QueueSize int
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxOrdersPerDay <= 0 {
		cfg.MaxOrdersPerDay = 3000
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 2550
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 200 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return cfg
}

// Dispatcher serializes outbound conditional-order placement behind a
// single consumer: one broker call at a time, paced, counted against the
// durable daily quota. It is the only component that mutates an
// instrument's order fields while a request is in flight.
type Dispatcher struct {
	cfg      Config
	api      broker.API
	reg      *registry.Registry
	counter  *DailyCounter
	mappings *Mappings

	ch chan Request
	wg sync.WaitGroup

	// sendMu makes the closed check and the channel send atomic against
	// Close, which closes ch under the same lock.
	sendMu  sync.Mutex
	started uint32
	closed  uint32

	mu          sync.Mutex
	alertedDate string

	now func() time.Time
}

// New creates a dispatcher over the given broker and durable state.
func New(cfg Config, api broker.API, reg *registry.Registry, counter *DailyCounter, mappings *Mappings) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		api:      api,
		reg:      reg,
		counter:  counter,
		mappings: mappings,
		ch:       make(chan Request, cfg.withDefaults().QueueSize),
		now:      time.Now,
	}
}

// Start runs the consumer loop in a new goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&d.started, 0, 1) {
		return nil
	}
	today := d.counter.CountFor(d.now())
	logs.Infof("dispatcher starting with %d orders already sent today (max %d)", today, d.cfg.MaxOrdersPerDay)
	if today >= d.cfg.MaxOrdersPerDay {
		logs.Errorf("daily order limit of %d already reached, no new orders will be placed today", d.cfg.MaxOrdersPerDay)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
	return nil
}

// Close stops accepting submissions and drains queued requests, completing
// any in-progress broker call.
func (d *Dispatcher) Close() {
	d.sendMu.Lock()
	if atomic.CompareAndSwapUint32(&d.closed, 0, 1) {
		close(d.ch)
	}
	d.sendMu.Unlock()
	d.wg.Wait()
}

// Submit queues a request for dispatch. It rejects synchronously when the
// daily quota is exhausted, without touching the counter.
func (d *Dispatcher) Submit(req Request) error {
	if atomic.LoadUint32(&d.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&d.started) == 0 {
		return ErrNotStarted
	}

	now := d.now()
	count := d.counter.CountFor(now)
	if count >= d.cfg.MaxOrdersPerDay {
		d.alertLimitOnce(now)
		obs.OrdersRejected.Inc()
		return ErrDailyLimitReached
	}
	if count >= d.cfg.AlertThreshold {
		logs.Warnf("order count %d approaching daily limit %d", count, d.cfg.MaxOrdersPerDay)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if atomic.LoadUint32(&d.closed) != 0 {
		return ErrClosed
	}
	select {
	case d.ch <- req:
		return nil
	default:
		obs.OrdersRejected.Inc()
		return ErrQueueFull
	}
}

// TodayCount returns the dispatched count for today.
func (d *Dispatcher) TodayCount() int {
	return d.counter.CountFor(d.now())
}

// MaxPerDay returns the configured daily quota.
func (d *Dispatcher) MaxPerDay() int {
	return d.cfg.MaxOrdersPerDay
}

func (d *Dispatcher) run(ctx context.Context) {
	var lastCall time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-d.ch:
			if !ok {
				return
			}
			if wait := d.cfg.MinInterval - d.now().Sub(lastCall); wait > 0 {
				time.Sleep(wait)
			}
			d.process(ctx, req)
			lastCall = d.now()
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, req Request) {
	// The quota is re-checked on the consumer: requests may have been
	// queued past the remaining headroom.
	now := d.now()
	if d.counter.CountFor(now) >= d.cfg.MaxOrdersPerDay {
		d.alertLimitOnce(now)
		obs.OrdersRejected.Inc()
		d.reg.SetOrderStatus(req.Symbol, registry.StatusFailed)
		return
	}

	start := d.now()
	orderID, err := d.api.PlaceConditionalOrder(ctx, broker.OrderRequest{
		Symbol:       req.Symbol,
		Exchange:     req.Exchange,
		Direction:    req.Direction,
		TriggerPrice: req.TriggerPrice,
		TargetPrice:  req.TargetPrice,
		Quantity:     req.Quantity,
		ProductType:  req.ProductType,
		Tag:          req.Tag,
	})
	obs.DispatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		logs.Errorf("place conditional order for %s, err: %+v", req.Symbol, err)
		obs.OrdersFailed.Inc()
		d.reg.SetOrderStatus(req.Symbol, registry.StatusFailed)
		return
	}

	// Durable ordering matters: counter before mapping before the
	// instrument transition, so a crash is always reconcilable.
	count, err := d.counter.Increment(now)
	if err != nil {
		logs.Errorf("persist order count, err: %+v", err)
	}
	if err := d.mappings.Put(orderID, Mapping{
		Symbol:   req.Symbol,
		SignalID: req.SignalID,
		Tag:      req.Tag,
		PlacedAt: now,
	}); err != nil {
		logs.Errorf("persist order mapping %d, err: %+v", orderID, err)
	}
	d.reg.SetOrder(req.Symbol, orderID, registry.StatusActive)
	obs.OrdersPlaced.Inc()
	logs.Infof("conditional order placed for %s, id %d, count %d/%d", req.Symbol, orderID, count, d.cfg.MaxOrdersPerDay)
}

// VerifyAll reconciles registry order state against the broker's live set.
// Instruments holding an order id absent from the live set concluded some
// other way and transition to Executed/Expired.
func (d *Dispatcher) VerifyAll(ctx context.Context) error {
	live, err := d.api.LiveOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "list live orders")
	}
	liveSet := make(map[int64]struct{}, len(live))
	for _, o := range live {
		liveSet[o.ID] = struct{}{}
	}

	for _, in := range d.reg.OpenOrders() {
		if _, ok := liveSet[in.OrderID]; ok {
			continue
		}
		logs.Infof("order %d for %s no longer live, marking concluded", in.OrderID, in.Symbol)
		d.reg.ClearOrder(in.Symbol, registry.StatusConcluded)
		if err := d.mappings.Delete(in.OrderID); err != nil {
			logs.Errorf("drop mapping %d, err: %+v", in.OrderID, err)
		}
	}
	return nil
}

// Cancel best-effort cancels one order, leaving the owning instrument in
// the given terminal status.
func (d *Dispatcher) Cancel(ctx context.Context, orderID int64, status registry.OrderStatus) error {
	in, ok := d.reg.ByOrderID(orderID)
	if !ok {
		return errors.New("no instrument holds order id")
	}
	if err := d.api.CancelOrder(ctx, orderID); err != nil {
		return errors.Wrap(err, "cancel order")
	}
	d.reg.ClearOrder(in.Symbol, status)
	if err := d.mappings.Delete(orderID); err != nil {
		logs.Errorf("drop mapping %d, err: %+v", orderID, err)
	}
	return nil
}

// CancelAll cancels every open order, used by the shutdown flow.
func (d *Dispatcher) CancelAll(ctx context.Context) int {
	cancelled := 0
	for _, in := range d.reg.OpenOrders() {
		if err := d.Cancel(ctx, in.OrderID, registry.StatusCancelled); err != nil {
			logs.Errorf("cancel order %d for %s, err: %+v", in.OrderID, in.Symbol, err)
			continue
		}
		cancelled++
	}
	return cancelled
}

func (d *Dispatcher) alertLimitOnce(now time.Time) {
	key := now.Format(counterDateLayout)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.alertedDate == key {
		return
	}
	d.alertedDate = key
	logs.Errorf("daily order limit of %d reached, rejecting submissions for %s", d.cfg.MaxOrdersPerDay, key)
}
