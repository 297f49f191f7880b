// Package engine is the composition root: it loads the watchlist, resolves
// instruments against the broker, wires the feed into the evaluator and
// dispatcher, and registers the wall-clock maintenance tasks.
package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/dispatch"
	"main/internal/evaluator"
	"main/internal/feed"
	"main/internal/instruments"
	"main/internal/ops"
	"main/internal/registry"
	"main/internal/schedule"
	"main/pkg/conn"
)

const watchlistSaveGap = 30 * time.Second

// Engine owns the pipeline components and their lifecycles.
type Engine struct {
	cfg ops.Loaded
	reg *registry.Registry
	api broker.API
	src feed.Source

	ig      *feed.Ingestor
	eval    *evaluator.Evaluator
	disp    *dispatch.Dispatcher
	sched   *schedule.Scheduler
	writer  *instruments.Writer
	counter *dispatch.DailyCounter

	intradayPassed *schedule.DayFlag
	expiryPassed   *schedule.DayFlag

	pg          *conn.Client
	lastBatchAt atomic.Int64
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	started uint32
	closed  uint32

	now func() time.Time
}

// New builds an engine from the resolved configuration. The feed source
// may be nil; ticks can then be injected through OnTicks directly.
func New(cfg ops.Loaded, api broker.API, src feed.Source) (*Engine, error) {
	e := &Engine{
		cfg:            cfg,
		reg:            registry.New(),
		api:            api,
		src:            src,
		sched:          schedule.New(),
		writer:         instruments.NewWriter(watchlistSaveGap),
		intradayPassed: &schedule.DayFlag{},
		expiryPassed:   &schedule.DayFlag{},
		now:            time.Now,
	}

	counterStore, mappingStore, err := e.buildStores()
	if err != nil {
		return nil, err
	}
	counter, err := dispatch.NewDailyCounter(counterStore)
	if err != nil {
		return nil, err
	}
	mappings, err := dispatch.NewMappings(mappingStore)
	if err != nil {
		return nil, err
	}
	e.counter = counter
	e.disp = dispatch.New(cfg.Dispatch, api, e.reg, counter, mappings)
	e.ig = feed.NewIngestor(e.reg, feed.Config{
		SignalInterval: cfg.SignalInterval,
		QueueSize:      cfg.FeedQueueSize,
	})
	e.eval = evaluator.New(evaluator.Config{
		ProximityThreshold: cfg.ProximityThreshold,
		IntradayCutoff:     cfg.IntradayCutoff,
		ExpiryCutoff:       cfg.ExpiryTime,
	}, e.reg, e.disp, e.intradayPassed, e.expiryPassed)
	return e, nil
}

func (e *Engine) buildStores() (dispatch.CounterStore, dispatch.MappingStore, error) {
	if e.cfg.PostgresDSN != "" {
		client, err := conn.New(conn.Option{ConnString: e.cfg.PostgresDSN})
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect postgres")
		}
		e.pg = client
		cs, err := dispatch.NewPGCounterStore(client.DB())
		if err != nil {
			return nil, nil, err
		}
		ms, err := dispatch.NewPGMappingStore(client.DB())
		if err != nil {
			return nil, nil, err
		}
		return cs, ms, nil
	}
	return dispatch.FileCounterStore{Path: filepath.Join(e.cfg.StateDir, "order_counts.json")},
		dispatch.FileMappingStore{Path: filepath.Join(e.cfg.StateDir, "order_mappings.json")},
		nil
}

// Registry exposes the instrument registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// OnTicks injects a tick batch, for feeds driven outside the Source
// contract.
func (e *Engine) OnTicks(ticks []feed.Tick) {
	e.ig.OnTicks(ticks)
}

// Start loads the watchlist, connects the feed and launches every
// component goroutine.
func (e *Engine) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&e.started, 0, 1) {
		return nil
	}
	ctx, e.cancel = context.WithCancel(ctx)

	if e.cfg.WatchlistPath != "" {
		if err := e.loadWatchlist(ctx); err != nil {
			return err
		}
	}

	if err := e.disp.Start(ctx); err != nil {
		return err
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.ig.Queue().Run(ctx, func(b bus.Batch) {
			e.lastBatchAt.Store(b.RecvAt.UnixNano())
		})
	}()
	go func() {
		defer e.wg.Done()
		e.eval.Run(ctx, e.ig.Signals())
	}()

	if e.src != nil {
		if err := e.src.Start(ctx); err != nil {
			return errors.Wrap(err, "start feed")
		}
		if tokens := e.reg.Tokens(); len(tokens) > 0 {
			if err := e.src.Subscribe(ctx, tokens); err != nil {
				return errors.Wrap(err, "subscribe feed")
			}
		}
		e.unsubscribe = e.src.ObserveTicks(ctx, e.ig.OnTicks)
		e.ig.SetConnected(true)
	}

	e.registerTasks(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sched.Run(ctx)
	}()

	logs.Infof("engine started with %d instruments, %d orders sent today",
		e.reg.Len(), e.disp.TodayCount())
	return nil
}

// loadWatchlist reads the CSV, resolves tokens and previous closes via the
// broker, and seeds the registry. Unresolvable symbols are excluded.
func (e *Engine) loadWatchlist(ctx context.Context) error {
	ins, err := instruments.Load(e.cfg.WatchlistPath, e.now())
	if err != nil {
		return errors.Wrap(err, "load watchlist")
	}

	loaded := 0
	for _, in := range ins {
		info, err := e.api.ResolveInstrument(ctx, in.Symbol)
		if err != nil {
			logs.Warnf("excluding %s: resolve instrument, err: %+v", in.Symbol, err)
			continue
		}
		in.Token = info.Token
		if in.Exchange == "" {
			in.Exchange = info.Exchange
		}
		e.reg.Upsert(in)

		close, err := e.api.LastClose(ctx, in.Symbol, in.Exchange)
		if err != nil {
			logs.Warnf("previous close for %s unavailable, err: %+v", in.Symbol, err)
		} else {
			e.reg.SetPreviousClose(in.Symbol, close, e.cfg.Levels)
		}
		loaded++
	}
	logs.Infof("loaded %d of %d watchlist instruments", loaded, len(ins))
	return nil
}

func (e *Engine) registerTasks(ctx context.Context) {
	e.sched.SchedulePeriodic("verify-orders", e.cfg.VerifyInterval, func() {
		if err := e.disp.VerifyAll(ctx); err != nil {
			logs.Errorf("verify orders, err: %+v", err)
		}
	})
	e.sched.SchedulePeriodic("flush-watchlist", e.cfg.FlushInterval, func() {
		e.flushWatchlist(false)
		if err := e.counter.Flush(); err != nil {
			logs.Errorf("flush order counts, err: %+v", err)
		}
	})
	e.sched.ScheduleDaily("intraday-cancel", e.cfg.IntradayCutoff, func() {
		e.cancelIntraday(ctx)
	})
	e.sched.ScheduleDaily("expiry-cancel", e.cfg.ExpiryTime, func() {
		e.cancelExpired(ctx)
	})
	e.sched.ScheduleDaily("cleanup", e.cfg.CleanupTime, func() {
		e.cleanup()
	})
	e.scheduleFlagReset()
}

// scheduleFlagReset arms the next midnight reset; each firing re-arms the
// following midnight.
func (e *Engine) scheduleFlagReset() {
	e.sched.ScheduleAtMidnight("reset-day-flags", func() {
		e.intradayPassed.Reset()
		e.expiryPassed.Reset()
		logs.Info("day flags reset for the new trading day")
		e.scheduleFlagReset()
	})
}

// cancelIntraday closes every open intraday order at the intraday cutoff
// and gates further intraday dispatch for the day.
func (e *Engine) cancelIntraday(ctx context.Context) {
	today := registry.DateOf(e.now())
	e.intradayPassed.MarkPassed(today)
	cancelled := 0
	for _, in := range e.reg.OpenOrders() {
		if in.Timeframe != registry.TimeframeIntraday {
			continue
		}
		if err := e.disp.Cancel(ctx, in.OrderID, registry.StatusExpiredIntraday); err != nil {
			logs.Errorf("cancel intraday order %d for %s, err: %+v", in.OrderID, in.Symbol, err)
			continue
		}
		cancelled++
	}
	logs.Infof("intraday cutoff passed, cancelled %d orders", cancelled)
	e.flushWatchlist(true)
}

// cancelExpired closes open orders whose validity ends today at the expiry
// time and gates all further dispatch for the day.
func (e *Engine) cancelExpired(ctx context.Context) {
	today := registry.DateOf(e.now())
	e.expiryPassed.MarkPassed(today)
	cancelled := 0
	for _, in := range e.reg.OpenOrders() {
		if in.ValidityDate.After(today) {
			continue
		}
		if err := e.disp.Cancel(ctx, in.OrderID, registry.StatusExpired); err != nil {
			logs.Errorf("cancel expired order %d for %s, err: %+v", in.OrderID, in.Symbol, err)
			continue
		}
		cancelled++
	}
	logs.Infof("expiry passed, cancelled %d orders", cancelled)
	e.flushWatchlist(true)
}

// cleanup archives instruments whose validity has lapsed.
func (e *Engine) cleanup() {
	removed := e.reg.ArchiveExpired(registry.DateOf(e.now()))
	if len(removed) == 0 {
		return
	}
	if e.cfg.ArchivePath != "" {
		if err := instruments.AppendArchive(e.cfg.ArchivePath, removed); err != nil {
			logs.Errorf("archive %d expired instruments, err: %+v", len(removed), err)
		}
	}
	logs.Infof("archived %d expired instruments", len(removed))
	e.flushWatchlist(true)
}

func (e *Engine) flushWatchlist(force bool) {
	if e.cfg.WatchlistPath == "" {
		return
	}
	rows := e.reg.SnapshotRows()
	var err error
	if force {
		err = e.writer.Force(e.cfg.WatchlistPath, rows)
	} else {
		_, err = e.writer.Save(e.cfg.WatchlistPath, rows)
	}
	if err != nil {
		logs.Errorf("flush watchlist, err: %+v", err)
	}
}

// Close tears the pipeline down: feed first so no new work arrives, then
// the dispatcher drain, then the optional cancel-all, then final flushes.
func (e *Engine) Close(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&e.closed, 0, 1) {
		return
	}

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.src != nil {
		e.src.Close()
	}
	e.ig.Close()
	e.disp.Close()

	if e.cfg.CancelOnShutdown {
		cancelled := e.disp.CancelAll(ctx)
		logs.Infof("cancelled %d open orders on shutdown", cancelled)
	}

	e.flushWatchlist(true)
	if err := e.counter.Flush(); err != nil {
		logs.Errorf("final counter flush, err: %+v", err)
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.pg != nil {
		if err := e.pg.Close(); err != nil {
			logs.Errorf("close postgres, err: %+v", err)
		}
	}
	logs.Info("engine stopped")
}
