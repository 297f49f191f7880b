// Package evaluator screens the registry after each price signal and turns
// satisfied trigger conditions into dispatch requests. It never touches an
// instrument's order fields; that stays with the dispatcher, so two
// evaluation passes can never both claim "no order yet" and double-fire.
package evaluator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"main/internal/dispatch"
	"main/internal/obs"
	"main/internal/registry"
	"main/internal/schedule"
)

// Submitter is the dispatch surface the evaluator produces into.
type Submitter interface {
	Submit(dispatch.Request) error
}

// Config tunes the evaluator.
type Config struct {
	// ProximityThreshold is the fractional band around the conditional
	// trigger that admits candidates, e.g. 0.99.
	ProximityThreshold float64
	// IntradayCutoff is the time of day after which intraday instruments
	// stop firing.
	IntradayCutoff schedule.TimeOfDay
	// ExpiryCutoff is the conditional-order expiry time applied to
	// daily/weekly/monthly instruments.
	ExpiryCutoff schedule.TimeOfDay
}

// Evaluator consumes evaluation signals and screens the registry.
type Evaluator struct {
	cfg Config
	reg *registry.Registry
	sub Submitter

	// Per-day cutoff flags, set by the scheduler's anchored cancellation
	// tasks and reset at midnight.
	intradayPassed *schedule.DayFlag
	expiryPassed   *schedule.DayFlag

	now func() time.Time
}

// New creates an evaluator over the registry and dispatcher.
func New(cfg Config, reg *registry.Registry, sub Submitter, intradayPassed, expiryPassed *schedule.DayFlag) *Evaluator {
	if cfg.ProximityThreshold <= 0 || cfg.ProximityThreshold >= 1 {
		cfg.ProximityThreshold = 0.99
	}
	return &Evaluator{
		cfg:            cfg,
		reg:            reg,
		sub:            sub,
		intradayPassed: intradayPassed,
		expiryPassed:   expiryPassed,
		now:            time.Now,
	}
}

// Run consumes signals until the context is cancelled.
func (e *Evaluator) Run(ctx context.Context, signals <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			e.Evaluate()
		}
	}
}

// Evaluate runs one screening pass over the registry.
func (e *Evaluator) Evaluate() {
	now := e.now()
	today := registry.DateOf(now)

	candidates := e.reg.Candidates(e.cfg.ProximityThreshold)
	obs.EvalPasses.Inc()
	obs.Candidates.Set(float64(len(candidates)))
	if len(candidates) == 0 {
		return
	}
	logs.Infof("checking %d potential triggers", len(candidates))

	for _, c := range candidates {
		in, ok := e.reg.BySymbol(c.Symbol)
		if !ok {
			continue
		}
		if !e.validForTrading(in, now, today) {
			continue
		}
		if !triggerMet(in.Direction, c.Price, in.OrderTriggerPrice) {
			continue
		}
		// The candidate scan already excludes open orders, but the state
		// may have moved since; re-check before dispatching.
		if in.HasOpenOrder() {
			logs.Infof("skipping %s, already has order with status %s", in.Symbol, in.OrderStatus)
			continue
		}

		logs.Infof("trigger met for %s: price %.2f, conditional trigger %.2f", in.Symbol, c.Price, in.OrderTriggerPrice)
		req := dispatch.Request{
			Symbol:       in.Symbol,
			Exchange:     in.Exchange,
			Direction:    in.Direction,
			TriggerPrice: in.TriggerPrice,
			TargetPrice:  in.TargetPrice,
			Quantity:     in.Quantity,
			ProductType:  in.ProductType,
			SignalID:     in.SignalID,
			Tag:          orderTag(in.SignalID, now),
			CreatedAt:    now,
		}
		if err := e.sub.Submit(req); err != nil {
			logs.Warnf("submit order for %s, err: %+v", in.Symbol, err)
		}
	}
}

// triggerMet is the exact-trigger check. Both comparisons are inclusive:
// equality with the conditional trigger fires.
func triggerMet(dir registry.Direction, price, level float64) bool {
	if level <= 0 {
		return false
	}
	switch dir {
	case registry.DirectionShort:
		return price >= level
	case registry.DirectionLong:
		return price <= level
	default:
		return false
	}
}

// validForTrading applies the per-timeframe validity gate.
func (e *Evaluator) validForTrading(in registry.Instrument, now time.Time, today registry.Date) bool {
	if in.ValidityDate.IsZero() {
		logs.Warnf("%s has no validity date, excluded from evaluation", in.Symbol)
		return false
	}
	if today.After(in.ValidityDate) {
		return false
	}
	if today.Before(in.ValidityDate) {
		return true
	}

	// today == validity date: the time-of-day cutoff decides.
	tf := in.Timeframe
	switch tf {
	case registry.TimeframeIntraday:
		return !e.cfg.IntradayCutoff.Passed(now) && !e.intradayPassed.Passed(today)
	case registry.TimeframeDaily, registry.TimeframeWeekly, registry.TimeframeMonthly:
		return !e.cfg.ExpiryCutoff.Passed(now) && !e.expiryPassed.Passed(today)
	default:
		logs.Warnf("unknown timeframe for %s, using daily rules", in.Symbol)
		return !e.cfg.ExpiryCutoff.Passed(now) && !e.expiryPassed.Passed(today)
	}
}

// orderTag builds the broker idempotency tag, capped at the broker's
// 20-character tag limit.
func orderTag(signalID string, now time.Time) string {
	id := signalID
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 5 {
		id = id[:5]
	}
	tag := "scr_" + id + "_" + now.Format("0601021504")
	if len(tag) > 20 {
		tag = tag[:20]
	}
	return tag
}
