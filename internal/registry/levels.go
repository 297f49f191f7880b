package registry

import "math"

// LevelConfig tunes how price levels are derived from the previous close.
type LevelConfig struct {
	// TriggerAdjustmentPct tightens the trigger toward the close relative
	// to the buffer, in percent.
	TriggerAdjustmentPct float64
	// OrderPlacementDiffPct offsets the conditional-order trigger relative
	// to the buffer, in percent.
	OrderPlacementDiffPct float64
	// UsePercentage treats the instrument buffer as a percentage of the
	// previous close. When false the instrument's entry price anchors the
	// target instead.
	UsePercentage bool
}

// Levels are the derived price levels for one instrument.
type Levels struct {
	Target       float64
	Trigger      float64
	OrderTrigger float64
}

// ComputeLevels derives target, trigger and conditional-order trigger
// prices from the previous close, direction-dependent, then rounds each to
// the exchange tick.
func ComputeLevels(in Instrument, cfg LevelConfig) Levels {
	prev := in.PreviousClose
	if prev <= 0 {
		return Levels{}
	}

	buffer := in.BufferPct
	absolute := !cfg.UsePercentage && in.EntryPrice > 0
	if absolute {
		// Absolute entry mode: the entry price becomes the target and the
		// buffer is re-expressed as its percentage distance from the close,
		// driving only the trigger and conditional-order levels.
		if in.Direction == DirectionShort {
			buffer = ((in.EntryPrice / prev) - 1) * 100
		} else {
			buffer = ((prev / in.EntryPrice) - 1) * 100
		}
	}

	var lv Levels
	switch in.Direction {
	case DirectionShort:
		lv.Target = prev * (1 + buffer/100)
		lv.Trigger = prev * (1 + (buffer-cfg.TriggerAdjustmentPct)/100)
		lv.OrderTrigger = prev * (1 + (buffer-cfg.OrderPlacementDiffPct)/100)
	case DirectionLong:
		lv.Target = prev * (1 - buffer/100)
		lv.Trigger = prev * (1 - (buffer-cfg.TriggerAdjustmentPct)/100)
		lv.OrderTrigger = prev * (1 - (buffer-cfg.OrderPlacementDiffPct)/100)
	default:
		return Levels{}
	}
	if absolute {
		lv.Target = in.EntryPrice
	}

	lv.Target = roundTick(prev, lv.Target)
	lv.Trigger = roundTick(prev, lv.Trigger)
	lv.OrderTrigger = roundTick(prev, lv.OrderTrigger)
	return lv
}

// SetPreviousClose records a fresh previous close and recomputes the
// derived levels, keeping the invariant that levels always match the close
// they were derived from.
func (r *Registry) SetPreviousClose(symbol string, close float64, cfg LevelConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	in.PreviousClose = close
	lv := ComputeLevels(*in, cfg)
	in.TargetPrice = lv.Target
	in.TriggerPrice = lv.Trigger
	in.OrderTriggerPrice = lv.OrderTrigger
	return true
}

// roundTick snaps a price to the exchange tick: 0.05 for closes at or
// below 800, 0.1 above.
func roundTick(prevClose, price float64) float64 {
	tick := 0.1
	if prevClose <= 800 {
		tick = 0.05
	}
	return math.Round(price/tick) * tick
}
