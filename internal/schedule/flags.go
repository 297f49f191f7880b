package schedule

import (
	"sync"

	"main/internal/registry"
)

// DayFlag is an explicit per-day boolean: "the anchored cutoff has fired
// for this date". The evaluator's validity gate reads it; the anchored
// cancellation tasks set it; a midnight task (or simply a date change)
// clears it. The date key makes a stale value from yesterday harmless.
type DayFlag struct {
	mu     sync.Mutex
	date   registry.Date
	passed bool
}

// MarkPassed records that the cutoff fired for the given date.
func (f *DayFlag) MarkPassed(date registry.Date) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.date = date
	f.passed = true
}

// Passed reports whether the cutoff fired for the given date.
func (f *DayFlag) Passed(date registry.Date) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passed && f.date == date
}

// Reset clears the flag, regardless of date.
func (f *DayFlag) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passed = false
	f.date = registry.Date{}
}
