package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/registry"
)

func newTestScheduler(poll time.Duration) *Scheduler {
	s := New()
	s.poll = poll
	return s
}

func TestOneShotTaskRunsOnce(t *testing.T) {
	s := newTestScheduler(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var runs int64
	s.ScheduleAfter("once", 10*time.Millisecond, func() {
		atomic.AddInt64(&runs, 1)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&runs))
	assert.Zero(t, s.Pending())
}

func TestPeriodicTaskRearms(t *testing.T) {
	s := newTestScheduler(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var runs int64
	s.SchedulePeriodic("tick", 20*time.Millisecond, func() {
		atomic.AddInt64(&runs, 1)
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.Pending(), 1, "periodic task should stay armed")
}

func TestSlowTaskDoesNotBlockNextTask(t *testing.T) {
	s := newTestScheduler(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	var fastRan int64

	s.ScheduleAfter("slow", time.Millisecond, func() {
		close(slowStarted)
		<-release
	})
	s.ScheduleAfter("fast", 10*time.Millisecond, func() {
		atomic.AddInt64(&fastRan, 1)
	})

	<-slowStarted
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fastRan) == 1
	}, time.Second, 5*time.Millisecond)
	close(release)
}

func TestTaskPanicRecovered(t *testing.T) {
	s := newTestScheduler(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	var after int64
	s.ScheduleAfter("boom", time.Millisecond, func() { panic("boom") })
	s.ScheduleAfter("after", 10*time.Millisecond, func() { atomic.AddInt64(&after, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&after) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDailyTaskSurvivesPanic(t *testing.T) {
	s := newTestScheduler(5 * time.Millisecond)
	base := time.Date(2026, 8, 28, 15, 29, 59, 0, time.UTC)
	var clock atomic.Int64
	clock.Store(base.UnixNano())
	s.now = func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	tod, err := ParseTimeOfDay("15:30:00")
	require.NoError(t, err)

	var runs int64
	s.ScheduleDaily("boom", tod, func() {
		if atomic.AddInt64(&runs, 1) == 1 {
			panic("boom")
		}
	})

	clock.Store(base.Add(2 * time.Second).UnixNano())
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 1
	}, time.Second, 5*time.Millisecond)

	// The panicking occurrence keeps its anchor and fires again tomorrow.
	require.Eventually(t, func() bool {
		return s.Pending() == 1
	}, time.Second, 5*time.Millisecond)

	clock.Store(base.AddDate(0, 0, 1).Add(2 * time.Second).UnixNano())
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestTimeOfDayNextRebasesToTomorrow(t *testing.T) {
	tod, err := ParseTimeOfDay("15:30:00")
	require.NoError(t, err)

	morning := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	next := tod.Next(morning)
	assert.Equal(t, time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC), next)
	assert.False(t, tod.Passed(morning))

	evening := time.Date(2026, 8, 28, 16, 0, 0, 0, time.UTC)
	next = tod.Next(evening)
	assert.Equal(t, time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC), next)
	assert.True(t, tod.Passed(evening))

	// Exactly at the anchor counts as passed and rebases.
	exact := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)
	assert.True(t, tod.Passed(exact))
	assert.Equal(t, time.Date(2026, 8, 29, 15, 30, 0, 0, time.UTC), tod.Next(exact))
}

func TestParseTimeOfDayRejectsGarbage(t *testing.T) {
	_, err := ParseTimeOfDay("25:99")
	assert.Error(t, err)
}

func TestDayFlagKeyedByDate(t *testing.T) {
	var f DayFlag
	today := registry.Date{Year: 2026, Month: 8, Day: 28}
	tomorrow := registry.Date{Year: 2026, Month: 8, Day: 29}

	assert.False(t, f.Passed(today))
	f.MarkPassed(today)
	assert.True(t, f.Passed(today))
	// Yesterday's flag never leaks into the next day.
	assert.False(t, f.Passed(tomorrow))

	f.Reset()
	assert.False(t, f.Passed(today))
}
