// Package schedule drives the pipeline's wall-clock operations: periodic
// verification, time-of-day-anchored cancellations and cleanup, and the
// midnight resets of per-day flags. The queue is in-memory only; after a
// restart every anchor is recomputed from the current clock.
package schedule

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

const defaultPollInterval = 100 * time.Millisecond

// Task is a one-shot or periodic unit of work.
type Task struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration // 0 = one-shot
	Fn       func()

	index int
}

type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].RunAt.Before(h[j].RunAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *taskHeap) Push(x any)         { t := x.(*Task); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler is a minimum-time-ordered task queue evaluated by a polling
// loop. Each due task executes on its own goroutine so a slow task never
// delays detection of the next due task.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	poll  time.Duration
	now   func() time.Time

	started uint32
	wg      sync.WaitGroup
}

// New creates a scheduler with the default 100ms poll interval.
func New() *Scheduler {
	return &Scheduler{poll: defaultPollInterval, now: time.Now}
}

// ScheduleAt enqueues a task for an absolute run time.
func (s *Scheduler) ScheduleAt(id string, runAt time.Time, fn func()) {
	s.push(&Task{ID: id, RunAt: runAt, Fn: fn})
}

// ScheduleAfter enqueues a one-shot task after a delay.
func (s *Scheduler) ScheduleAfter(id string, delay time.Duration, fn func()) {
	s.push(&Task{ID: id, RunAt: s.now().Add(delay), Fn: fn})
}

// SchedulePeriodic enqueues a task that re-arms itself every interval,
// measured from the moment it fires.
func (s *Scheduler) SchedulePeriodic(id string, interval time.Duration, fn func()) {
	s.push(&Task{ID: id, RunAt: s.now().Add(interval), Interval: interval, Fn: fn})
}

// ScheduleDaily anchors a task at a time of day, rebasing to tomorrow when
// today's occurrence has already passed. The task re-arms itself for the
// next day after each firing.
func (s *Scheduler) ScheduleDaily(id string, at TimeOfDay, fn func()) {
	var arm func()
	arm = func() {
		s.push(&Task{ID: id, RunAt: at.Next(s.now()), Fn: func() {
			// Re-arm before the body so a panicking occurrence keeps
			// its anchor for tomorrow.
			arm()
			fn()
		}})
	}
	arm()
}

// ScheduleAtMidnight enqueues a one-shot task at the next midnight.
func (s *Scheduler) ScheduleAtMidnight(id string, fn func()) {
	s.push(&Task{ID: id, RunAt: nextMidnight(s.now()), Fn: fn})
}

// Run polls for due tasks until the context is cancelled, then waits for
// in-flight task goroutines.
func (s *Scheduler) Run(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.runDue()
		}
	}
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) push(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.tasks, t)
}

func (s *Scheduler) runDue() {
	now := s.now()
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 || s.tasks[0].RunAt.After(now) {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.tasks).(*Task)
		if t.Interval > 0 {
			// Periodic tasks re-arm immediately, before the body runs.
			heap.Push(&s.tasks, &Task{ID: t.ID, RunAt: now.Add(t.Interval), Interval: t.Interval, Fn: t.Fn})
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(t *Task) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logs.Errorf("task %s panicked: %+v", t.ID, r)
				}
			}()
			t.Fn()
		}(t)
	}
}

// TimeOfDay is a wall-clock anchor within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

const timeOfDayLayout = "15:04:05"

// ParseTimeOfDay parses an HH:MM:SS anchor.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeOfDayLayout, s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
}

// Next combines the anchor with today's date, rebasing to the same time
// tomorrow when today's occurrence has passed.
func (tod TimeOfDay) Next(now time.Time) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour, tod.Minute, tod.Second, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// Passed reports whether the anchor has already passed within the given day.
func (tod TimeOfDay) Passed(now time.Time) bool {
	target := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour, tod.Minute, tod.Second, 0, now.Location())
	return !now.Before(target)
}

func (tod TimeOfDay) String() string {
	return time.Date(0, 1, 1, tod.Hour, tod.Minute, tod.Second, 0, time.UTC).Format(timeOfDayLayout)
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
