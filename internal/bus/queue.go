package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull   = errors.New("tick queue full")
	ErrQueueClosed = errors.New("tick queue closed")
)

// Batch is one feed message's worth of symbol prices plus the time it was
// received from the feed.
type Batch struct {
	Prices map[string]float64
	RecvAt time.Time
}

// Queue is a bounded, non-blocking batch queue between the feed ingestor
// and the trigger evaluator.
type Queue struct {
	ch     chan Batch
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Batch, capacity)}
}

// TryPublish enqueues a batch without blocking. The prices are already in
// the registry by the time a batch is published, so a dropped batch delays
// evaluation but never loses price state.
func (q *Queue) TryPublish(b Batch) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new batches.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes batches until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Batch)) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-q.ch:
			if !ok {
				return
			}
			handler(b)
		}
	}
}
