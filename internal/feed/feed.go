// Package feed absorbs the external tick stream. The feed collaborator
// owns the delivery goroutine and its reconnect behavior; everything here
// must return quickly and never block that goroutine.
package feed

import "context"

// Tick is one instrument price update from the feed.
type Tick struct {
	Token     uint32
	LastPrice float64
}

// Source is the tick stream contract the ingestor consumes.
type Source interface {
	// Start opens the stream.
	Start(ctx context.Context) error
	// Subscribe registers interest in feed tokens. Safe to call again
	// after a reconnect; the ingestor tolerates replayed backlogs.
	Subscribe(ctx context.Context, tokens []uint32) error
	// ObserveTicks delivers decoded tick batches to the handler on the
	// source's goroutine until the context ends or the returned function
	// is called.
	ObserveTicks(ctx context.Context, handler func(ticks []Tick)) (unsubscribe func())
	// Close tears the stream down.
	Close()
}
