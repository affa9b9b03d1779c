// Package sweep implements the periodic maintenance pass over experiments:
// hourly auto-completion of running experiments, daily archival of old
// completed experiments, and the daily read-only summary digest.  The sweep
// itself is a set of plain callbacks; scheduling is delegated to a Clock so
// tests drive the sweep by calling it directly.
package sweep

import (
	"context"
	"time"
)

// Clock schedules recurring callbacks.  Every registered callback runs until
// the provided context is cancelled.
type Clock interface {
	// Every invokes fn once per interval until ctx is done.  Invocations
	// are sequential per registration; a slow callback delays its own next
	// run, never other registrations.
	Every(ctx context.Context, interval time.Duration, fn func(context.Context))
}

// TickerClock is the production Clock, backed by time.Ticker.
type TickerClock struct{}

// NewTickerClock returns a ticker-backed Clock.
func NewTickerClock() *TickerClock { return &TickerClock{} }

// Every runs fn on its own goroutine once per interval until ctx is done.
func (*TickerClock) Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
