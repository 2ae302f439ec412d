// Package cancel provides the cancellation flag observed by the greeter loop.
//
// A Flag starts false and can be set exactly once. There is no way to clear
// it again: once a stop has been requested for a run, it stays requested.
package cancel

import (
	"sync"
	"sync/atomic"
)

// Flag records that a cancellation request was observed.
//
// Implementations must be safe for concurrent use:
//   - Any number of goroutines may call Done() and Wait() concurrently
//   - Cancel() may be called concurrently with Done() and Wait()
type Flag struct {
	done atomic.Bool
	once sync.Once
	ch   chan struct{}
}

// New creates a Flag in the not-cancelled state.
func New() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Done returns true if cancellation has been requested.
//
// This performs a single atomic load, so it is cheap to call on every
// iteration boundary.
func (f *Flag) Done() bool {
	return f.done.Load()
}

// Cancel sets the flag. Safe to call multiple times; only the first call
// has an effect. It reports whether this call performed the transition.
func (f *Flag) Cancel() bool {
	transitioned := false
	f.once.Do(func() {
		f.done.Store(true)
		close(f.ch)
		transitioned = true
	})
	return transitioned
}

// Wait returns a channel that is closed when the flag is set.
func (f *Flag) Wait() <-chan struct{} {
	return f.ch
}
