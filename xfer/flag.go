package xfer

import (
	"context"
	"sync/atomic"
)

// Flag is the receive-complete handshake between the completion callback
// (single writer) and the transfer loop (single reader). It is pending while
// a read is outstanding; the callback clears it, the loop re-arms it.
type Flag struct {
	pending atomic.Bool
	notify  chan struct{} // coalesced wake-up for Wait
}

// NewFlag returns an armed flag.
func NewFlag() *Flag {
	f := &Flag{notify: make(chan struct{}, 1)}
	f.pending.Store(true)
	return f
}

// Clear marks completion. Safe from interrupt context: it never blocks.
func (f *Flag) Clear() {
	f.pending.Store(false)
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Arm marks a new read as outstanding and discards a stale wake-up.
func (f *Flag) Arm() {
	select {
	case <-f.notify:
	default:
	}
	f.pending.Store(true)
}

// Pending reports whether completion is still awaited.
func (f *Flag) Pending() bool { return f.pending.Load() }

// Ready returns a coalesced notification sent by Clear. Callers must
// re-check Pending after waking.
func (f *Flag) Ready() <-chan struct{} { return f.notify }

// Wait blocks until the flag is cleared or ctx is done.
func (f *Flag) Wait(ctx context.Context) error {
	for {
		if !f.pending.Load() {
			return nil
		}
		select {
		case <-f.notify:
			// coalesced; re-check
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
