// Package gate implements the rendezvous primitive that synchronizes the
// acceptor's single reader with one peer stream's consumer: a pair of
// edge-triggered, one-shot latched signals used in strict ping-pong.
//
// A capacity-1 buffered channel gives the latch-if-nobody's-waiting,
// collapse-duplicate-signals semantics without a condition variable:
// sending is the signal (non-blocking, so a second signal before anyone
// receives is a no-op), and receiving is the subscription.
package gate

import "context"

// Gate is a pair of one-shot latched signals used in strict ping-pong
// between one producer (the acceptor) and one consumer (a peer stream).
type Gate struct {
	available chan struct{}
	consumed  chan struct{}
}

// New returns an unlatched Gate.
func New() *Gate {
	return &Gate{
		available: make(chan struct{}, 1),
		consumed:  make(chan struct{}, 1),
	}
}

// SignalAvailable wakes a waiter on Available, or latches the signal if
// nobody is waiting yet. Duplicate signals before the next consume collapse
// into one.
func (g *Gate) SignalAvailable() { trySend(g.available) }

// SignalConsumed wakes a waiter on Consumed, or latches the signal.
func (g *Gate) SignalConsumed() { trySend(g.consumed) }

// Available returns the channel a reader selects on to wait for data.
func (g *Gate) Available() <-chan struct{} { return g.available }

// Consumed returns the channel the acceptor selects on to wait for drain.
func (g *Gate) Consumed() <-chan struct{} { return g.consumed }

// WaitAvailable blocks until SignalAvailable has been observed (or was
// already latched), or ctx is done.
func (g *Gate) WaitAvailable(ctx context.Context) error {
	select {
	case <-g.available:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitConsumed blocks until SignalConsumed has been observed (or was
// already latched), or ctx is done.
func (g *Gate) WaitConsumed(ctx context.Context) error {
	select {
	case <-g.consumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func trySend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
