// Package registry holds the acceptor's mapping from peer address to that
// peer's IoGate and staged datagram, plus the deferred-deletion queue
// populated by peer streams when they are closed.
//
// The map is owned solely by the acceptor (single writer, single
// goroutine); the deletion queue is the only piece shared with peer
// streams, and carries its own mutex so the hot path never contends with
// it directly.
package registry

import (
	"sync"

	"udpmux/internal/gate"
	"udpmux/internal/pkg/dgram"
)

// Entry is what the registry stores per peer: the rendezvous gate and the
// one datagram currently staged for that peer. Access to Packet is not
// synchronized by a mutex — the gate protocol guarantees the acceptor and
// the peer stream never touch it concurrently (the acceptor only writes
// before signaling Available; the stream only
// reads after observing Available and before signaling Consumed).
type Entry struct {
	Gate *gate.Gate

	packet *dgram.Packet
}

// Stage records the datagram the acceptor just read for this peer. Must
// only be called by the acceptor's single reader, before signaling
// Available.
func (e *Entry) Stage(p *dgram.Packet) { e.packet = p }

// Take removes and returns the staged datagram, or nil if none is staged
// (a spurious wakeup). Must only be called by the peer stream's consumer,
// after observing Available and before signaling Consumed.
func (e *Entry) Take() *dgram.Packet {
	p := e.packet
	e.packet = nil
	return p
}

// Registry maps peer address (net.Addr.String()) to its Entry.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Entry

	delMu   sync.Mutex
	pending map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		peers:   make(map[string]*Entry),
		pending: make(map[string]struct{}),
	}
}

// Insert adds a new peer entry. Callers must not call Insert twice for the
// same address without an intervening Sweep that removed it.
func (r *Registry) Insert(addr string, e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr] = e
}

// Get looks up a peer's entry.
func (r *Registry) Get(addr string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[addr]
	return e, ok
}

// Len reports the number of live peers. Used by tests to assert the
// registry invariant (one entry per live PeerStream).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Delete enqueues addr for removal on the next Sweep. Called by a peer
// stream's Close, possibly long after the registry itself has moved on;
// duplicate enqueues for the same address are harmless.
func (r *Registry) Delete(addr string) {
	r.delMu.Lock()
	defer r.delMu.Unlock()
	r.pending[addr] = struct{}{}
}

// Sweep atomically drains the deletion queue and removes every listed key
// from the live map. It is the only site that ever removes entries, and is
// called by the acceptor at the top of each accept iteration.
func (r *Registry) Sweep() {
	r.delMu.Lock()
	if len(r.pending) == 0 {
		r.delMu.Unlock()
		return
	}
	drained := r.pending
	r.pending = make(map[string]struct{})
	r.delMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for addr := range drained {
		delete(r.peers, addr)
	}
}
