package udpmux

import (
	"context"
	"net"
	"sync"
	"time"
	"weak"

	"udpmux/internal/flog"
	"udpmux/internal/gate"
	"udpmux/internal/pkg/dgram"
	"udpmux/internal/registry"
)

// acceptPollInterval bounds how long a single ReadFromUDP call inside
// Accept can block, so a canceled context is noticed promptly without a
// dedicated unblocking goroutine per call.
const acceptPollInterval = 50 * time.Millisecond

// Acceptor is a lazy sequence of new PeerStream values: each Accept call
// drains exactly as much of the listening socket as needed to either
// yield a brand new peer or observe that none has arrived within ctx's
// lifetime. Dispatch to already-known peers also happens inside Accept,
// so a caller must keep calling Accept in a loop (even after it has all
// the streams it wants) to keep existing peers' data flowing — that's the
// backpressure-to-the-producer tradeoff of not buffering undelivered
// datagrams internally.
type Acceptor struct {
	conn *net.UDPConn
	reg  *registry.Registry
	idle time.Duration

	mu         sync.Mutex // serializes Accept; the acceptor is logically one task
	pendingAck string     // peer awaiting its first consume, set by the previous yield
	closed     bool
}

// Serve binds a UDP socket at bind and returns its Acceptor. idleTimeout of
// zero disables the per-stream watchdog.
func Serve(bind *net.UDPAddr, idleTimeout time.Duration) (*Acceptor, error) {
	conn, err := net.ListenUDP("udp", bind)
	if err != nil {
		return nil, &BindError{Addr: bind, Err: err}
	}
	flog.Infof("udpmux: listening on %s", conn.LocalAddr())
	return &Acceptor{
		conn: conn,
		reg:  registry.New(),
		idle: idleTimeout,
	}, nil
}

// Addr returns the bound local address.
func (a *Acceptor) Addr() net.Addr { return a.conn.LocalAddr() }

// Close shuts down the listening socket, which every stream handed out
// shares: no new peers are accepted, existing ones are never signaled again
// (their reads block until a watchdog or read deadline fires), and their
// writes fail because the socket is closed.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.conn.Close()
}

// Accept runs the acceptor's loop until it yields a new PeerStream, hits a
// fatal error, or ctx is done.
func (a *Acceptor) Accept(ctx context.Context) (*PeerStream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}

	// Step 1: a previously yielded stream's first datagram must actually be
	// read before we resume classifying, otherwise we could hand the same
	// peer a second gate signal before it drained the first.
	if a.pendingAck != "" {
		if e, ok := a.reg.Get(a.pendingAck); ok {
			if err := e.Gate.WaitConsumed(ctx); err != nil {
				return nil, err
			}
		}
		a.pendingAck = ""
	}

	buf := make([]byte, dgram.MaxSize)
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		a.reg.Sweep()

		pollUntil := time.Now().Add(acceptPollInterval)
		if dl, ok := ctx.Deadline(); ok && dl.Before(pollUntil) {
			pollUntil = dl
		}
		a.conn.SetReadDeadline(pollUntil)
		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			flog.Errorf("udpmux: accept: fatal read error: %v", err)
			return nil, &PeekError{Err: err}
		}

		key := addr.String()
		if e, ok := a.reg.Get(key); ok {
			e.Stage(dgram.Stage(buf[:n]))
			e.Gate.SignalAvailable()
			if err := e.Gate.WaitConsumed(ctx); err != nil {
				return nil, err
			}
			continue
		}

		flog.Debugf("udpmux: new peer %s", addr)
		g := gate.New()
		entry := &registry.Entry{Gate: g}
		entry.Stage(dgram.Stage(buf[:n]))
		// Latch Available immediately: the first Read on the new stream
		// must not block waiting for a signal that already happened.
		g.SignalAvailable()
		a.reg.Insert(key, entry)

		peerAddr := *addr
		stream := newPeerStream(a.conn, &peerAddr, entry, weak.Make(a.reg), a.idle)
		a.pendingAck = key
		return stream, nil
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
