package udpmux

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"udpmux/internal/flog"
	"udpmux/internal/registry"
)

// PeerStream is a reliable, per-peer byte-oriented stream multiplexed out of
// a single UDP listening socket. One Read call returns exactly one
// datagram's payload, preserving UDP framing; Write sends one datagram.
//
// A PeerStream must be consumed by a single logical reader at a time — it
// is not safe for concurrent Read calls from the same peer.
type PeerStream struct {
	conn  *net.UDPConn
	peer  *net.UDPAddr
	entry *registry.Entry

	// registryRef is a weak reference: a PeerStream outliving the acceptor
	// (and its registry) must not keep either alive, and Close on such a
	// stream is a no-op beyond releasing local resources.
	registryRef weak.Pointer[registry.Registry]

	watchdog *time.Ticker // nil when no idle timeout was configured
	activity atomic.Bool

	dead    atomic.Bool
	deadErr atomic.Pointer[error]

	deadlineMu sync.Mutex
	readDL     time.Time
	writeDL    time.Time

	closeOnce sync.Once
}

func newPeerStream(conn *net.UDPConn, peer *net.UDPAddr, entry *registry.Entry, reg weak.Pointer[registry.Registry], idle time.Duration) *PeerStream {
	s := &PeerStream{
		conn:        conn,
		peer:        peer,
		entry:       entry,
		registryRef: reg,
	}
	if idle > 0 {
		s.watchdog = time.NewTicker(idle)
	}
	return s
}

// PeerAddr returns the remote address this stream is bound to.
func (s *PeerStream) PeerAddr() net.Addr { return s.peer }

// Read blocks until the next datagram from this peer arrives, a configured
// idle watchdog fires with no intervening activity, or a read deadline set
// via SetDeadline/SetReadDeadline expires. It returns the datagram's payload
// truncated to len(b), exactly as the kernel would for a short receive
// buffer; the excess bytes are lost per ordinary UDP semantics.
func (s *PeerStream) Read(b []byte) (int, error) {
	if s.dead.Load() {
		return 0, *s.deadErr.Load()
	}

	var deadlineC <-chan time.Time
	if dl := s.readDeadline(); !dl.IsZero() {
		timer := time.NewTimer(time.Until(dl))
		defer timer.Stop()
		deadlineC = timer.C
	}

	for {
		if s.watchdog != nil {
			select {
			case <-s.watchdog.C:
				if s.activity.Swap(false) {
					continue
				}
				err := &TimeoutError{Peer: s.peer}
				s.markDead(err)
				return 0, err
			default:
			}
		}

		var watchdogC <-chan time.Time
		if s.watchdog != nil {
			watchdogC = s.watchdog.C
		}

		select {
		case <-s.entry.Gate.Available():
		case <-watchdogC:
			if s.activity.Swap(false) {
				continue
			}
			err := &TimeoutError{Peer: s.peer}
			s.markDead(err)
			return 0, err
		case <-deadlineC:
			return 0, &deadlineExceededError{peer: s.peer}
		}

		// A wakeup only counts once the staged packet is actually there;
		// spurious wakeups loop back and wait again.
		pkt := s.entry.Take()
		if pkt == nil {
			continue
		}
		n := copy(b, pkt.Bytes())
		pkt.Release()

		s.activity.Store(true)
		s.entry.Gate.SignalConsumed()
		return n, nil
	}
}

// Write sends one datagram of b to the peer. It returns the number of bytes
// the kernel accepted, which equals len(b) on a normal send; a platform
// short-send is treated as success.
func (s *PeerStream) Write(b []byte) (int, error) {
	if dl := s.writeDeadline(); !dl.IsZero() && time.Now().After(dl) {
		return 0, &deadlineExceededError{peer: s.peer}
	}
	n, err := s.conn.WriteToUDP(b, s.peer)
	if err != nil {
		return n, &SendError{Peer: s.peer, Err: err}
	}
	return n, nil
}

// Flush is a no-op beyond what Write already guarantees; UDP has no
// send buffer to drain on this side of the kernel.
func (s *PeerStream) Flush() error { return nil }

// Close performs the drop protocol in order: stop the watchdog, enqueue this
// peer for removal from the registry (if it still exists), and signal
// data_consumed so an acceptor currently waiting on this peer is unblocked. It is idempotent and never panics, including when the acceptor
// (and its registry) is already gone.
func (s *PeerStream) Close() error {
	s.closeOnce.Do(func() {
		if s.watchdog != nil {
			s.watchdog.Stop()
		}
		if reg := s.registryRef.Value(); reg != nil {
			reg.Delete(s.peer.String())
		} else {
			flog.Debugf("udpmux: closing %s after its acceptor is already gone", s.peer)
		}
		s.entry.Gate.SignalConsumed()
	})
	return nil
}

func (s *PeerStream) markDead(err error) {
	if s.dead.CompareAndSwap(false, true) {
		e := error(err)
		s.deadErr.Store(&e)
	}
}

// LocalAddr returns the shared listening socket's local address.
func (s *PeerStream) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr returns the peer's address, satisfying net.Conn.
func (s *PeerStream) RemoteAddr() net.Addr { return s.peer }

// SetDeadline sets both the read and write deadlines.
func (s *PeerStream) SetDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.readDL, s.writeDL = t, t
	s.deadlineMu.Unlock()
	return nil
}

// SetReadDeadline bounds how long Read will wait for the next datagram.
// Unlike the watchdog, an expired read deadline does not kill the stream.
func (s *PeerStream) SetReadDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.readDL = t
	s.deadlineMu.Unlock()
	return nil
}

// SetWriteDeadline bounds Write. Because the listening socket is shared
// across every peer stream, this deadline is enforced in software (a
// before-the-fact check) rather than on the socket itself — calling
// (*net.UDPConn).SetWriteDeadline here would clobber every other peer's
// deadline too. In practice a UDP send essentially never blocks, so this
// only matters for a deadline that has already elapsed.
func (s *PeerStream) SetWriteDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	s.writeDL = t
	s.deadlineMu.Unlock()
	return nil
}

func (s *PeerStream) readDeadline() time.Time {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	return s.readDL
}

func (s *PeerStream) writeDeadline() time.Time {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	return s.writeDL
}
