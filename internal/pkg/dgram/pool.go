// Package dgram provides pooled datagram buffers and the single-slot staged
// packet used to hand a received datagram from the acceptor's reader to a
// peer stream's consumer without an intermediate queue.
package dgram

import "sync"

// MaxSize is the largest UDP payload the demultiplexer will stage. It is
// the largest payload a UDP/IPv4 datagram can carry (65535 minus the 20-byte
// IPv4 header and the 8-byte UDP header).
const MaxSize = 65507

// smallSize covers the overwhelming majority of real-world datagrams
// (below the common internet MTU) without touching the large pool.
const smallSize = 1500

var smallPool = sync.Pool{
	New: func() any {
		b := make([]byte, smallSize)
		return &b
	},
}

var largePool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxSize)
		return &b
	},
}

func poolFor(n int) *sync.Pool {
	if n <= smallSize {
		return &smallPool
	}
	return &largePool
}

// Packet is a staged datagram: a pooled buffer plus the valid byte count.
// It is owned by whichever side last received it from Stage/Take until
// Release is called.
type Packet struct {
	buf  *[]byte
	pool *sync.Pool
	n    int
}

// Stage copies src into a freshly borrowed pooled buffer sized to fit it.
func Stage(src []byte) *Packet {
	pool := poolFor(len(src))
	bp := pool.Get().(*[]byte)
	b := *bp
	if cap(b) < len(src) {
		// Oversized datagram beyond the large pool's nominal size; grow ad hoc.
		b = make([]byte, len(src))
	}
	b = b[:len(src)]
	copy(b, src)
	*bp = b
	return &Packet{buf: bp, pool: pool, n: len(src)}
}

// Bytes returns the staged payload. Valid until Release is called.
func (p *Packet) Bytes() []byte {
	if p == nil {
		return nil
	}
	return (*p.buf)[:p.n]
}

// Release returns the underlying buffer to its pool. Safe to call on nil.
func (p *Packet) Release() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Put(p.buf)
	p.pool = nil
}
