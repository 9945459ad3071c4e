package udpmux

import (
	"context"
	"net"
	"testing"
	"time"
)

func mustListen(t *testing.T) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return addr
}

func mustAccept(t *testing.T, acc *Acceptor) *PeerStream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := acc.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return s
}

func mustSend(t *testing.T, payload []byte, to net.Addr) *net.UDPConn {
	t.Helper()
	c, err := net.DialUDP("udp", nil, to.(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	return c
}

// S1 — single client, framed reads.
func TestSingleClientFramedReads(t *testing.T) {
	acc, err := Serve(mustListen(t), 0)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer acc.Close()

	client := mustSend(t, []byte("hello"), acc.Addr())
	defer client.Close()

	stream := mustAccept(t, acc)
	defer stream.Close()

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	if err != nil || n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("read 1: n=%d err=%v payload=%q", n, err, buf[:n])
	}

	client.Write([]byte("world"))
	// The acceptor must be polled between reads for the next datagram to
	// be staged.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		acc.Accept(ctx)
	}()
	n, err = stream.Read(buf)
	if err != nil || n != 5 || string(buf[:n]) != "world" {
		t.Fatalf("read 2: n=%d err=%v payload=%q", n, err, buf[:n])
	}

	client.Write([]byte(" test"))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		acc.Accept(ctx)
	}()
	n, err = stream.Read(buf)
	if err != nil || n != 5 || string(buf[:n]) != " test" {
		t.Fatalf("read 3: n=%d err=%v payload=%q", n, err, buf[:n])
	}
}

// S2 — empty acceptor blocks.
func TestEmptyAcceptorBlocks(t *testing.T) {
	acc, err := Serve(mustListen(t), 0)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer acc.Close()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = acc.Accept(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected Accept to time out with no traffic")
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("Accept took %v to respect a 100ms deadline", elapsed)
	}
}

// S3 — two clients interleaved.
func TestTwoClientsInterleaved(t *testing.T) {
	acc, err := Serve(mustListen(t), 0)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer acc.Close()

	clientA := mustSend(t, []byte("aaaaa"), acc.Addr())
	defer clientA.Close()
	clientB := mustSend(t, []byte("bbbbb"), acc.Addr())
	defer clientB.Close()

	streamA := mustAccept(t, acc)
	defer streamA.Close()

	// Accept waits for a newly yielded stream to consume its first datagram
	// before classifying the next one, so streamA is read before streamB is
	// accepted.
	buf := make([]byte, 64)
	n, err := streamA.Read(buf)
	if err != nil || string(buf[:n]) != "aaaaa" {
		t.Fatalf("streamA first read: n=%d err=%v payload=%q", n, err, buf[:n])
	}

	streamB := mustAccept(t, acc)
	defer streamB.Close()

	n, err = streamB.Read(buf)
	if err != nil || string(buf[:n]) != "bbbbb" {
		t.Fatalf("streamB first read: n=%d err=%v payload=%q", n, err, buf[:n])
	}

	driveCtx, stopDrive := context.WithCancel(context.Background())
	defer stopDrive()
	go func() {
		for {
			if _, err := acc.Accept(driveCtx); err != nil {
				return
			}
		}
	}()

	clientA.Write([]byte("ccccc"))
	clientB.Write([]byte("ddddd"))
	clientB.Write([]byte("eeeee"))
	clientA.Write([]byte("fffff"))

	readAndExpect := func(s *PeerStream, want string) {
		t.Helper()
		buf := make([]byte, 64)
		n, err := s.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(buf[:n]) != want {
			t.Fatalf("got %q, want %q", buf[:n], want)
		}
	}

	readAndExpect(streamA, "ccccc")
	readAndExpect(streamB, "ddddd")
	readAndExpect(streamB, "eeeee")
	readAndExpect(streamA, "fffff")
}

// S4 — watchdog.
func TestWatchdogTimeout(t *testing.T) {
	acc, err := Serve(mustListen(t), 300*time.Millisecond)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer acc.Close()

	client := mustSend(t, []byte("hello"), acc.Addr())
	defer client.Close()

	stream := mustAccept(t, acc)
	defer stream.Close()

	buf := make([]byte, 64)
	n, err := stream.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("initial read: n=%d err=%v", n, err)
	}

	_, err = stream.Read(buf)
	if err == nil {
		t.Fatalf("expected a timeout after the idle interval with no traffic")
	}
	var to *TimeoutError
	if !isTimeoutError(err, &to) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}

	// Subsequent reads must keep failing.
	if _, err := stream.Read(buf); err == nil {
		t.Fatalf("expected stream to remain dead after watchdog timeout")
	}
}

func isTimeoutError(err error, out **TimeoutError) bool {
	te, ok := err.(*TimeoutError)
	if ok {
		*out = te
	}
	return ok
}

// S5 — drop reclaims the registry entry.
func TestDropReclaims(t *testing.T) {
	acc, err := Serve(mustListen(t), 0)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer acc.Close()

	client := mustSend(t, []byte("hello"), acc.Addr())
	defer client.Close()

	stream := mustAccept(t, acc)
	buf := make([]byte, 64)
	if _, err := stream.Read(buf); err != nil {
		t.Fatalf("initial read: %v", err)
	}

	if acc.reg.Len() != 1 {
		t.Fatalf("expected 1 registered peer, got %d", acc.reg.Len())
	}

	stream.Close()

	// Sweep happens at the top of the next Accept call.
	client.Write([]byte("again"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := acc.Accept(ctx)
	if err != nil {
		t.Fatalf("accept after drop: %v", err)
	}
	defer second.Close()

	if second == stream {
		t.Fatalf("expected a brand new stream after drop, not the defunct one")
	}
	if acc.reg.Len() != 1 {
		t.Fatalf("expected exactly 1 live peer after drop+resend, got %d", acc.reg.Len())
	}
}
