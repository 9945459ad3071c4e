package dgram

import "testing"

func TestStageBytesRoundTrip(t *testing.T) {
	src := []byte("the quick brown fox")
	p := Stage(src)
	defer p.Release()

	if string(p.Bytes()) != string(src) {
		t.Fatalf("got %q, want %q", p.Bytes(), src)
	}

	// Mutating src afterwards must not affect the staged copy.
	src[0] = 'X'
	if p.Bytes()[0] == 'X' {
		t.Fatalf("Stage did not copy its input")
	}
}

func TestStageZeroLength(t *testing.T) {
	p := Stage(nil)
	defer p.Release()
	if len(p.Bytes()) != 0 {
		t.Fatalf("expected zero-length payload, got %d bytes", len(p.Bytes()))
	}
}

func TestStageLargePayload(t *testing.T) {
	src := make([]byte, MaxSize)
	for i := range src {
		src[i] = byte(i)
	}
	p := Stage(src)
	defer p.Release()
	if len(p.Bytes()) != MaxSize {
		t.Fatalf("got %d bytes, want %d", len(p.Bytes()), MaxSize)
	}
	for i, b := range p.Bytes() {
		if b != byte(i) {
			t.Fatalf("byte %d corrupted: got %d want %d", i, b, byte(i))
		}
	}
}

func TestReleaseNilIsSafe(t *testing.T) {
	var p *Packet
	p.Release() // must not panic
}
