package registry

import (
	"testing"

	"udpmux/internal/gate"
	"udpmux/internal/pkg/dgram"
)

func TestInsertGetLen(t *testing.T) {
	r := New()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got len %d", r.Len())
	}

	e := &Entry{Gate: gate.New()}
	r.Insert("1.2.3.4:5", e)

	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
	got, ok := r.Get("1.2.3.4:5")
	if !ok || got != e {
		t.Fatalf("Get did not return the inserted entry")
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatalf("Get found an entry that was never inserted")
	}
}

func TestSweepRemovesOnlyDeletedKeys(t *testing.T) {
	r := New()
	r.Insert("a", &Entry{Gate: gate.New()})
	r.Insert("b", &Entry{Gate: gate.New()})

	r.Delete("a")
	r.Sweep()

	if r.Len() != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", r.Len())
	}
	if _, ok := r.Get("a"); ok {
		t.Fatalf("deleted key 'a' still present after sweep")
	}
	if _, ok := r.Get("b"); !ok {
		t.Fatalf("untouched key 'b' missing after sweep")
	}
}

func TestSweepIsIdempotentWithNoPendingDeletes(t *testing.T) {
	r := New()
	r.Insert("a", &Entry{Gate: gate.New()})
	r.Sweep()
	r.Sweep()
	if r.Len() != 1 {
		t.Fatalf("sweep with nothing queued should not touch live entries")
	}
}

func TestDoubleDeleteIsHarmless(t *testing.T) {
	r := New()
	r.Insert("a", &Entry{Gate: gate.New()})
	r.Delete("a")
	r.Delete("a") // simulate re-drop after the server is already gone
	r.Sweep()
	if r.Len() != 0 {
		t.Fatalf("expected entry removed, got len %d", r.Len())
	}
	r.Sweep() // must not panic on an already-empty pending set
}

func TestEntryStageTake(t *testing.T) {
	e := &Entry{Gate: gate.New()}
	if p := e.Take(); p != nil {
		t.Fatalf("expected nil packet before any Stage")
	}

	p := dgram.Stage([]byte("hello"))
	e.Stage(p)

	got := e.Take()
	if got == nil {
		t.Fatalf("expected staged packet")
	}
	if string(got.Bytes()) != "hello" {
		t.Fatalf("got %q, want %q", got.Bytes(), "hello")
	}
	got.Release()

	if p := e.Take(); p != nil {
		t.Fatalf("expected nil after Take drained the staged packet")
	}
}
