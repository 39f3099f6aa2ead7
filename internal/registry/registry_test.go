package registry

import "testing"

type fakeChannel struct {
	pushed []any
	closed bool
}

func (f *fakeChannel) Push(v any) error {
	f.pushed = append(f.pushed, v)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRegisterLookupDeregister(t *testing.T) {
	r := New()

	ch := &fakeChannel{}
	if replaced := r.Register(7, ch); replaced != nil {
		t.Fatal("expected no replaced channel on first register")
	}

	got, ok := r.Lookup(7)
	if !ok || got != Channel(ch) {
		t.Fatal("expected lookup to return the registered channel")
	}

	if !r.Deregister(7, ch) {
		t.Fatal("expected deregister to succeed")
	}
	if _, ok := r.Lookup(7); ok {
		t.Fatal("expected no channel after deregister")
	}
}

func TestLastConnectedWins(t *testing.T) {
	r := New()

	old := &fakeChannel{}
	r.Register(7, old)

	replacement := &fakeChannel{}
	replaced := r.Register(7, replacement)
	if replaced != Channel(old) {
		t.Fatal("expected old channel to be returned on replacement")
	}

	got, ok := r.Lookup(7)
	if !ok || got != Channel(replacement) {
		t.Fatal("expected lookup to return the replacement channel")
	}

	// A late close from the displaced connection must not evict the new one.
	if r.Deregister(7, old) {
		t.Fatal("stale deregister must be a no-op")
	}
	if _, ok := r.Lookup(7); !ok {
		t.Fatal("replacement channel should still be registered")
	}
}

func TestNoLookupAfterClose(t *testing.T) {
	r := New()
	ch := &fakeChannel{}
	r.Register(3, ch)
	r.Deregister(3, ch)

	if _, ok := r.Lookup(3); ok {
		t.Fatal("closed user must not be routable")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}
