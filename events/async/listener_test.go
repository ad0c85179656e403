package async

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/defcache"
)

func TestListenerDeliversAllQueuedEvents(t *testing.T) {
	var count atomic.Int32
	l := New(func(defcache.Event) { count.Add(1) }, 2, 64)

	for i := 0; i < 10; i++ {
		l.Handle(defcache.Event{Kind: defcache.EventSet})
	}
	l.Close() // drains before returning

	if n := count.Load(); n != 10 {
		t.Fatalf("delivered %d events, want 10", n)
	}
}

func TestListenerDropsWhenQueueFull(t *testing.T) {
	started := make(chan struct{}, 4)
	gate := make(chan struct{})
	var count atomic.Int32
	l := New(func(defcache.Event) {
		count.Add(1)
		started <- struct{}{}
		<-gate
	}, 1, 1)

	l.Handle(defcache.Event{Kind: defcache.EventHit})
	select {
	case <-started: // worker holds the first event
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first event")
	}

	l.Handle(defcache.Event{Kind: defcache.EventHit}) // fills the queue
	l.Handle(defcache.Event{Kind: defcache.EventHit}) // dropped, must not block

	close(gate)
	l.Close()

	if n := count.Load(); n != 2 {
		t.Fatalf("delivered %d events, want 2 (third dropped)", n)
	}
}

func TestListenerDefaults(t *testing.T) {
	l := New(func(defcache.Event) {}, 0, 0)
	if cap(l.q) != 1024 {
		t.Fatalf("default queue length = %d, want 1024", cap(l.q))
	}
	l.Close()
	l.Close() // idempotent
}
