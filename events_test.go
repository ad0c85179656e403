package defcache

import (
	"sync"
	"testing"
)

func TestEventBusRoutesByKind(t *testing.T) {
	b := newEventBus()

	var hits, misses int
	b.on(EventHit, func(Event) { hits++ })
	b.on(EventMiss, func(Event) { misses++ })

	b.emit(Event{Kind: EventHit})
	b.emit(Event{Kind: EventHit})
	b.emit(Event{Kind: EventMiss})
	b.emit(Event{Kind: EventSet}) // no subscriber

	if hits != 2 || misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 2 and 1", hits, misses)
	}
}

func TestEventBusOffRemovesOnlyThatSubscription(t *testing.T) {
	b := newEventBus()

	var a, c int
	subA := b.on(EventSet, func(Event) { a++ })
	b.on(EventSet, func(Event) { c++ })

	b.emit(Event{Kind: EventSet})
	b.off(EventSet, subA)
	b.emit(Event{Kind: EventSet})

	if a != 1 {
		t.Fatalf("removed handler invoked %d times, want 1", a)
	}
	if c != 2 {
		t.Fatalf("remaining handler invoked %d times, want 2", c)
	}
}

func TestEventBusConcurrentEmitAndSubscribe(t *testing.T) {
	b := newEventBus()

	var mu sync.Mutex
	seen := 0
	b.on(EventInvalidate, func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.emit(Event{Kind: EventInvalidate})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.on(EventHit, func(Event) {})
			b.off(EventHit, sub)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen != 800 {
		t.Fatalf("handler invoked %d times, want 800", seen)
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		EventHit:        "hit",
		EventMiss:       "miss",
		EventSet:        "set",
		EventInvalidate: "invalidate",
		EventError:      "error",
		EventKind(42):   "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}
