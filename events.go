package defcache

import (
	"sync"
	"time"
)

// EventKind identifies the engine mutation an Event describes.
type EventKind int

const (
	EventHit EventKind = iota
	EventMiss
	EventSet
	EventInvalidate
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventHit:
		return "hit"
	case EventMiss:
		return "miss"
	case EventSet:
		return "set"
	case EventInvalidate:
		return "invalidate"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Hit sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Invalidation types.
const (
	InvalidateKey     = "key"
	InvalidateTag     = "tag"
	InvalidatePattern = "pattern"
)

// Error contexts.
const (
	ErrCtxFetch         = "fetch"
	ErrCtxStore         = "store"
	ErrCtxSerialization = "serialization"
)

// Event is emitted synchronously at the point of mutation. Handlers MUST be
// cheap and non-blocking; the engine calls them on hot paths (wrap slow
// consumers with events/async). Field population depends on Kind:
//
//	hit        Key, Source, Latency
//	miss       Key, Latency
//	set        Key, Tags
//	invalidate Type, Target
//	error      Key, Context, Err
type Event struct {
	Kind    EventKind
	At      time.Time
	Key     string
	Source  string
	Type    string
	Target  string
	Tags    []string
	Latency time.Duration
	Context string
	Err     error
}

// Handler consumes events. See Event for the non-blocking contract.
type Handler func(Event)

// Subscription identifies one registered handler for Off.
type Subscription uint64

// eventBus is the in-process publish point. External transports subscribe to
// invalidate events and relay them; the engine knows nothing about them.
type eventBus struct {
	mu   sync.RWMutex
	next Subscription
	subs map[EventKind]map[Subscription]Handler
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[EventKind]map[Subscription]Handler)}
}

func (b *eventBus) on(kind EventKind, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	m, ok := b.subs[kind]
	if !ok {
		m = make(map[Subscription]Handler)
		b.subs[kind] = m
	}
	m[b.next] = h
	return b.next
}

func (b *eventBus) off(kind EventKind, sub Subscription) {
	b.mu.Lock()
	delete(b.subs[kind], sub)
	b.mu.Unlock()
}

// emit invokes every handler for ev.Kind synchronously; invocation order is
// unspecified. Handlers registered or removed during emission do not affect
// the in-flight dispatch.
func (b *eventBus) emit(ev Event) {
	b.mu.RLock()
	m := b.subs[ev.Kind]
	if len(m) == 0 {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(m))
	for _, h := range m {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
