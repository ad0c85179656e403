// Package async decouples slow event consumers from the engine's
// synchronous emission path.
//
// usage:
//
//	l := async.New(transport.Relay, 1, 1000) // 1 worker; queue 1000 events
//	defer l.Close()
//	sub := eng.On(defcache.EventInvalidate, l.Handle)
//	defer eng.Off(defcache.EventInvalidate, sub)
package async

import (
	"sync"

	"github.com/unkn0wn-root/defcache"
)

// Listener buffers events and delivers them on worker goroutines. When the
// queue is full, events are dropped rather than blocking the engine's hot
// path; consumers needing completeness must size the queue accordingly.
type Listener struct {
	fn   defcache.Handler
	q    chan defcache.Event
	wg   sync.WaitGroup
	once sync.Once
}

func New(fn defcache.Handler, workers, qlen int) *Listener {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	l := &Listener{fn: fn, q: make(chan defcache.Event, qlen)}
	l.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer l.wg.Done()
			for ev := range l.q {
				l.fn(ev)
			}
		}()
	}
	return l
}

// Handle enqueues one event. Register it with Engine.On.
func (l *Listener) Handle(ev defcache.Event) {
	select {
	case l.q <- ev:
	default: // drop
	}
}

// Close drains the queue and stops the workers. Unregister the listener
// from the engine first; Handle after Close panics.
func (l *Listener) Close() {
	l.once.Do(func() {
		close(l.q)
		l.wg.Wait()
	})
}
