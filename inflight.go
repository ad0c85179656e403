package defcache

import "sync"

// call is one in-flight foreground fetch. Waiters block on done; val/err are
// written exactly once before done is closed.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// flightGroup deduplicates concurrent foreground fetches per full key.
// At most one outstanding call per key; later callers join and wait.
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*call
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*call)}
}

// join returns the in-flight call for key. The second return is true when the
// caller registered a new call and now owns it: the owner must eventually
// call finish, or every waiter blocks forever.
func (g *flightGroup) join(key string) (*call, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c, false
	}
	c := &call{done: make(chan struct{})}
	g.calls[key] = c
	return c, true
}

// finish publishes the result to all waiters and releases the slot.
func (g *flightGroup) finish(key string, val any, err error) {
	g.mu.Lock()
	c := g.calls[key]
	delete(g.calls, key)
	g.mu.Unlock()
	if c != nil {
		c.val, c.err = val, err
		close(c.done)
	}
}

// refreshGroup marks keys with an outstanding background refresh. It is a
// separate namespace from flightGroup so a storm of concurrent stale hits
// produces exactly one background fetch per stale window.
type refreshGroup struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRefreshGroup() *refreshGroup {
	return &refreshGroup{active: make(map[string]struct{})}
}

// begin claims the refresh slot for key; false means a refresh is already
// running.
func (g *refreshGroup) begin(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.active[key]; ok {
		return false
	}
	g.active[key] = struct{}{}
	return true
}

func (g *refreshGroup) end(key string) {
	g.mu.Lock()
	delete(g.active, key)
	g.mu.Unlock()
}
