package defcache

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/defcache/internal/wire"
	"github.com/unkn0wn-root/defcache/store"
)

// Engine owns one namespace over a distributed store and an optional local
// store. Definitions are registered on it once via Define; all reads and
// invalidations flow through the engine. Multiple engines with different
// namespaces coexist safely within one process.
type Engine struct {
	ns           string
	remote       store.Store
	local        store.Local
	log          Logger
	defaultTTL   time.Duration
	tagRetention time.Duration

	brk     *breaker
	bus     *eventBus
	flight  *flightGroup
	refresh *refreshGroup

	tagMu sync.Mutex // serializes tag-index read-modify-write per engine

	defMu sync.Mutex
	defs  map[string]struct{}

	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup // outstanding background refreshes

	nowFunc func() time.Time // for testing; defaults to time.Now
}

// On registers a handler for one event kind. The returned Subscription is
// the token for Off. Handlers run synchronously at the mutation point.
func (e *Engine) On(kind EventKind, h Handler) Subscription {
	return e.bus.on(kind, h)
}

// Off removes a previously registered handler.
func (e *Engine) Off(kind EventKind, sub Subscription) {
	e.bus.off(kind, sub)
}

// BreakerState reports the current circuit breaker state.
func (e *Engine) BreakerState() BreakerState {
	return e.brk.currentState()
}

// Close waits for outstanding background refreshes, then closes the stores.
// Safe to call once; operations after Close return ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil
	}
	e.closed = true
	e.closeMu.Unlock()

	e.wg.Wait()

	var firstErr error
	if e.local != nil {
		if err := e.local.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if err := e.remote.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) isClosed() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closed
}

// refreshAdd registers one background refresh with the close lifecycle.
// The closed re-check happens under closeMu so a refresh can never be added
// after Close's Wait has started; false means the caller must not spawn it.
func (e *Engine) refreshAdd() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// Invalidate removes one fully-qualified key from both stores, cleans its
// tag membership, applies its persisted cascade one hop, and emits an
// invalidate event.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.deleteKey(ctx, key, true)
	e.bus.emit(Event{Kind: EventInvalidate, At: e.now(), Type: InvalidateKey, Target: key})
	return nil
}

// InvalidateByTag evicts every member of the tag's set from both stores and
// drops the set itself. Members referencing already-absent entries are
// skipped without error.
func (e *Engine) InvalidateByTag(ctx context.Context, tag string) error {
	if e.isClosed() {
		return ErrClosed
	}
	members := e.tagMembers(ctx, tag)
	for _, k := range members {
		e.deleteKey(ctx, k, true)
	}
	e.tagDrop(ctx, tag)
	e.bus.emit(Event{Kind: EventInvalidate, At: e.now(), Type: InvalidateTag, Target: tag})
	return nil
}

// InvalidateByPattern evicts every entry of one definition whose key part
// matches the glob pattern (path.Match dialect, same as redis MATCH).
// A malformed pattern is the only reported error; store failures degrade to
// a partial, best-effort sweep.
func (e *Engine) InvalidateByPattern(ctx context.Context, definition, pattern string) error {
	if e.isClosed() {
		return ErrClosed
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}

	prefix := e.ns + ":" + definition + ":"
	keys, err := e.remoteScan(ctx, prefix)
	if err != nil {
		e.log.Warn("pattern scan failed", Fields{"definition": definition, "err": err})
	}
	for _, k := range keys {
		if ok, _ := path.Match(pattern, strings.TrimPrefix(k, prefix)); ok {
			e.deleteKey(ctx, k, true)
		}
	}
	e.bus.emit(Event{
		Kind:   EventInvalidate,
		At:     e.now(),
		Type:   InvalidatePattern,
		Target: definition + ":" + pattern,
	})
	return nil
}

// deleteKey removes one fully-qualified key from both stores. When cascade
// is true the entry's persisted cascade list is applied; cascaded deletions
// run with cascade=false so eviction chains are exactly one hop.
func (e *Engine) deleteKey(ctx context.Context, key string, cascade bool) {
	var ent wire.Entry
	var have bool
	if raw, ok, err := e.remoteGet(ctx, key); err == nil && ok {
		if d, derr := wire.DecodeEntry(raw); derr == nil {
			ent, have = d, true
		}
	}

	_ = e.remoteDel(ctx, key)
	if e.local != nil {
		_ = e.local.Del(ctx, key)
	}

	if !have {
		return
	}
	e.tagRemove(ctx, ent.Tags, key)
	if cascade {
		for _, target := range ent.Cascade {
			if target == key {
				continue
			}
			e.deleteKey(ctx, target, false)
		}
	}
}

// remoteGet routes a distributed-store read through the circuit breaker.
// errCircuitOpen is returned without touching the store or the failure
// counter; real store errors count toward the breaker and emit an error
// event.
func (e *Engine) remoteGet(ctx context.Context, key string) ([]byte, bool, error) {
	if !e.brk.allow() {
		return nil, false, errCircuitOpen
	}
	b, ok, err := e.remote.Get(ctx, key)
	if err != nil {
		e.storeFailure(ctx, key, err)
		return nil, false, err
	}
	e.brk.onSuccess()
	return b, ok, nil
}

func (e *Engine) remoteSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !e.brk.allow() {
		return errCircuitOpen
	}
	if err := e.remote.Set(ctx, key, value, ttl); err != nil {
		e.storeFailure(ctx, key, err)
		return err
	}
	e.brk.onSuccess()
	return nil
}

func (e *Engine) remoteDel(ctx context.Context, key string) error {
	if !e.brk.allow() {
		return errCircuitOpen
	}
	if err := e.remote.Del(ctx, key); err != nil {
		e.storeFailure(ctx, key, err)
		return err
	}
	e.brk.onSuccess()
	return nil
}

func (e *Engine) remoteScan(ctx context.Context, prefix string) ([]string, error) {
	if !e.brk.allow() {
		return nil, errCircuitOpen
	}
	keys, err := e.remote.ScanPrefix(ctx, prefix)
	if err != nil {
		e.storeFailure(ctx, prefix, err)
		return nil, err
	}
	e.brk.onSuccess()
	return keys, nil
}

func (e *Engine) remoteExpire(ctx context.Context, key string, ttl time.Duration) error {
	if !e.brk.allow() {
		return errCircuitOpen
	}
	if err := e.remote.Expire(ctx, key, ttl); err != nil {
		e.storeFailure(ctx, key, err)
		return err
	}
	e.brk.onSuccess()
	return nil
}

func (e *Engine) storeFailure(ctx context.Context, key string, err error) {
	e.brk.onFailure()
	e.log.Warn("store call failed", Fields{"key": key, "err": err})
	e.bus.emit(Event{Kind: EventError, At: e.now(), Key: key, Context: ErrCtxStore, Err: err})
}

// localSet mirrors an encoded entry into the local store. Local lifetime is
// capped at the fresh window: the local store is an accelerator, never the
// authority for staleness, so stale serving always goes through the remote
// path.
func (e *Engine) localSet(ctx context.Context, key string, raw []byte, freshUntil int64) {
	if e.local == nil {
		return
	}
	ttl := time.Duration(freshUntil - e.now().UnixNano())
	if ttl <= 0 {
		return
	}
	_, _ = e.local.Set(ctx, key, raw, int64(len(raw)), ttl)
}

func (e *Engine) fullKey(definition, key string) string {
	return e.ns + ":" + definition + ":" + key
}

func (e *Engine) now() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}
