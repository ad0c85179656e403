package defcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	cd "github.com/unkn0wn-root/defcache/codec"
	"github.com/unkn0wn-root/defcache/internal/wire"
)

// Config declares one cache definition: the contract between a logical name,
// its key/fetch functions and its freshness policy. Created once at startup
// and never mutated. A is the fixed argument type, V the value type.
type Config[A, V any] struct {
	// Required
	Name  string                                // unique within the engine's namespace
	Key   func(A) string                        // pure and deterministic; must not embed non-stable data
	Fetch func(context.Context, A) (V, error)   // origin accessor; may fail

	TTL     time.Duration            // fixed freshness duration; 0 defers to TTLFunc/engine default
	TTLFunc func(A, V) time.Duration // per-entry freshness; wins over TTL when it returns > 0

	// StaleWhileRevalidate extends usability past TTL: stale hits return the
	// old value immediately while one background refresh runs.
	StaleWhileRevalidate time.Duration

	// Tags labels entries for group invalidation via InvalidateByTag.
	Tags func(A, V) []string

	// Cascade names fully-qualified keys of OTHER definitions to evict
	// whenever this entry is written or invalidated. Applied exactly one
	// hop: a cascaded eviction never re-triggers the target's own cascade.
	Cascade func(A, V) []string

	// SlidingWindow makes every fresh hit reset the freshness deadline, so
	// continuously accessed entries never expire naturally. Combine with
	// explicit invalidation if a hard lifetime cap is needed.
	SlidingWindow bool

	// NoDedupe disables suppression of duplicate concurrent fetches.
	NoDedupe bool

	Codec cd.Codec[V] // nil => codec.JSON[V]
}

// Definition is the read/write handle for one registered Config.
type Definition[A, V any] struct {
	eng   *Engine
	cfg   Config[A, V]
	codec cd.Codec[V]
}

// SeedEntry is one pre-warmed entry for Definition.Seed.
type SeedEntry[A, V any] struct {
	Args  A
	Value V
}

// Define registers a definition on the engine. The name must be unique;
// re-registration returns ErrDefinitionExists.
func Define[A, V any](e *Engine, cfg Config[A, V]) (*Definition[A, V], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("defcache: definition name is required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("defcache: definition %q: key function is required", cfg.Name)
	}
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("defcache: definition %q: fetch function is required", cfg.Name)
	}

	e.defMu.Lock()
	defer e.defMu.Unlock()
	if _, ok := e.defs[cfg.Name]; ok {
		return nil, fmt.Errorf("defcache: definition %q: %w", cfg.Name, ErrDefinitionExists)
	}
	e.defs[cfg.Name] = struct{}{}

	d := &Definition[A, V]{eng: e, cfg: cfg, codec: cfg.Codec}
	if d.codec == nil {
		d.codec = cd.JSON[V]{}
	}
	return d, nil
}

// Get returns the cached value for args, fetching from origin on miss.
// Infrastructure failures never surface: with the store down, Get degrades
// to a plain fetch. Fetch errors propagate to the caller and every
// deduplicated waiter; nothing is cached for a failed fetch.
func (d *Definition[A, V]) Get(ctx context.Context, args A) (V, error) {
	var zero V
	if d.eng.isClosed() {
		return zero, ErrClosed
	}
	full, err := d.fullKey(args)
	if err != nil {
		return zero, err
	}

	if d.cfg.NoDedupe {
		return d.load(ctx, args, full)
	}

	c, owner := d.eng.flight.join(full)
	if !owner {
		<-c.done
		if c.err != nil {
			return zero, c.err
		}
		return c.val.(V), nil
	}

	return d.loadOwned(ctx, args, full)
}

// loadOwned runs load while holding the in-flight slot. The slot release is
// deferred so a panicking fetch or user callback cannot strand waiters on a
// slot that is never finished; the panic is delivered to the owner and every
// waiter as an error.
func (d *Definition[A, V]) loadOwned(ctx context.Context, args A, full string) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v = zero
			err = fmt.Errorf("defcache: definition %q: panic during load: %v", d.cfg.Name, r)
		}
		d.eng.flight.finish(full, v, err)
	}()
	return d.load(ctx, args, full)
}

// GetMany resolves argsList in order, reusing cached entries and the
// in-flight registry per key. The first error aborts the batch.
func (d *Definition[A, V]) GetMany(ctx context.Context, argsList []A) ([]V, error) {
	out := make([]V, len(argsList))
	for i, args := range argsList {
		v, err := d.Get(ctx, args)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Set writes value without consulting the origin. The full write path
// applies: TTL policy, tag indexing, one-hop cascade, set event.
func (d *Definition[A, V]) Set(ctx context.Context, args A, value V) error {
	if d.eng.isClosed() {
		return ErrClosed
	}
	full, err := d.fullKey(args)
	if err != nil {
		return err
	}
	d.persist(ctx, args, full, value)
	return nil
}

// Delete evicts the entry for args from both stores, with tag cleanup and
// the entry's one-hop cascade.
func (d *Definition[A, V]) Delete(ctx context.Context, args A) error {
	if d.eng.isClosed() {
		return ErrClosed
	}
	full, err := d.fullKey(args)
	if err != nil {
		return err
	}
	d.eng.deleteKey(ctx, full, true)
	d.eng.bus.emit(Event{Kind: EventInvalidate, At: d.eng.now(), Type: InvalidateKey, Target: full})
	return nil
}

// Seed warms the cache without fetching. Each entry goes through the full
// write path (TTL, tags, cascade, events).
func (d *Definition[A, V]) Seed(ctx context.Context, entries []SeedEntry[A, V]) error {
	for _, s := range entries {
		if err := d.Set(ctx, s.Args, s.Value); err != nil {
			return err
		}
	}
	return nil
}

// load runs the full read path for one key: local store, then remote store
// behind the breaker, then origin fetch. Exactly one goroutine runs load per
// key when dedupe is on.
func (d *Definition[A, V]) load(ctx context.Context, args A, full string) (V, error) {
	var zero V
	e := d.eng
	start := e.now()

	// Local store serves fresh entries only; deadlines inside the entry are
	// authoritative, the store-level TTL is just a bound.
	if e.local != nil {
		if raw, ok, _ := e.local.Get(ctx, full); ok {
			if ent, derr := wire.DecodeEntry(raw); derr == nil && start.UnixNano() < ent.FreshUntil {
				if v, verr := d.codec.Decode(ent.Payload); verr == nil {
					if d.cfg.SlidingWindow {
						d.touch(ctx, args, full, v, ent)
					}
					e.bus.emit(Event{Kind: EventHit, At: e.now(), Key: full, Source: SourceLocal, Latency: e.now().Sub(start)})
					return v, nil
				}
			}
			_ = e.local.Del(ctx, full) // self-heal corrupt or expired-in-place
		}
	}

	if raw, ok, err := e.remoteGet(ctx, full); err == nil && ok {
		now := e.now().UnixNano()
		ent, derr := wire.DecodeEntry(raw)
		switch {
		case derr != nil:
			_ = e.remoteDel(ctx, full) // self-heal corrupt
		case now < ent.FreshUntil:
			if v, verr := d.codec.Decode(ent.Payload); verr == nil {
				e.localSet(ctx, full, raw, ent.FreshUntil)
				if d.cfg.SlidingWindow {
					d.touch(ctx, args, full, v, ent)
				}
				e.bus.emit(Event{Kind: EventHit, At: e.now(), Key: full, Source: SourceRemote, Latency: e.now().Sub(start)})
				return v, nil
			}
			d.decodeFailure(ctx, full)
		case now < ent.StaleUntil:
			// Stale hit: serve immediately, refresh in the background.
			if v, verr := d.codec.Decode(ent.Payload); verr == nil {
				d.revalidate(ctx, args, full)
				e.bus.emit(Event{Kind: EventHit, At: e.now(), Key: full, Source: SourceRemote, Latency: e.now().Sub(start)})
				return v, nil
			}
			d.decodeFailure(ctx, full)
		}
		// past staleUntil: treat as miss
	}

	v, err := d.cfg.Fetch(ctx, args)
	if err != nil {
		e.bus.emit(Event{Kind: EventError, At: e.now(), Key: full, Context: ErrCtxFetch, Err: err})
		return zero, err
	}
	d.persist(ctx, args, full, v)
	e.bus.emit(Event{Kind: EventMiss, At: e.now(), Key: full, Latency: e.now().Sub(start)})
	return v, nil
}

// persist runs the write path: encode, store remote (stale window TTL) and
// local (fresh window TTL), index tags, apply the one-hop cascade, emit set.
// Store and serialization failures are swallowed; the caller already holds
// the value.
func (d *Definition[A, V]) persist(ctx context.Context, args A, full string, v V) {
	e := d.eng

	ttl := d.ttlFor(args, v)
	now := e.now()
	ent := wire.Entry{
		StoredAt:   now.UnixNano(),
		FreshUntil: now.Add(ttl).UnixNano(),
		StaleUntil: now.Add(ttl + d.cfg.StaleWhileRevalidate).UnixNano(),
	}
	if d.cfg.Tags != nil {
		ent.Tags = d.cfg.Tags(args, v)
	}
	if d.cfg.Cascade != nil {
		ent.Cascade = d.cfg.Cascade(args, v)
	}

	payload, err := d.codec.Encode(v)
	if err != nil {
		e.log.Warn("value encode failed; entry not persisted", Fields{"key": full, "err": err})
		e.bus.emit(Event{Kind: EventError, At: e.now(), Key: full, Context: ErrCtxSerialization, Err: err})
		return
	}
	ent.Payload = payload

	raw, err := wire.EncodeEntry(ent)
	if err != nil {
		e.log.Warn("entry encode failed; entry not persisted", Fields{"key": full, "err": err})
		e.bus.emit(Event{Kind: EventError, At: e.now(), Key: full, Context: ErrCtxSerialization, Err: err})
		return
	}
	_ = e.remoteSet(ctx, full, raw, ttl+d.cfg.StaleWhileRevalidate)
	e.localSet(ctx, full, raw, ent.FreshUntil)
	e.tagAdd(ctx, ent.Tags, full)

	for _, target := range ent.Cascade {
		if target == full {
			continue
		}
		e.deleteKey(ctx, target, false)
	}

	e.bus.emit(Event{Kind: EventSet, At: e.now(), Key: full, Tags: ent.Tags})
}

// touch rewrites the entry's deadlines for sliding-window definitions.
// Best-effort behind the breaker; a failed touch just lets the entry age
// out on its previous schedule.
func (d *Definition[A, V]) touch(ctx context.Context, args A, full string, v V, ent wire.Entry) {
	e := d.eng
	ttl := d.ttlFor(args, v)
	now := e.now()
	ent.FreshUntil = now.Add(ttl).UnixNano()
	ent.StaleUntil = now.Add(ttl + d.cfg.StaleWhileRevalidate).UnixNano()

	raw, err := wire.EncodeEntry(ent)
	if err != nil {
		return
	}
	_ = e.remoteSet(ctx, full, raw, ttl+d.cfg.StaleWhileRevalidate)
	e.localSet(ctx, full, raw, ent.FreshUntil)
}

// revalidate starts one detached background refresh for a stale key, unless
// one is already running. The refresh slot is always released, success or
// failure, so dedup entries cannot get stuck.
func (d *Definition[A, V]) revalidate(ctx context.Context, args A, full string) {
	e := d.eng
	if !e.refresh.begin(full) {
		return
	}
	if !e.refreshAdd() {
		// Close already began; its Wait would not cover this refresh.
		e.refresh.end(full)
		return
	}
	rctx := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()
		defer e.refresh.end(full)

		v, err := d.cfg.Fetch(rctx, args)
		if err != nil {
			e.log.Debug("background refresh failed", Fields{"key": full, "err": err})
			e.bus.emit(Event{Kind: EventError, At: e.now(), Key: full, Context: ErrCtxFetch, Err: err})
			return
		}
		d.persist(rctx, args, full, v)
	}()
}

func (d *Definition[A, V]) decodeFailure(ctx context.Context, full string) {
	e := d.eng
	_ = e.remoteDel(ctx, full) // self-heal undecodable payload
	e.bus.emit(Event{Kind: EventError, At: e.now(), Key: full, Context: ErrCtxSerialization, Err: wire.ErrCorrupt})
}

func (d *Definition[A, V]) ttlFor(args A, v V) time.Duration {
	if d.cfg.TTLFunc != nil {
		if ttl := d.cfg.TTLFunc(args, v); ttl > 0 {
			return ttl
		}
	}
	if d.cfg.TTL > 0 {
		return d.cfg.TTL
	}
	return d.eng.defaultTTL
}

// fullKey computes "<ns>:<name>:<key>". A panicking key function or an empty
// key yields *InvalidKeyError.
func (d *Definition[A, V]) fullKey(args A) (full string, err error) {
	defer func() {
		if r := recover(); r != nil {
			full = ""
			err = &InvalidKeyError{Definition: d.cfg.Name, Cause: fmt.Errorf("key function panicked: %v", r)}
		}
	}()
	k := d.cfg.Key(args)
	if k == "" {
		return "", &InvalidKeyError{Definition: d.cfg.Name, Cause: errors.New("key function returned an empty key")}
	}
	return d.eng.fullKey(d.cfg.Name, k), nil
}
