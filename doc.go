// Package defcache implements a definition-based cache engine layered over a
// distributed byte store and an optional in-process local store. Callers
// register immutable CacheDefinitions (key function, fetch function, TTL
// policy, tags, cascade targets) and read through them; the engine handles
// request deduplication, stale-while-revalidate background refresh,
// tag/pattern invalidation with single-hop cascades, and a circuit breaker
// that degrades to fetch-only operation when the distributed store is down.
//
// Components:
//   - store.Store: the shared, cross-process byte store (e.g. Redis).
//   - store.Local: optional bounded per-process accelerator (Ristretto, BigCache).
//     Never authoritative for expiry decisions.
//   - codec.Codec[V]: (de)serializes V <-> []byte per definition.
//   - Engine: owns one namespace, the in-flight registries, the tag index
//     and the event bus. Multiple engines with different namespaces coexist.
//
// Keys:
//
//	<ns>:<definition>:<key>  - cache entries
//	tag:<ns>:<tag>           - tag membership sets
//
// Read pattern:
//
//	users, _ := defcache.Define[string, User](eng, defcache.Config[string, User]{
//	    Name:  "user",
//	    Key:   func(id string) string { return id },
//	    Fetch: loadUser,
//	    TTL:   5 * time.Minute,
//	})
//	u, err := users.Get(ctx, "u1") // fetches at most once per key, then cached
//
// Infrastructure failures (store down, serialization, open breaker) are never
// surfaced to callers; only fetch errors and key-function defects propagate.
package defcache
