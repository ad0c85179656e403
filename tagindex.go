package defcache

import (
	"context"

	"github.com/unkn0wn-root/defcache/internal/wire"
)

// Tag index: one set of member keys per tag, persisted in the distributed
// store under "tag:<ns>:<tag>". Mutation is read-modify-write serialized by
// tagMu within one engine; across processes the index is NOT linearizable -
// a set racing an invalidateByTag may leave membership in either order. The
// system tolerates transient stale members and prunes them lazily on use.

func (e *Engine) tagKey(tag string) string {
	return "tag:" + e.ns + ":" + tag
}

// tagAdd inserts member into every tag's set, best-effort behind the
// breaker. Unchanged sets only get their retention TTL refreshed.
func (e *Engine) tagAdd(ctx context.Context, tags []string, member string) {
	if len(tags) == 0 {
		return
	}
	e.tagMu.Lock()
	defer e.tagMu.Unlock()

	for _, tag := range tags {
		tk := e.tagKey(tag)
		members := e.readTagSet(ctx, tk)
		if contains(members, member) {
			_ = e.remoteExpire(ctx, tk, e.tagRetention)
			continue
		}
		members = append(members, member)
		raw, err := wire.EncodeTagSet(members)
		if err != nil {
			e.log.Warn("tag add skipped", Fields{"tag": tag, "err": err})
			continue
		}
		if err := e.remoteSet(ctx, tk, raw, e.tagRetention); err != nil {
			e.log.Debug("tag add skipped", Fields{"tag": tag, "err": err})
		}
	}
}

// tagMembers returns the member set for one tag. Corrupt sets are deleted
// (self-heal) and read as empty.
func (e *Engine) tagMembers(ctx context.Context, tag string) []string {
	e.tagMu.Lock()
	defer e.tagMu.Unlock()
	return e.readTagSet(ctx, e.tagKey(tag))
}

// tagRemove drops member from every tag's set. Best-effort: a failed write
// leaves a stale member that the next invalidateByTag skips harmlessly.
func (e *Engine) tagRemove(ctx context.Context, tags []string, member string) {
	if len(tags) == 0 {
		return
	}
	e.tagMu.Lock()
	defer e.tagMu.Unlock()

	for _, tag := range tags {
		tk := e.tagKey(tag)
		members := e.readTagSet(ctx, tk)
		if !contains(members, member) {
			continue
		}
		pruned := members[:0]
		for _, m := range members {
			if m != member {
				pruned = append(pruned, m)
			}
		}
		if len(pruned) == 0 {
			_ = e.remoteDel(ctx, tk)
			continue
		}
		raw, err := wire.EncodeTagSet(pruned)
		if err != nil {
			e.log.Warn("tag remove skipped", Fields{"tag": tag, "err": err})
			continue
		}
		if err := e.remoteSet(ctx, tk, raw, e.tagRetention); err != nil {
			e.log.Debug("tag remove skipped", Fields{"tag": tag, "err": err})
		}
	}
}

func (e *Engine) tagDrop(ctx context.Context, tag string) {
	e.tagMu.Lock()
	_ = e.remoteDel(ctx, e.tagKey(tag))
	e.tagMu.Unlock()
}

// readTagSet must be called with tagMu held.
func (e *Engine) readTagSet(ctx context.Context, storageKey string) []string {
	raw, ok, err := e.remoteGet(ctx, storageKey)
	if err != nil || !ok {
		return nil
	}
	members, derr := wire.DecodeTagSet(raw)
	if derr != nil {
		_ = e.remoteDel(ctx, storageKey) // self-heal corrupt set
		e.log.Debug("dropped corrupt tag set", Fields{"key": storageKey})
		return nil
	}
	return members
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
