package promevents

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unkn0wn-root/defcache"
	"github.com/unkn0wn-root/defcache/store"
)

type mapStore struct {
	m map[string][]byte
}

var _ store.Store = (*mapStore)(nil)

func (p *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	p.m[key] = value
	return nil
}

func (p *mapStore) Del(_ context.Context, key string) error {
	delete(p.m, key)
	return nil
}

func (p *mapStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range p.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (p *mapStore) Expire(context.Context, string, time.Duration) error { return nil }
func (p *mapStore) Close(context.Context) error                        { return nil }

func newTestEngine(t *testing.T) *defcache.Engine {
	t.Helper()
	e, err := defcache.New(defcache.Options{
		Namespace: "metrics",
		Store:     &mapStore{m: make(map[string][]byte)},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestAttachCountsEngineActivity(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	reg := prometheus.NewRegistry()

	m, err := Attach(e, reg, "test")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	users, err := defcache.Define[string, string](e, defcache.Config[string, string]{
		Name:  "user",
		Key:   func(id string) string { return id },
		Fetch: func(_ context.Context, id string) (string, error) { return "v:" + id, nil },
		TTL:   time.Hour,
	})
	if err != nil {
		t.Fatalf("Define: %v", err)
	}

	if _, err := users.Get(ctx, "u1"); err != nil { // miss + set
		t.Fatalf("Get: %v", err)
	}
	if _, err := users.Get(ctx, "u1"); err != nil { // remote hit
		t.Fatalf("Get: %v", err)
	}
	if err := e.InvalidateByTag(ctx, "any"); err != nil {
		t.Fatalf("InvalidateByTag: %v", err)
	}

	if got := testutil.ToFloat64(m.misses); got != 1 {
		t.Fatalf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sets); got != 1 {
		t.Fatalf("sets = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.hits.WithLabelValues("remote")); got != 1 {
		t.Fatalf("remote hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.invalidations.WithLabelValues("tag")); got != 1 {
		t.Fatalf("tag invalidations = %v, want 1", got)
	}
}

func TestDetachStopsCounting(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	reg := prometheus.NewRegistry()

	m, err := Attach(e, reg, "test")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	m.Detach()

	users, _ := defcache.Define[string, string](e, defcache.Config[string, string]{
		Name:  "user",
		Key:   func(id string) string { return id },
		Fetch: func(_ context.Context, id string) (string, error) { return id, nil },
	})
	if _, err := users.Get(ctx, "u1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got := testutil.ToFloat64(m.misses); got != 0 {
		t.Fatalf("misses after Detach = %v, want 0", got)
	}
}

func TestAttachRejectsDuplicateRegistration(t *testing.T) {
	e := newTestEngine(t)
	reg := prometheus.NewRegistry()

	if _, err := Attach(e, reg, "dup"); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if _, err := Attach(e, reg, "dup"); err == nil {
		t.Fatal("expected duplicate collector registration to fail")
	}
}
