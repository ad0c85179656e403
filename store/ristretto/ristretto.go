// Package ristretto provides a bounded in-process local store backed by
// dgraph-io/ristretto.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	st "github.com/unkn0wn-root/defcache/store"
)

type Local struct {
	c *rc.Cache
}

var _ st.Local = (*Local)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost in Ristretto is provided by the caller (the engine passes the
	// encoded entry size per Set).
}

func New(cfg Config) (*Local, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Local{c: c}, nil
}

func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		l.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (l *Local) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	return l.c.SetWithTTL(key, value, cost, ttl), nil
}

func (l *Local) Del(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

func (l *Local) Close(_ context.Context) error {
	l.c.Wait()
	l.c.Close()
	return nil
}

// Metrics exposes ristretto metrics if enabled (not part of store.Local).
func (l *Local) Metrics() *rc.Metrics { return l.c.Metrics }
