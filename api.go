package defcache

import (
	"fmt"
	"time"

	"github.com/unkn0wn-root/defcache/store"
)

const (
	defaultTTL          = 10 * time.Minute
	defaultTagRetention = 30 * 24 * time.Hour
)

// Options tune an Engine. Only Namespace and Store are required; others have
// sensible defaults.
type Options struct {
	// Required
	Namespace string // key prefix owned by this engine, e.g. "app:prod"
	Store     store.Store

	Local        store.Local   // optional per-process accelerator
	Logger       Logger        // if nil, NopLogger is used
	DefaultTTL   time.Duration // entries without a TTL policy; 0 => 10m
	TagRetention time.Duration // TTL on tag sets, refreshed on write; 0 => 30d
	Breaker      BreakerConfig // zero fields get defaults
}

// New constructs an Engine. Definitions are registered separately with
// Define; registration is startup-time work and definitions are immutable
// afterwards.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("defcache: store is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("defcache: namespace is required")
	}

	e := &Engine{
		ns:      opts.Namespace,
		remote:  opts.Store,
		local:   opts.Local,
		brk:     newBreaker(opts.Breaker),
		bus:     newEventBus(),
		flight:  newFlightGroup(),
		refresh: newRefreshGroup(),
		defs:    make(map[string]struct{}),
		nowFunc: time.Now,
	}

	// defaults
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	e.tagRetention = coalesce(opts.TagRetention, defaultTagRetention)

	return e, nil
}
