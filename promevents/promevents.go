// Package promevents exposes engine events as Prometheus metrics. Attach
// subscribes to every event kind; counters are labeled by hit source,
// invalidation type and error context.
package promevents

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/defcache"
)

type Metrics struct {
	eng *defcache.Engine

	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	sets          prometheus.Counter
	invalidations *prometheus.CounterVec
	errors        *prometheus.CounterVec
	latency       prometheus.Histogram

	subs []subRef
}

type subRef struct {
	kind defcache.EventKind
	sub  defcache.Subscription
}

// Attach registers collectors on reg and subscribes them to the engine's
// event bus. The namespace label distinguishes engines sharing a registry.
func Attach(eng *defcache.Engine, reg prometheus.Registerer, namespace string) (*Metrics, error) {
	constLabels := prometheus.Labels{"cache": namespace}

	m := &Metrics{
		eng: eng,
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "defcache_hits_total",
			Help:        "Cache hits by source (local or remote).",
			ConstLabels: constLabels,
		}, []string{"source"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "defcache_misses_total",
			Help:        "Cache misses resolved by origin fetch.",
			ConstLabels: constLabels,
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "defcache_sets_total",
			Help:        "Entries written to the cache.",
			ConstLabels: constLabels,
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "defcache_invalidations_total",
			Help:        "Invalidations by type (key, tag, pattern).",
			ConstLabels: constLabels,
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "defcache_errors_total",
			Help:        "Errors by context (fetch, store, serialization).",
			ConstLabels: constLabels,
		}, []string{"context"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "defcache_read_duration_seconds",
			Help:        "Read latency for hits and misses.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.sets, m.invalidations, m.errors, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	m.subs = []subRef{
		{defcache.EventHit, eng.On(defcache.EventHit, m.onHit)},
		{defcache.EventMiss, eng.On(defcache.EventMiss, m.onMiss)},
		{defcache.EventSet, eng.On(defcache.EventSet, m.onSet)},
		{defcache.EventInvalidate, eng.On(defcache.EventInvalidate, m.onInvalidate)},
		{defcache.EventError, eng.On(defcache.EventError, m.onError)},
	}
	return m, nil
}

// Detach unsubscribes from the engine. Collectors stay registered; callers
// owning the registry unregister them if needed.
func (m *Metrics) Detach() {
	for _, s := range m.subs {
		m.eng.Off(s.kind, s.sub)
	}
	m.subs = nil
}

func (m *Metrics) onHit(ev defcache.Event) {
	m.hits.WithLabelValues(ev.Source).Inc()
	m.latency.Observe(ev.Latency.Seconds())
}

func (m *Metrics) onMiss(ev defcache.Event) {
	m.misses.Inc()
	m.latency.Observe(ev.Latency.Seconds())
}

func (m *Metrics) onSet(defcache.Event) {
	m.sets.Inc()
}

func (m *Metrics) onInvalidate(ev defcache.Event) {
	m.invalidations.WithLabelValues(ev.Type).Inc()
}

func (m *Metrics) onError(ev defcache.Event) {
	m.errors.WithLabelValues(ev.Context).Inc()
}
