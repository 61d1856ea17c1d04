// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments a CachedReader exposes:
// plain struct fields, one collector per concern, constructed once and
// registered by the embedding application.
type Metrics struct {
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	Reloads       prometheus.Counter
	ReloadErrors  prometheus.Counter
	Generation    prometheus.Gauge
	CacheEntries  prometheus.Gauge
	QueryDuration prometheus.Histogram
}

// NewMetrics builds a fresh, unregistered Metrics. Callers register it
// with their own prometheus.Registerer; the package does not reach for
// the global default registry so multiple CachedReaders in one process
// don't collide on metric names.
func NewMetrics() *Metrics {
	return &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k2rule_cache_hits_total",
			Help: "Result cache hits in the hot-swap reader.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k2rule_cache_misses_total",
			Help: "Result cache misses in the hot-swap reader.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k2rule_reloads_total",
			Help: "Successful snapshot reloads.",
		}),
		ReloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k2rule_reload_errors_total",
			Help: "Reload attempts that failed to build a new snapshot.",
		}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "k2rule_generation",
			Help: "Current snapshot generation counter.",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "k2rule_cache_entries",
			Help: "Current result cache occupancy.",
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "k2rule_query_duration_seconds",
			Help:    "match_domain/match_ip/match_input latency.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
	}
}

// Collectors returns every instrument as a prometheus.Collector, for
// callers that want to register them all in one MustRegister call.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.Reloads, m.ReloadErrors,
		m.Generation, m.CacheEntries, m.QueryDuration,
	}
}
