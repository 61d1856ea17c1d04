// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package remote

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instruments a Manager exposes, in the
// same unregistered-struct shape as cache.Metrics.
type Metrics struct {
	UpdatesApplied   prometheus.Counter
	UpdatesNotMod    prometheus.Counter
	UpdateErrors     *prometheus.CounterVec
	LastUpdateUnixTS prometheus.Gauge
}

// NewMetrics builds a fresh, unregistered Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		UpdatesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k2rule_remote_updates_applied_total",
			Help: "Remote rule updates successfully downloaded and swapped in.",
		}),
		UpdatesNotMod: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "k2rule_remote_updates_not_modified_total",
			Help: "Conditional requests answered 304 Not Modified.",
		}),
		UpdateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "k2rule_remote_update_errors_total",
			Help: "Remote update attempts that failed, labeled by error kind.",
		}, []string{"kind"}),
		LastUpdateUnixTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "k2rule_remote_last_update_unix_seconds",
			Help: "Unix timestamp of the last successful remote update.",
		}),
	}
}

// Collectors returns every instrument as a prometheus.Collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UpdatesApplied, m.UpdatesNotMod, m.UpdateErrors, m.LastUpdateUnixTS,
	}
}
