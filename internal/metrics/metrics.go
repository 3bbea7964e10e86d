// Package metrics exposes Prometheus counters for price and index resolution.
//
//   - advisor_price_resolutions_total{status}        live | fallback | unavailable
//   - advisor_source_attempts_total{source,outcome}  hit | transient | blocked | invalid | minute_limit | daily_quota
//   - advisor_index_resolutions_total{index,status}  live | fallback
//   - advisor_cache_lookups_total{kind,result}       kind: price | indices, result: hit | miss | error
//   - advisor_fallback_refreshes_total{applied}      true | false
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	resolutions *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	indices     *prometheus.CounterVec
	cache       *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_price_resolutions_total",
				Help: "Price resolutions by final status",
			},
			[]string{"status"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_source_attempts_total",
				Help: "Source attempts by outcome, including admission refusals",
			},
			[]string{"source", "outcome"},
		),
		indices: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_index_resolutions_total",
				Help: "Market index resolutions by status",
			},
			[]string{"index", "status"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_cache_lookups_total",
				Help: "Cache lookups",
			},
			[]string{"kind", "result"},
		),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_fallback_refreshes_total",
				Help: "Fallback table refresh attempts by whether they were applied",
			},
			[]string{"applied"},
		),
	}
	for _, c := range []prometheus.Collector{m.resolutions, m.attempts, m.indices, m.cache, m.refreshes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Resolution(status string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
}

func (m *Metrics) Attempt(source, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Index(name, status string) {
	if m == nil {
		return
	}
	m.indices.WithLabelValues(name, status).Inc()
}

func (m *Metrics) CacheLookup(kind, result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) FallbackRefresh(applied bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(strconv.FormatBool(applied)).Inc()
}
