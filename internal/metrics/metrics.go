// Package metrics exposes Prometheus counters for the auth pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes.
const (
	RefreshSuccess     = "success"
	RefreshFailure     = "failure"
	RefreshInvalidated = "invalidated"
	RefreshDiscarded   = "discarded"
	RefreshSkipped     = "skipped"
)

// Refresh triggers.
const (
	TriggerProactive = "proactive"
	TriggerReactive  = "reactive"
)

// Metrics groups the pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Refreshes    *prometheus.CounterVec
	AuthRetries  prometheus.Counter
	RateLimited  prometheus.Counter
	Invalidation prometheus.Counter
}

// New creates the counters and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frollo_sdk",
			Name:      "token_refresh_total",
			Help:      "Token refresh attempts by trigger and outcome.",
		}, []string{"trigger", "result"}),
		AuthRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frollo_sdk",
			Name:      "auth_retry_total",
			Help:      "Requests re-issued after a 401.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frollo_sdk",
			Name:      "rate_limited_total",
			Help:      "429 responses that triggered a backoff.",
		}),
		Invalidation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frollo_sdk",
			Name:      "token_invalidated_total",
			Help:      "Times stored credentials were cleared after an unrecoverable auth failure.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Refreshes, m.AuthRetries, m.RateLimited, m.Invalidation)
	}
	return m
}

func (m *Metrics) Refresh(trigger, result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) AuthRetry() {
	if m == nil {
		return
	}
	m.AuthRetries.Inc()
}

func (m *Metrics) RateLimit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) Invalidated() {
	if m == nil {
		return
	}
	m.Invalidation.Inc()
}
