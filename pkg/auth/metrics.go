package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors for token verification. A nil
// *Metrics records nothing.
type Metrics struct {
	verifications *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	fallbacks     prometheus.Counter
	issued        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantauth_verifications_total",
				Help: "Total number of token verifications by token kind, result and reason",
			},
			[]string{"kind", "result", "reason"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantauth_verification_duration_seconds",
				Help:    "Token verification latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"kind", "cached"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantauth_verification_cache_lookups_total",
				Help: "Total number of verification cache lookups by result",
			},
			[]string{"result"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantauth_classification_fallbacks_total",
			Help: "Total number of tokens verified by the verifier they were not classified for",
		}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantauth_service_tokens_issued_total",
			Help: "Total number of service tokens issued",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.verifications, m.latency, m.cacheLookups, m.fallbacks, m.issued} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeVerification(kind TokenKind, reason string, cached bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if reason != "" {
		result = "rejected"
	}
	m.verifications.WithLabelValues(kind.String(), result, reason).Inc()
	c := "false"
	if cached {
		c = "true"
	}
	m.latency.WithLabelValues(kind.String(), c).Observe(elapsed.Seconds())
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeFallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) observeIssued() {
	if m != nil {
		m.issued.Inc()
	}
}
