// Package metrics defines the Prometheus collectors exported by the gateway.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	keyFetches     *prometheus.CounterVec
	keyFetchTime   prometheus.Histogram
	keyStaleServed prometheus.Counter
	verifications  *prometheus.CounterVec
	routed         *prometheus.CounterVec
}

// New creates the collectors and registers them on reg (the default registerer if nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		keyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uts",
			Subsystem: "gateway",
			Name:      "key_fetch_total",
			Help:      "Public key fetches from the auth service by result",
		}, []string{"result"}),
		keyFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uts",
			Subsystem: "gateway",
			Name:      "key_fetch_duration_seconds",
			Help:      "Latency of public key fetches",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		keyStaleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uts",
			Subsystem: "gateway",
			Name:      "key_stale_served_total",
			Help:      "Times a stale public key was served because a refresh failed",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uts",
			Subsystem: "gateway",
			Name:      "verifications_total",
			Help:      "Token verifications by outcome",
		}, []string{"outcome"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uts",
			Subsystem: "gateway",
			Name:      "routed_requests_total",
			Help:      "Requests handled by the router by access policy and disposition",
		}, []string{"access", "disposition"}),
	}

	var err error
	if m.keyFetches, err = register(reg, m.keyFetches); err != nil {
		return nil, err
	}
	if m.keyFetchTime, err = register(reg, m.keyFetchTime); err != nil {
		return nil, err
	}
	if m.keyStaleServed, err = register(reg, m.keyStaleServed); err != nil {
		return nil, err
	}
	if m.verifications, err = register(reg, m.verifications); err != nil {
		return nil, err
	}
	if m.routed, err = register(reg, m.routed); err != nil {
		return nil, err
	}

	for _, r := range []string{"success", "failure"} {
		m.keyFetches.WithLabelValues(r)
	}

	return m, nil
}

// register adds c to reg, returning the already registered collector when
// an identical one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// KeyFetch records one fetch attempt.
func (m *Metrics) KeyFetch(success bool, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.keyFetches.WithLabelValues(result).Inc()
	m.keyFetchTime.Observe(seconds)
}

// KeyStaleServed records a stale key being served after a failed refresh.
func (m *Metrics) KeyStaleServed() {
	if m == nil {
		return
	}
	m.keyStaleServed.Inc()
}

// Verification records a verification outcome ("ok" or an error code).
func (m *Metrics) Verification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// Routed records how the router disposed of a request.
func (m *Metrics) Routed(access, disposition string) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(access, disposition).Inc()
}
