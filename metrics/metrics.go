// Package metrics holds the Prometheus collectors exported by the service.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "measureconv"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	conversions    prometheus.Counter
	inputLength    prometheus.Histogram
	segments       prometheus.Histogram
	encodeDuration prometheus.Histogram
	historyErrors  *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		conversions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Inputs encoded.",
		}),
		inputLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "input_length_chars",
			Help:      "Length of encoded inputs in characters.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		segments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segments_per_input",
			Help:      "Segments produced per encoded input.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		encodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Time spent encoding one input.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		historyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_errors_total",
			Help:      "History store failures by operation.",
		}, []string{"op"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.conversions, m.inputLength, m.segments, m.encodeDuration, m.historyErrors, m.rateLimited} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveRequest counts one HTTP response.
func (m *Metrics) ObserveRequest(route string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, statusLabel(code)).Inc()
}

// ObserveConversion records one encoded input.
func (m *Metrics) ObserveConversion(chars, segments int, dur time.Duration) {
	if m == nil {
		return
	}
	m.conversions.Inc()
	m.inputLength.Observe(float64(chars))
	m.segments.Observe(float64(segments))
	m.encodeDuration.Observe(dur.Seconds())
}

// HistoryError counts a failed history operation ("append" or "list").
func (m *Metrics) HistoryError(op string) {
	if m == nil {
		return
	}
	m.historyErrors.WithLabelValues(op).Inc()
}

// HistoryErrors returns the failure counter for op.
func (m *Metrics) HistoryErrors(op string) prometheus.Counter {
	return m.historyErrors.WithLabelValues(op)
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "1xx"
}
