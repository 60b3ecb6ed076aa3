// README: Prometheus collectors for dispatch outcomes and HTTP traffic.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "movedispatch"

// Offer outcomes.
const (
	OfferSent     = "sent"
	OfferAccepted = "accepted"
	OfferRejected = "rejected"
	OfferTimeout  = "timeout"
	OfferFailed   = "failed"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	offers       *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	matchLatency prometheus.Histogram
	activeRounds prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	gatherer     prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
// Collectors already registered on reg are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	var err error
	if m.offers, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_offers_total", Help: "Driver offers by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_transitions_total", Help: "Committed move transitions by target status",
	}, []string{"to"})); err != nil {
		return nil, err
	}
	if m.matchLatency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "dispatch_match_seconds", Help: "Time from move creation to driver acceptance",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})); err != nil {
		return nil, err
	}
	if m.activeRounds, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "dispatch_active_rounds", Help: "Solicitation rounds awaiting a driver response",
	})); err != nil {
		return nil, err
	}
	if m.httpRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled",
	}, []string{"method", "path", "status"})); err != nil {
		return nil, err
	}
	if m.httpLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency distribution",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) Offer(outcome string) {
	if m == nil {
		return
	}
	m.offers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Matched(d time.Duration) {
	if m == nil {
		return
	}
	m.matchLatency.Observe(d.Seconds())
}

func (m *Metrics) ActiveRounds(n int) {
	if m == nil {
		return
	}
	m.activeRounds.Set(float64(n))
}

func (m *Metrics) HTTPRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpLatency.WithLabelValues(method, path, status).Observe(d.Seconds())
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
