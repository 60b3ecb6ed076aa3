// README: Collector registration and handler tests.
package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.Offer(OfferSent)
	m.Offer(OfferSent)
	m.Offer(OfferTimeout)
	m.Transition("accepted")
	m.Matched(3 * time.Second)
	m.HTTPRequest("GET", "/moves/:id", "200", time.Millisecond)

	if got := testutil.ToFloat64(m.offers.WithLabelValues(OfferSent)); got != 2 {
		t.Fatalf("expected 2 sent offers, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "movedispatch_dispatch_transitions_total") {
		t.Fatalf("transitions metric not exported:\n%s", body)
	}
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := New(reg)
	if err != nil {
		t.Fatalf("second registration should reuse collectors: %v", err)
	}
	first.Offer(OfferAccepted)
	if got := testutil.ToFloat64(second.offers.WithLabelValues(OfferAccepted)); got != 1 {
		t.Fatalf("expected shared counter, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Offer(OfferSent)
	m.Transition("delivered")
	m.ActiveRounds(3)
	m.HTTPRequest("GET", "/", "200", 0)
}
