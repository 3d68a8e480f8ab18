package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTransition("PENDING_ADMIN_DECISION", "ADMIN_ACCEPTED", ResultOK)
	m.ObserveTransition("PENDING_ADMIN_DECISION", "ADMIN_ACCEPTED", ResultOK)
	m.ObserveTransition("DELIVERED", "CANCELLED", ResultInvalidTransition)
	m.ObserveNotification("ws", NotifyDropped)
	m.AddSubscribers(3)
	m.AddSubscribers(-1)
	m.IncMonitorCancellations()
	m.ObserveHTTP("/api/orders/:id", http.StatusOK, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("PENDING_ADMIN_DECISION", "ADMIN_ACCEPTED", ResultOK)); got != 2 {
		t.Errorf("expected 2 ok transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("DELIVERED", "CANCELLED", ResultInvalidTransition)); got != 1 {
		t.Errorf("expected 1 invalid transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("ws", NotifyDropped)); got != 1 {
		t.Errorf("expected 1 dropped notification, got %v", got)
	}
	if got := testutil.ToFloat64(m.Subscribers); got != 2 {
		t.Errorf("expected 2 subscribers, got %v", got)
	}
	if got := testutil.ToFloat64(m.MonitorCancellations); got != 1 {
		t.Errorf("expected 1 monitor cancellation, got %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/orders/:id", "200")); got != 1 {
		t.Errorf("expected 1 http request, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("a", "b", ResultOK)
	m.ObserveNotification("ws", NotifyDelivered)
	m.AddSubscribers(1)
	m.AddConnections(1)
	m.IncMonitorCancellations()
	m.ObserveHTTP("/", http.StatusOK, time.Millisecond)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveTransition("PREPARING", "READY_FOR_DELIVERY", ResultOK)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quickcart_order_transitions_total") {
		t.Fatalf("metrics output missing transitions counter")
	}
}
