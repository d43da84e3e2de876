package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsCount(t *testing.T) {
	reg := NewRegistry()
	m := NewBookingMetrics(reg)

	m.Finalization("created", "local")
	m.Finalization("duplicate", "local")
	m.Finalization("created", "local")

	if got := testutil.ToFloat64(m.finalizations.WithLabelValues("created", "local")); got != 2 {
		t.Fatalf("created = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "carebook_booking_finalizations_total") {
		t.Fatal("finalization counter missing from /metrics output")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var b *BookingMetrics
	b.Checkout("paymongo", "ok")
	b.Verification("paid", 2)
	b.Warning("assignment", "mirror")

	var p *PipelineMetrics
	p.Webhook("stripe", "checkout.session.completed", "processed")
	p.Reminders("sent", 3)
}
