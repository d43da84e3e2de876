package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics tracks the payment-gated booking flow. A nil *BookingMetrics is a no-op.
type BookingMetrics struct {
	checkouts     *prometheus.CounterVec
	verifications *prometheus.CounterVec
	verifyPolls   prometheus.Histogram
	finalizations *prometheus.CounterVec
	warnings      *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions requested, by provider and outcome",
		}, []string{"provider", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "payment_verifications_total",
			Help:      "Payment verification results",
		}, []string{"outcome"}),
		verifyPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "payment_verification_polls",
			Help:      "Gateway polls needed per verification",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "finalizations_total",
			Help:      "Booking finalization outcomes",
		}, []string{"outcome", "source"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "step_warnings_total",
			Help:      "Best-effort workflow steps that failed without aborting",
		}, []string{"workflow", "step"}),
	}
	register(reg, m.checkouts, m.verifications, m.verifyPolls, m.finalizations, m.warnings)
	return m
}

func (m *BookingMetrics) Checkout(provider, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(provider, outcome).Inc()
}

func (m *BookingMetrics) Verification(outcome string, polls int) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
	m.verifyPolls.Observe(float64(polls))
}

// Finalization records an outcome; source is "local" or "metadata".
func (m *BookingMetrics) Finalization(outcome, source string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(outcome, source).Inc()
}

func (m *BookingMetrics) Warning(workflow, step string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(workflow, step).Inc()
}
