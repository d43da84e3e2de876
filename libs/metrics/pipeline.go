package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics counts background work: webhooks, reconciliation, deliveries and
// reminder scans. Each service only touches the counters it owns.
type PipelineMetrics struct {
	webhooks   *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	reminders  *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Payment provider webhook events by provider, type and result",
		}, []string{"provider", "event_type", "result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "reconciled_transactions_total",
			Help:      "Paid transactions examined by the reconciler",
		}, []string{"action"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Email and SMS deliveries",
		}, []string{"channel", "status"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "reminders_total",
			Help:      "Appointment reminders created by the scan loop",
		}, []string{"result"}),
	}
	register(reg, m.webhooks, m.reconciled, m.deliveries, m.reminders)
	return m
}

func (m *PipelineMetrics) Webhook(provider, eventType, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, eventType, result).Inc()
}

func (m *PipelineMetrics) Reconciled(action string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(action).Inc()
}

func (m *PipelineMetrics) Delivery(channel, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, status).Inc()
}

func (m *PipelineMetrics) Reminders(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reminders.WithLabelValues(result).Add(float64(n))
}
