package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records processed/failed webhook events and retry sweeps.
type WebhookMetrics struct {
	processed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	skipped       prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_processed_total",
		Help: "Webhook events successfully applied, by event type.",
	}, []string{"type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_failed_total",
		Help: "Webhook events whose handler failed, by event type.",
	}, []string{"type"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_webhook_events_skipped_total",
		Help: "Webhook deliveries skipped as duplicates.",
	})
	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_webhook_retry_sweep_seconds",
		Help:    "Duration of failed-event retry sweeps.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(processed, failed, skipped, sweepDuration)
	return &WebhookMetrics{
		processed:     processed,
		failed:        failed,
		skipped:       skipped,
		sweepDuration: sweepDuration,
	}
}

// IncProcessed counts a successfully applied event.
func (m *WebhookMetrics) IncProcessed(eventType string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailed counts a handler failure.
func (m *WebhookMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncSkipped counts a duplicate delivery short-circuit.
func (m *WebhookMetrics) IncSkipped() {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.Inc()
}

// ObserveSweep records a retry sweep duration.
func (m *WebhookMetrics) ObserveSweep(d time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
