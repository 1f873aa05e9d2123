package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics records email outbox delivery outcomes per template.
type DispatchMetrics struct {
	sent      *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	conflicts prometheus.Counter
	duration  *prometheus.HistogramVec
}

// NewDispatchMetrics registers the dispatcher metrics on the provided registerer.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_outbox_sent_total",
		Help: "Outbox entries delivered to the mail transport.",
	}, []string{"template"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_outbox_retried_total",
		Help: "Outbox deliveries that failed and were rescheduled.",
	}, []string{"template"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "email_outbox_failed_total",
		Help: "Outbox entries that exhausted their retries.",
	}, []string{"template"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "email_outbox_claim_conflicts_total",
		Help: "Claims or write-backs lost to another dispatcher.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "email_outbox_send_duration_seconds",
		Help:    "Render and transport duration per delivery attempt.",
		Buckets: prometheus.DefBuckets,
	}, []string{"template"})
	reg.MustRegister(sent, retried, failed, conflicts, duration)
	return &DispatchMetrics{
		sent:      sent,
		retried:   retried,
		failed:    failed,
		conflicts: conflicts,
		duration:  duration,
	}
}

func (m *DispatchMetrics) IncSent(template string) {
	if m == nil || m.sent == nil {
		return
	}
	m.sent.WithLabelValues(normalizeLabel(template)).Inc()
}

func (m *DispatchMetrics) IncRetried(template string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(template)).Inc()
}

func (m *DispatchMetrics) IncFailed(template string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(template)).Inc()
}

func (m *DispatchMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *DispatchMetrics) ObserveSend(template string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(template)).Observe(d.Seconds())
}
