package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide metrics sink. One instance is built at
// startup and passed to every component; metric names are contracts
// scraped by dashboards and must not change.
type Metrics struct {
	ProcessingOps      *prometheus.CounterVec
	CancellationOps    *prometheus.CounterVec
	NotificationOps    *prometheus.CounterVec
	RateLimitHits      *prometheus.CounterVec
	StateTransitions   *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	DeliveryDuration   *prometheus.HistogramVec
	TransitionDuration prometheus.Histogram
	ActiveProcessing   prometheus.Gauge
	QueueLength        prometheus.Gauge
	PendingDeliveries  *prometheus.GaugeVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProcessingOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_processing_operations_total",
				Help: "Lifecycle operations by team, result and priority.",
			},
			[]string{"team", "result", "priority"},
		),
		CancellationOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_cancellation_operations_total",
				Help: "Cancellation operations by team, result and priority.",
			},
			[]string{"team", "result", "priority"},
		),
		NotificationOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_delivery_operations_total",
				Help: "Webhook delivery attempts by team, type and result.",
			},
			[]string{"team", "type", "result"},
		),
		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Denied rate limit checks by policy and identifier type.",
			},
			[]string{"policy", "identifier_type"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_state_transitions_total",
				Help: "Committed payment state transitions.",
			},
			[]string{"from", "to"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_processing_duration_seconds",
				Help:    "End-to-end duration of a lifecycle operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"priority"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_delivery_duration_seconds",
				Help:    "Duration of one webhook delivery attempt.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type", "method"},
		),
		TransitionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_state_transition_duration_seconds",
				Help:    "Duration of the transactional state transition step.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ActiveProcessing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_payment_processing",
				Help: "Lifecycle operations currently in flight.",
			},
		),
		QueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "payment_processing_queue_length",
				Help: "Items waiting in the dispatcher queue.",
			},
		),
		PendingDeliveries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pending_notifications_total",
				Help: "Webhook deliveries scheduled but not yet terminal.",
			},
			[]string{"team", "type", "priority"},
		),
	}

	reg.MustRegister(
		m.ProcessingOps,
		m.CancellationOps,
		m.NotificationOps,
		m.RateLimitHits,
		m.StateTransitions,
		m.ProcessingDuration,
		m.DeliveryDuration,
		m.TransitionDuration,
		m.ActiveProcessing,
		m.QueueLength,
		m.PendingDeliveries,
	)

	return m
}

// NewNop returns a Metrics wired to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
