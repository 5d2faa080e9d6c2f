package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Finalize outcomes.
const (
	OutcomePaid              = "paid"
	OutcomeReplayed          = "replayed"
	OutcomeRejected          = "rejected"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeNotFound          = "not_found"
	OutcomeDuplicate         = "duplicate"
	OutcomeError             = "error"
)

// Notification results.
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationDropped = "dropped"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	ordersPlaced     prometheus.Counter
	ordersCancelled  prometheus.Counter
	finalizeOutcomes *prometheus.CounterVec
	finalizeDuration prometheus.Histogram
	notifications    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_placed_total",
			Help: "Orders moved to PLACED.",
		}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_cancelled_total",
			Help: "Orders moved to CANCELLED.",
		}),
		finalizeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_finalize_total",
			Help: "Payment finalization attempts by outcome.",
		}, []string{"outcome"}),
		finalizeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "payment_finalize_duration_seconds",
			Help:    "Time spent finalizing a payment.",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications by kind and result.",
		}, []string{"kind", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.ordersPlaced, m.ordersCancelled, m.finalizeOutcomes, m.finalizeDuration, m.notifications)
	}
	return m
}

func (m *Metrics) OrderPlaced() {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
}

func (m *Metrics) OrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

func (m *Metrics) Finalized(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.finalizeOutcomes.WithLabelValues(outcome).Inc()
	m.finalizeDuration.Observe(d.Seconds())
}

func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
