package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrderPlaced()
	m.OrderPlaced()
	m.OrderCancelled()
	m.Finalized(OutcomePaid, 20*time.Millisecond)
	m.Finalized(OutcomeRejected, time.Millisecond)
	m.Notification("PAYMENT_COMPLETED", NotificationSent)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersPlaced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersCancelled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.finalizeOutcomes.WithLabelValues(OutcomePaid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("PAYMENT_COMPLETED", NotificationSent)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.finalizeDuration))

	count, err := testutil.GatherAndCount(reg, "storefront_orders_placed_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderPlaced()
		m.OrderCancelled()
		m.Finalized(OutcomeError, time.Second)
		m.Notification("x", NotificationDropped)
	})
}

func TestTimer(t *testing.T) {
	timer := StartTimer()
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Duration(), time.Millisecond)
}
