package notify

import (
	"context"
	"sync"
	"time"

	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"

	"go.uber.org/zap"
)

const deliveryTimeout = 5 * time.Second

// Dispatcher hands notifications to a sink on a background goroutine so
// callers never wait for delivery.
type Dispatcher struct {
	sink    Sink
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Notification
	done   chan struct{}
}

func NewDispatcher(sink Sink, buffer int, m *metrics.Metrics) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{
		sink:    sink,
		metrics: m,
		queue:   make(chan Notification, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues n. When the queue is full or the dispatcher is closed the
// notification is dropped.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, n, "dispatcher closed")
		return nil
	}

	select {
	case d.queue <- n:
	default:
		d.drop(ctx, n, "queue full")
	}
	return nil
}

func (d *Dispatcher) drop(ctx context.Context, n Notification, reason string) {
	logger.FromCtx(ctx).Warn("notification dropped",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.Recipient),
		zap.String("reason", reason),
	)
	d.metrics.Notification(string(n.Kind), metrics.NotificationDropped)
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := d.sink.Notify(ctx, n)
		cancel()

		if err != nil {
			logger.L().Error("notification delivery failed",
				zap.String("kind", string(n.Kind)),
				zap.String("recipient", n.Recipient),
				zap.Error(err),
			)
			d.metrics.Notification(string(n.Kind), metrics.NotificationFailed)
			continue
		}
		d.metrics.Notification(string(n.Kind), metrics.NotificationSent)
	}
}

// Close stops accepting notifications and waits until the queued ones are
// delivered or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
