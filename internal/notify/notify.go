// Package notify delivers order and payment events to customers and staff.
// Delivery is best effort: failures are logged and counted, never returned
// to the workflow that produced the event.
package notify

import (
	"context"
	"errors"
	"time"

	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

type Kind string

const (
	KindOrderPlaced      Kind = "ORDER_PLACED"
	KindPaymentCompleted Kind = "PAYMENT_COMPLETED"
	KindPaymentFailed    Kind = "PAYMENT_FAILED"
)

type Notification struct {
	Kind       Kind           `json:"kind"`
	Recipient  string         `json:"recipient"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func New(kind Kind, recipient string, payload map[string]any) Notification {
	return Notification{Kind: kind, Recipient: recipient, Payload: payload, OccurredAt: time.Now().UTC()}
}

type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Notify(ctx context.Context, n Notification) error {
	logger.FromCtx(ctx).Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("recipient", n.Recipient),
		zap.Any("payload", n.Payload),
	)
	return nil
}

// MultiSink fans a notification out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
