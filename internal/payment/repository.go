package payment

import (
	"context"
	"database/sql"
	"errors"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	// Create records a payment. A transaction id can be recorded once.
	Create(ctx context.Context, p *Payment) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error)

	// RecordCallback stores a raw gateway delivery. A delivery of a
	// (provider, event id) that was already processed reports isDuplicate;
	// an unprocessed one is reopened under its original id.
	RecordCallback(ctx context.Context, cb Callback) (callbackID int64, isDuplicate bool, err error)
	MarkCallbackProcessed(ctx context.Context, callbackID int64) error
	MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error
}

type repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

func (r *repository) Create(ctx context.Context, p *Payment) error {
	var orderID sql.NullInt64
	if p.OrderID != nil {
		orderID = sql.NullInt64{Int64: *p.OrderID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payments (transaction_id, order_id, method, amount_paid, status, gateway_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, p.TransactionID, orderID, p.Method, p.AmountPaid, string(p.Status), p.GatewayStatus).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == PgUniqueViolation {
			return ErrDuplicateTransaction
		}
		logger.FromCtx(ctx).Error("failed to insert payment",
			zap.String("layer", "repository"),
			zap.String("method", "Create"),
			zap.String("transaction_id", p.TransactionID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (r *repository) GetByTransactionID(ctx context.Context, transactionID string) (*Payment, error) {
	var (
		p       Payment
		orderID sql.NullInt64
		status  string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, order_id, method, amount_paid, status, gateway_status, created_at
		FROM payments
		WHERE transaction_id = $1
	`, transactionID).Scan(&p.ID, &p.TransactionID, &orderID, &p.Method, &p.AmountPaid, &status, &p.GatewayStatus, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if orderID.Valid {
		id := orderID.Int64
		p.OrderID = &id
	}
	p.Status = Status(status)
	return &p, nil
}

func (r *repository) RecordCallback(ctx context.Context, cb Callback) (int64, bool, error) {
	const q = `
	INSERT INTO payment_callbacks (
		provider,
		event_id,
		transaction_id,
		token_valid,
		payload
	)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (provider, event_id)
	DO UPDATE SET
		attempts = payment_callbacks.attempts + 1,
		token_valid = EXCLUDED.token_valid,
		payload = EXCLUDED.payload,
		process_error = NULL
	WHERE payment_callbacks.processed_at IS NULL
	RETURNING id;
	`

	var id int64
	err := r.db.QueryRowContext(ctx, q,
		cb.Provider,
		cb.EventID,
		cb.TransactionID,
		cb.TokenValid,
		cb.Payload,
	).Scan(&id)
	if err != nil {
		// Already processed: the update guard matched nothing.
		if errors.Is(err, sql.ErrNoRows) {
			return 0, true, nil
		}
		return 0, false, err
	}

	return id, false, nil
}

func (r *repository) MarkCallbackProcessed(ctx context.Context, callbackID int64) error {
	const q = `
	UPDATE payment_callbacks
	SET processed_at = now()
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID)
	return err
}

func (r *repository) MarkCallbackFailed(ctx context.Context, callbackID int64, reason string) error {
	const q = `
	UPDATE payment_callbacks
	SET process_error = $2
	WHERE id = $1;
	`

	_, err := r.db.ExecContext(ctx, q, callbackID, reason)
	return err
}
