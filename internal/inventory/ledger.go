package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

// Ledger is the only writer of product stock.
type Ledger interface {
	// Reserve decrements stock by quantity, or fails with ErrInsufficientStock
	// leaving stock untouched.
	Reserve(ctx context.Context, productID int64, quantity int) error
	Available(ctx context.Context, productID int64) (int, error)
	Restock(ctx context.Context, productID int64, quantity int) error
}

type ledger struct {
	db db.DBTX
}

func NewLedger(conn db.DBTX) Ledger {
	return &ledger{db: conn}
}

func (l *ledger) Reserve(ctx context.Context, productID int64, quantity int) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Reserve"),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
	)

	if quantity < 1 {
		return ErrInvalidQuantity
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2 AND stock >= $1
	`, quantity, productID)
	if err != nil {
		log.Error("failed to decrement stock", zap.Error(err))
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Nothing matched: either the product is gone or the guard refused.
	var exists bool
	if err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID,
	).Scan(&exists); err != nil {
		log.Error("failed to check product", zap.Error(err))
		return err
	}
	if !exists {
		return ErrProductNotFound
	}

	log.Warn("insufficient stock")
	return fmt.Errorf("%w: product %d", ErrInsufficientStock, productID)
}

func (l *ledger) Available(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := l.db.QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = $1`, productID,
	).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	return stock, err
}

func (l *ledger) Restock(ctx context.Context, productID int64, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2
	`, quantity, productID)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to restock",
			zap.String("layer", "repository"),
			zap.String("method", "Restock"),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}
