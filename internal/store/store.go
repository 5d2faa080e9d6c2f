// Package store groups the repositories behind a unit of work so a
// multi-step operation commits or rolls back as one.
package store

import (
	"context"
	"database/sql"

	"storefront-be/internal/cart"
	"storefront-be/internal/db"
	"storefront-be/internal/inventory"
	"storefront-be/internal/logger"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
	"storefront-be/internal/product"

	"go.uber.org/zap"
)

type Repos struct {
	Products product.Repository
	Ledger   inventory.Ledger
	Carts    cart.Repository
	Orders   order.Repository
	Payments payment.Repository
}

type UnitOfWork interface {
	// View runs fn against the current state without a transaction.
	View(ctx context.Context, fn func(Repos) error) error
	// Update runs fn in a single transaction. Any error returned by fn
	// discards every change fn made.
	Update(ctx context.Context, fn func(Repos) error) error
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(conn *sql.DB) *Postgres {
	return &Postgres{db: conn}
}

func reposFor(q db.DBTX) Repos {
	return Repos{
		Products: product.NewRepository(q),
		Ledger:   inventory.NewLedger(q),
		Carts:    cart.NewRepository(q),
		Orders:   order.NewRepository(q),
		Payments: payment.NewRepository(q),
	}
}

func (p *Postgres) View(ctx context.Context, fn func(Repos) error) error {
	return fn(reposFor(p.db))
}

func (p *Postgres) Update(ctx context.Context, fn func(Repos) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to begin transaction",
			zap.String("layer", "store"),
			zap.Error(err),
		)
		return err
	}
	defer tx.Rollback()

	if err := fn(reposFor(tx)); err != nil {
		return err
	}
	return tx.Commit()
}
