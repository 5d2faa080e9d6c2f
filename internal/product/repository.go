package product

import (
	"context"
	"database/sql"
	"errors"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	Create(ctx context.Context, p *Product) error
	Variations(ctx context.Context, productID int64) ([]Variation, error)
	CreateVariation(ctx context.Context, v *Variation) error
}

type repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, price, stock, is_available, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Slug, &p.Price, &p.Stock, &p.IsAvailable, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to get product",
			zap.String("layer", "repository"),
			zap.Int64("product_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return &p, nil
}

func (r *repository) Create(ctx context.Context, p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO products (name, slug, price, stock, is_available)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Name, p.Slug, p.Price, p.Stock, p.IsAvailable).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// Variations returns the active variations of a product.
func (r *repository) Variations(ctx context.Context, productID int64) ([]Variation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, category, value, is_active
		FROM variations
		WHERE product_id = $1 AND is_active = TRUE
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variation
	for rows.Next() {
		var v Variation
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Category, &v.Value, &v.IsActive); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repository) CreateVariation(ctx context.Context, v *Variation) error {
	if v.Category == "" || v.Value == "" {
		return ErrInvalidVariation
	}

	return r.db.QueryRowContext(ctx, `
		INSERT INTO variations (product_id, category, value, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, v.ProductID, v.Category, v.Value, v.IsActive).Scan(&v.ID)
}
