package cart

import (
	"context"
	"database/sql"
	"errors"

	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"go.uber.org/zap"
)

type Repository interface {
	// Lines returns the lines of a cart ordered by line id.
	Lines(ctx context.Context, ref Ref) ([]Line, error)
	GetLine(ctx context.Context, ref Ref, lineID int64) (*Line, error)
	// Upsert adds line.Quantity to the line with the same product and
	// variations, creating it when absent. line is updated in place.
	Upsert(ctx context.Context, line *Line) error
	// Decrement lowers the quantity by one, deleting the line when it would
	// reach zero. removed reports the deletion.
	Decrement(ctx context.Context, ref Ref, lineID int64) (removed bool, err error)
	Delete(ctx context.Context, ref Ref, lineID int64) error
	Clear(ctx context.Context, ref Ref) (int64, error)
}

type repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

func (r *repository) Lines(ctx context.Context, ref Ref) ([]Line, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cart_ref, product_id, quantity, variation_key, created_at, updated_at
		FROM cart_lines
		WHERE cart_ref = $1
		ORDER BY id
	`, string(ref))
	if err != nil {
		logger.FromCtx(ctx).Error("failed to query cart lines",
			zap.String("layer", "repository"),
			zap.String("method", "Lines"),
			zap.String("cart_ref", string(ref)),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLine(s scanner) (*Line, error) {
	var (
		l   Line
		ref string
		key string
	)
	if err := s.Scan(&l.ID, &ref, &l.ProductID, &l.Quantity, &key, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Ref = Ref(ref)
	l.Variations = ParseVariationKey(key)
	return &l, nil
}

func (r *repository) GetLine(ctx context.Context, ref Ref, lineID int64) (*Line, error) {
	l, err := scanLine(r.db.QueryRowContext(ctx, `
		SELECT id, cart_ref, product_id, quantity, variation_key, created_at, updated_at
		FROM cart_lines
		WHERE id = $1 AND cart_ref = $2
	`, lineID, string(ref)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartItemNotFound
	}
	return l, err
}

func (r *repository) Upsert(ctx context.Context, line *Line) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO cart_lines (cart_ref, product_id, quantity, variation_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_ref, product_id, variation_key)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING id, quantity, created_at, updated_at
	`, string(line.Ref), line.ProductID, line.Quantity, line.Variations.Key()).
		Scan(&line.ID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to upsert cart line",
			zap.String("layer", "repository"),
			zap.String("method", "Upsert"),
			zap.Int64("product_id", line.ProductID),
			zap.Error(err),
		)
	}
	return err
}

func (r *repository) Decrement(ctx context.Context, ref Ref, lineID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cart_lines
		SET quantity = quantity - 1, updated_at = NOW()
		WHERE id = $1 AND cart_ref = $2 AND quantity > 1
	`, lineID, string(ref))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return false, nil
	}

	if err := r.Delete(ctx, ref, lineID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) Delete(ctx context.Context, ref Ref, lineID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE id = $1 AND cart_ref = $2`, lineID, string(ref))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *repository) Clear(ctx context.Context, ref Ref) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_ref = $1`, string(ref))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
