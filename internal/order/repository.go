package order

import (
	"context"
	"database/sql"
	"errors"

	"storefront-be/internal/cart"
	"storefront-be/internal/db"
	"storefront-be/internal/logger"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	// NextOrdinal allocates the next order number ordinal.
	NextOrdinal(ctx context.Context) (int64, error)
	// Create persists the order together with its snapshot items.
	Create(ctx context.Context, o *Order) error
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// LockByNumber is GetByNumber holding a row lock until the transaction ends.
	LockByNumber(ctx context.Context, number string) (*Order, error)
	// UpdateStatus moves the order from one status to another, failing with
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	PlacedByCart(ctx context.Context, ref cart.Ref) ([]Order, error)
	InsertLines(ctx context.Context, lines []Line) error
	Lines(ctx context.Context, orderID int64) ([]Line, error)
}

type repository struct {
	db db.DBTX
}

func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

const orderColumns = `
	id, number, account_id, cart_ref,
	first_name, last_name, phone, email,
	address_line_1, address_line_2, city, state, country, order_note,
	order_total, tax, status, is_ordered, ip, created_at, updated_at`

func (r *repository) NextOrdinal(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&n)
	return n, err
}

func (r *repository) Create(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "Create"),
		zap.String("order_number", o.Number),
	)

	var accountID sql.NullInt64
	if o.AccountID != nil {
		accountID = sql.NullInt64{Int64: *o.AccountID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			number, account_id, cart_ref,
			first_name, last_name, phone, email,
			address_line_1, address_line_2, city, state, country, order_note,
			order_total, tax, status, is_ordered, ip
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING id, created_at, updated_at
	`,
		o.Number, accountID, string(o.CartRef),
		o.Customer.FirstName, o.Customer.LastName, o.Customer.Phone, o.Customer.Email,
		o.Customer.AddressLine1, o.Customer.AddressLine2, o.Customer.City,
		o.Customer.State, o.Customer.Country, o.Customer.Note,
		o.Total, o.Tax, string(o.Status), o.IsOrdered, o.IP,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		log.Error("failed to insert order", zap.Error(err))
		return err
	}

	for i, it := range o.Items {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO order_snapshot_items (
				order_id, position, product_id, product_name,
				quantity, unit_price, variation_key
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, o.ID, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.Variations.Key())
		if err != nil {
			log.Error("failed to insert snapshot item", zap.Int64("product_id", it.ProductID), zap.Error(err))
			return err
		}
	}
	return nil
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getByNumber(ctx, number, false)
}

func (r *repository) LockByNumber(ctx context.Context, number string) (*Order, error) {
	return r.getByNumber(ctx, number, true)
}

func (r *repository) getByNumber(ctx context.Context, number string, lock bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(r.db.QueryRowContext(ctx, query, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to get order",
			zap.String("layer", "repository"),
			zap.String("order_number", number),
			zap.Error(err),
		)
		return nil, err
	}

	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*Order, error) {
	var (
		o         Order
		accountID sql.NullInt64
		ref       string
		status    string
	)
	err := s.Scan(
		&o.ID, &o.Number, &accountID, &ref,
		&o.Customer.FirstName, &o.Customer.LastName, &o.Customer.Phone, &o.Customer.Email,
		&o.Customer.AddressLine1, &o.Customer.AddressLine2, &o.Customer.City,
		&o.Customer.State, &o.Customer.Country, &o.Customer.Note,
		&o.Total, &o.Tax, &status, &o.IsOrdered, &o.IP, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accountID.Valid {
		id := accountID.Int64
		o.AccountID = &id
	}
	o.CartRef = cart.Ref(ref)
	o.Status = Status(status)
	return &o, nil
}

func (r *repository) items(ctx context.Context, orderID int64) ([]cart.SnapshotItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, variation_key
		FROM order_snapshot_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []cart.SnapshotItem
	for rows.Next() {
		var (
			it  cart.SnapshotItem
			key string
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &key); err != nil {
			return nil, err
		}
		it.Variations = cart.ParseVariationKey(key)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, is_ordered = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, string(to), to == StatusPaid, id, string(from))
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update order status",
			zap.String("layer", "repository"),
			zap.Int64("order_id", id),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *repository) PlacedByCart(ctx context.Context, ref cart.Ref) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE cart_ref = $1 AND status = $2 ORDER BY id`,
		string(ref), string(StatusPlaced))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *repository) InsertLines(ctx context.Context, lines []Line) error {
	for i := range lines {
		l := &lines[i]
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO order_lines (
				order_id, payment_id, product_id, product_name,
				quantity, unit_price, variations, ordered
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id, created_at
		`,
			l.OrderID, l.PaymentID, l.ProductID, l.ProductName,
			l.Quantity, l.UnitPrice, pq.Array(l.Variations), l.Ordered,
		).Scan(&l.ID, &l.CreatedAt)
		if err != nil {
			logger.FromCtx(ctx).Error("failed to insert order line",
				zap.String("layer", "repository"),
				zap.Int64("order_id", l.OrderID),
				zap.Int64("product_id", l.ProductID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func (r *repository) Lines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, payment_id, product_id, product_name,
		       quantity, unit_price, variations, ordered, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.PaymentID, &l.ProductID, &l.ProductName,
			&l.Quantity, &l.UnitPrice, pq.Array(&l.Variations), &l.Ordered, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
