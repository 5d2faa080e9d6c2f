package product

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		rows := sqlmock.NewRows([]string{"id", "name", "slug", "price", "stock", "is_available", "created_at", "updated_at"}).
			AddRow(1, "Kopi Arabika", "kopi-arabika", "10.50", 7, true, now, now)
		mock.ExpectQuery(`SELECT id, name, slug, price, stock, is_available, created_at, updated_at\s+FROM products`).
			WithArgs(int64(1)).
			WillReturnRows(rows)

		p, err := repo.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Kopi Arabika", p.Name)
		assert.True(t, decimal.RequireFromString("10.5").Equal(p.Price))
		assert.Equal(t, 7, p.Stock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		mock.ExpectQuery(`FROM products`).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err = repo.GetByID(ctx, 99)
		assert.ErrorIs(t, err, ErrProductNotFound)
	})

	t.Run("DBError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		mock.ExpectQuery(`FROM products`).WillReturnError(errors.New("db down"))

		_, err = repo.GetByID(ctx, 1)
		assert.EqualError(t, err, "db down")
	})
}

func TestRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		now := time.Now()
		p := &Product{Name: "Teh", Slug: "teh", Price: decimal.NewFromInt(5), Stock: 3, IsAvailable: true}

		mock.ExpectQuery(`INSERT INTO products`).
			WithArgs("Teh", "teh", decimal.NewFromInt(5), 3, true).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(12, now, now))

		require.NoError(t, repo.Create(ctx, p))
		assert.Equal(t, int64(12), p.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Validation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		err = repo.Create(ctx, &Product{Name: "Teh", Price: decimal.NewFromInt(-1)})
		assert.ErrorIs(t, err, ErrInvalidPrice)

		err = repo.Create(ctx, &Product{Name: "Teh", Stock: -1})
		assert.ErrorIs(t, err, ErrInvalidStock)

		err = repo.Create(ctx, &Product{})
		assert.ErrorIs(t, err, ErrInvalidProduct)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_Variations(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		rows := sqlmock.NewRows([]string{"id", "product_id", "category", "value", "is_active"}).
			AddRow(1, 5, VariationColor, "red", true).
			AddRow(2, 5, VariationSize, "m", true)
		mock.ExpectQuery(`FROM variations\s+WHERE product_id = \$1 AND is_active = TRUE`).
			WithArgs(int64(5)).
			WillReturnRows(rows)

		vs, err := repo.Variations(ctx, 5)
		require.NoError(t, err)
		require.Len(t, vs, 2)
		assert.Equal(t, "red", vs[0].Value)
		assert.Equal(t, VariationSize, vs[1].Category)
	})

	t.Run("ScanError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		rows := sqlmock.NewRows([]string{"id", "product_id", "category", "value", "is_active"}).
			AddRow("not-a-number", 5, VariationColor, "red", true)
		mock.ExpectQuery(`FROM variations`).WillReturnRows(rows)

		_, err = repo.Variations(ctx, 5)
		assert.Error(t, err)
	})

	t.Run("QueryError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		repo := NewRepository(db)

		mock.ExpectQuery(`FROM variations`).WillReturnError(errors.New("boom"))

		_, err = repo.Variations(ctx, 5)
		assert.Error(t, err)
	})
}

func TestRepository_CreateVariation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRepository(db)

	v := &Variation{ProductID: 5, Category: VariationColor, Value: "red", IsActive: true}
	mock.ExpectQuery(`INSERT INTO variations`).
		WithArgs(int64(5), VariationColor, "red", true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))

	require.NoError(t, repo.CreateVariation(context.Background(), v))
	assert.Equal(t, int64(3), v.ID)

	assert.ErrorIs(t, repo.CreateVariation(context.Background(), &Variation{ProductID: 5}), ErrInvalidVariation)
}
