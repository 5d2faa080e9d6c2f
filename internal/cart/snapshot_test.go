package cart

import (
	"context"
	"testing"
	"time"

	"storefront-be/internal/product"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var snapTime = time.Date(2023, 5, 9, 10, 0, 0, 0, time.UTC)

func TestCapture(t *testing.T) {
	ctx := context.Background()
	ref := AccountRef(1)

	t.Run("Prices lines at capture time", func(t *testing.T) {
		repo := new(MockRepository)
		products := new(MockProductRepository)

		repo.On("Lines", ctx, ref).Return([]Line{
			{ID: 1, ProductID: 1, Quantity: 2, Variations: VariationSet{"color": "red"}},
			{ID: 2, ProductID: 2, Quantity: 1},
		}, nil)
		a := &product.Product{ID: 1, Name: "A", Price: decimal.NewFromInt(10)}
		products.On("GetByID", ctx, int64(1)).Return(a, nil)
		products.On("GetByID", ctx, int64(2)).Return(&product.Product{ID: 2, Name: "B", Price: decimal.NewFromInt(5)}, nil)

		snap, err := Capture(ctx, repo, products, ref)
		require.NoError(t, err)
		require.Equal(t, 2, snap.Len())
		assert.Equal(t, ref, snap.Ref)
		assert.True(t, decimal.NewFromInt(25).Equal(snap.Total()))

		// catalog changes after capture are not visible
		a.Price = decimal.NewFromInt(99)
		assert.True(t, decimal.NewFromInt(10).Equal(snap.Items()[0].UnitPrice))
	})

	t.Run("Items are copies", func(t *testing.T) {
		snap := NewSnapshot(ref, snapTime, []SnapshotItem{
			{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(3), Variations: VariationSet{"size": "s"}},
		})
		items := snap.Items()
		items[0].Quantity = 50
		items[0].Variations["size"] = "xl"

		again := snap.Items()
		assert.Equal(t, 1, again[0].Quantity)
		assert.Equal(t, "s", again[0].Variations["size"])
	})

	t.Run("Empty cart", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Lines", ctx, ref).Return([]Line{}, nil)

		_, err := Capture(ctx, repo, new(MockProductRepository), ref)
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("Missing product", func(t *testing.T) {
		repo := new(MockRepository)
		products := new(MockProductRepository)
		repo.On("Lines", ctx, ref).Return([]Line{{ID: 4, ProductID: 8, Quantity: 1}}, nil)
		products.On("GetByID", ctx, int64(8)).Return(nil, product.ErrProductNotFound)

		_, err := Capture(ctx, repo, products, ref)
		assert.ErrorIs(t, err, product.ErrProductNotFound)
	})
}
