package cart

import (
	"context"
	"fmt"
	"time"

	"storefront-be/internal/product"

	"github.com/shopspring/decimal"
)

type SnapshotItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Variations  VariationSet    `json:"variations"`
}

func (i SnapshotItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Snapshot is a frozen copy of a cart's contents and prices. Later changes
// to the cart or the catalog do not affect it.
type Snapshot struct {
	Ref        Ref
	CapturedAt time.Time
	items      []SnapshotItem
}

func NewSnapshot(ref Ref, capturedAt time.Time, items []SnapshotItem) Snapshot {
	return Snapshot{Ref: ref, CapturedAt: capturedAt, items: cloneItems(items)}
}

// Items returns a copy of the snapshot lines in cart order.
func (s Snapshot) Items() []SnapshotItem {
	return cloneItems(s.items)
}

func (s Snapshot) Len() int { return len(s.items) }

func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func cloneItems(items []SnapshotItem) []SnapshotItem {
	out := make([]SnapshotItem, len(items))
	for i, it := range items {
		vs := make(VariationSet, len(it.Variations))
		for k, v := range it.Variations {
			vs[k] = v
		}
		it.Variations = vs
		out[i] = it
	}
	return out
}

// Capture reads the cart lines of ref and prices them at the current
// product price.
func Capture(ctx context.Context, lines Repository, products product.Repository, ref Ref) (Snapshot, error) {
	if !ref.Valid() {
		return Snapshot{}, ErrInvalidRef
	}

	ls, err := lines.Lines(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	if len(ls) == 0 {
		return Snapshot{}, ErrEmptyCart
	}

	items := make([]SnapshotItem, 0, len(ls))
	for _, l := range ls {
		p, err := products.GetByID(ctx, l.ProductID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot line %d: %w", l.ID, err)
		}
		items = append(items, SnapshotItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
			Variations:  l.Variations,
		})
	}

	return NewSnapshot(ref, time.Now().UTC(), items), nil
}
