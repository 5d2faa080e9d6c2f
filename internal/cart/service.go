package cart

import (
	"context"
	"errors"
	"fmt"

	"storefront-be/internal/logger"
	"storefront-be/internal/product"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service defines the business logic for carts.
type Service interface {
	AddItem(ctx context.Context, ref Ref, productID int64, variations VariationSet) (*Line, error)
	SubtractItem(ctx context.Context, ref Ref, lineID int64) error
	RemoveItem(ctx context.Context, ref Ref, lineID int64) error
	View(ctx context.Context, ref Ref) (*View, error)
	// MergeInto folds the lines of from into to and empties from.
	MergeInto(ctx context.Context, from, to Ref) error
}

type service struct {
	repo     Repository
	products product.Repository
	tax      TaxFunc
}

func NewService(repo Repository, products product.Repository, tax TaxFunc) Service {
	return &service{repo: repo, products: products, tax: tax}
}

func (s *service) AddItem(ctx context.Context, ref Ref, productID int64, variations VariationSet) (*Line, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "AddItem"),
		zap.String("cart_ref", string(ref)),
		zap.Int64("product_id", productID),
	)

	if !ref.Valid() {
		return nil, ErrInvalidRef
	}

	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsAvailable {
		return nil, ErrProductUnavailable
	}

	variations = normalizeVariations(variations)
	if err := s.checkVariations(ctx, productID, variations); err != nil {
		log.Warn("rejected variation", zap.String("variations", variations.Key()))
		return nil, err
	}

	line := &Line{Ref: ref, ProductID: productID, Quantity: 1, Variations: variations}
	if err := s.repo.Upsert(ctx, line); err != nil {
		log.Error("failed to add cart line", zap.Error(err))
		return nil, err
	}

	log.Info("cart line added", zap.Int64("line_id", line.ID), zap.Int("quantity", line.Quantity))
	return line, nil
}

func (s *service) checkVariations(ctx context.Context, productID int64, chosen VariationSet) error {
	if len(chosen) == 0 {
		return nil
	}
	offered, err := s.products.Variations(ctx, productID)
	if err != nil {
		return err
	}
	for cat, val := range chosen {
		found := false
		for _, o := range offered {
			if o.Category == cat && o.Value == val {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s=%s", ErrInvalidVariation, cat, val)
		}
	}
	return nil
}

func (s *service) SubtractItem(ctx context.Context, ref Ref, lineID int64) error {
	if !ref.Valid() {
		return ErrInvalidRef
	}
	removed, err := s.repo.Decrement(ctx, ref, lineID)
	if err != nil {
		return err
	}
	logger.FromCtx(ctx).Debug("cart line subtracted",
		zap.String("layer", "service"),
		zap.Int64("line_id", lineID),
		zap.Bool("removed", removed),
	)
	return nil
}

func (s *service) RemoveItem(ctx context.Context, ref Ref, lineID int64) error {
	if !ref.Valid() {
		return ErrInvalidRef
	}
	return s.repo.Delete(ctx, ref, lineID)
}

func (s *service) View(ctx context.Context, ref Ref) (*View, error) {
	if !ref.Valid() {
		return nil, ErrInvalidRef
	}

	lines, err := s.repo.Lines(ctx, ref)
	if err != nil {
		return nil, err
	}

	v := &View{Lines: make([]ViewLine, 0, len(lines)), Total: decimal.Zero}
	for _, l := range lines {
		p, err := s.products.GetByID(ctx, l.ProductID)
		if errors.Is(err, product.ErrProductNotFound) {
			// Products removed from the catalog drop out of the view.
			continue
		}
		if err != nil {
			return nil, err
		}

		sub := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		v.Lines = append(v.Lines, ViewLine{
			Line:        l,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Subtotal:    sub,
		})
		v.Quantity += l.Quantity
		v.Total = v.Total.Add(sub)
	}

	v.Tax = decimal.Zero
	if s.tax != nil {
		v.Tax = s.tax(v.Total)
	}
	v.GrandTotal = v.Total.Add(v.Tax)
	return v, nil
}

func (s *service) MergeInto(ctx context.Context, from, to Ref) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidRef
	}
	if from == to {
		return nil
	}

	lines, err := s.repo.Lines(ctx, from)
	if err != nil {
		return err
	}
	for _, l := range lines {
		merged := &Line{Ref: to, ProductID: l.ProductID, Quantity: l.Quantity, Variations: l.Variations}
		if err := s.repo.Upsert(ctx, merged); err != nil {
			return err
		}
	}
	if _, err := s.repo.Clear(ctx, from); err != nil {
		return err
	}

	logger.FromCtx(ctx).Info("cart merged",
		zap.String("layer", "service"),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("lines", len(lines)),
	)
	return nil
}
