package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsAvailable bool            `json:"is_available"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Variation is a selectable option of a product, e.g. color=red.
type Variation struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Category  string `json:"category"`
	Value     string `json:"value"`
	IsActive  bool   `json:"is_active"`
}

const (
	VariationColor = "color"
	VariationSize  = "size"
)

func (p *Product) Validate() error {
	if p.Name == "" {
		return ErrInvalidProduct
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if p.Stock < 0 {
		return ErrInvalidStock
	}
	return nil
}
