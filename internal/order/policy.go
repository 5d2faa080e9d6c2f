package order

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// TaxPolicy charges a flat percentage of the order total.
type TaxPolicy struct {
	Percent decimal.Decimal
}

func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{Percent: decimal.NewFromInt(2)}
}

// Tax returns total * Percent / 100, rounded to cents.
func (p TaxPolicy) Tax(total decimal.Decimal) decimal.Decimal {
	return total.Mul(p.Percent).Div(hundred).Round(2)
}

// Numberer renders order numbers as the placement date followed by an
// ordinal, e.g. 202305091 for the first order of 2023-05-09.
type Numberer struct {
	Location *time.Location
}

func (n Numberer) Number(createdAt time.Time, ordinal int64) string {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	return createdAt.In(loc).Format("20060102") + strconv.FormatInt(ordinal, 10)
}
