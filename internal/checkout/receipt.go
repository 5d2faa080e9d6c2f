package checkout

import (
	"time"

	"storefront-be/internal/order"
	"storefront-be/internal/payment"

	"github.com/shopspring/decimal"
)

type ReceiptLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Variations  []string        `json:"variations"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Receipt is the read model shown once an order is paid.
type Receipt struct {
	OrderNumber   string                `json:"order_number"`
	Customer      order.CustomerDetails `json:"customer"`
	Lines         []ReceiptLine         `json:"lines"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	Tax           decimal.Decimal       `json:"tax"`
	GrandTotal    decimal.Decimal       `json:"grand_total"`
	TransactionID string                `json:"transaction_id"`
	Method        string                `json:"payment_method"`
	AmountPaid    decimal.Decimal       `json:"amount_paid"`
	Status        order.Status          `json:"status"`
	PaidAt        time.Time             `json:"paid_at"`
}

func buildReceipt(o *order.Order, p *payment.Payment, lines []order.Line) *Receipt {
	r := &Receipt{
		OrderNumber:   o.Number,
		Customer:      o.Customer,
		Lines:         make([]ReceiptLine, 0, len(lines)),
		Subtotal:      decimal.Zero,
		Tax:           o.Tax,
		GrandTotal:    o.GrandTotal(),
		TransactionID: p.TransactionID,
		Method:        p.Method,
		AmountPaid:    p.AmountPaid,
		Status:        o.Status,
		PaidAt:        p.CreatedAt,
	}
	for _, l := range lines {
		if l.PaymentID != 0 && l.PaymentID != p.ID {
			continue
		}
		sub := l.Subtotal()
		r.Lines = append(r.Lines, ReceiptLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			Variations:  l.Variations,
			UnitPrice:   l.UnitPrice,
			Subtotal:    sub,
		})
		r.Subtotal = r.Subtotal.Add(sub)
	}
	return r
}
