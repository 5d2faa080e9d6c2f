package order

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"storefront-be/internal/cart"

	"github.com/shopspring/decimal"
)

type CustomerDetails struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
	Note         string `json:"order_note"`
}

func (c CustomerDetails) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func (c CustomerDetails) Validate() error {
	required := []struct{ name, value string }{
		{"first_name", c.FirstName},
		{"last_name", c.LastName},
		{"phone", c.Phone},
		{"email", c.Email},
		{"address_line_1", c.AddressLine1},
		{"city", c.City},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidCustomerDetails, f.name)
		}
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: email is malformed", ErrInvalidCustomerDetails)
	}
	return nil
}

type Order struct {
	ID        int64               `json:"id"`
	Number    string              `json:"order_number"`
	AccountID *int64              `json:"account_id,omitempty"`
	CartRef   cart.Ref            `json:"-"`
	Customer  CustomerDetails     `json:"customer"`
	Total     decimal.Decimal     `json:"order_total"`
	Tax       decimal.Decimal     `json:"tax"`
	Status    Status              `json:"status"`
	IsOrdered bool                `json:"is_ordered"`
	IP        string              `json:"-"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Items     []cart.SnapshotItem `json:"items"`
}

func (o *Order) GrandTotal() decimal.Decimal {
	return o.Total.Add(o.Tax)
}

// Line is the immutable record of a product bought with an order. It is
// written once, when the order is paid.
type Line struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	PaymentID   int64           `json:"payment_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Variations  []string        `json:"variations"`
	Ordered     bool            `json:"ordered"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
