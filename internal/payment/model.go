package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
)

type Payment struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	OrderID       *int64          `json:"order_id,omitempty"`
	Method        string          `json:"method"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Status        Status          `json:"status"`
	GatewayStatus string          `json:"gateway_status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Confirmation is what the payment gateway reports about a transaction.
type Confirmation struct {
	OrderNumber   string          `json:"order_number"`
	TransactionID string          `json:"transID"`
	Method        string          `json:"payment_method"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	GatewayStatus string          `json:"status"`
}

func (c Confirmation) Validate() error {
	switch {
	case strings.TrimSpace(c.OrderNumber) == "":
		return fmt.Errorf("%w: order number is required", ErrInvalidConfirmation)
	case strings.TrimSpace(c.TransactionID) == "":
		return fmt.Errorf("%w: transaction id is required", ErrInvalidConfirmation)
	case c.AmountPaid.IsNegative():
		return fmt.Errorf("%w: amount paid must not be negative", ErrInvalidConfirmation)
	}
	return nil
}

// Callback is one raw delivery of a gateway notification.
type Callback struct {
	Provider      string
	EventID       string
	TransactionID string
	Payload       []byte
	TokenValid    bool
}
