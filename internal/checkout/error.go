package checkout

import (
	"errors"

	"storefront-be/internal/cart"
	"storefront-be/internal/inventory"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
)

// The checkout error taxonomy. Each value is the sentinel of the layer that
// detects the condition, so errors.Is works whichever package is asked.
var (
	ErrEmptyCart            = cart.ErrEmptyCart
	ErrOrderNotFound        = order.ErrOrderNotFound
	ErrInsufficientStock    = inventory.ErrInsufficientStock
	ErrDuplicateTransaction = payment.ErrDuplicateTransaction
	ErrPaymentRejected      = errors.New("payment rejected")
)

// UserMessage returns text that can be shown to a customer for err. Errors
// outside the checkout taxonomy get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty. Add a product before checking out."
	case errors.Is(err, ErrOrderNotFound):
		return "We could not find an open order with that number."
	case errors.Is(err, ErrPaymentRejected):
		return "Your payment was not accepted. Please try another payment method."
	case errors.Is(err, ErrInsufficientStock):
		return "One of the products in your order is out of stock. Your payment has not been applied."
	case errors.Is(err, ErrDuplicateTransaction):
		return "This payment has already been used for another order."
	case errors.Is(err, order.ErrInvalidCustomerDetails):
		return "Please complete your billing details."
	case errors.Is(err, order.ErrInvalidTransition):
		return "This order can no longer be changed."
	case errors.Is(err, payment.ErrInvalidConfirmation):
		return "The payment confirmation is incomplete."
	}
	return "Something went wrong. Please try again later."
}
