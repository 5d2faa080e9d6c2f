package order

import "errors"

var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrInvalidTransition      = errors.New("invalid order status transition")
	ErrStatusConflict         = errors.New("order status changed concurrently")
	ErrInvalidCustomerDetails = errors.New("invalid customer details")
)
