package cart

import "errors"

var (
	// -- Validation & Input --
	ErrInvalidRef       = errors.New("invalid cart reference")
	ErrInvalidVariation = errors.New("variation is not offered for this product")

	// -- Resource State --
	ErrCartItemNotFound   = errors.New("cart item not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrProductUnavailable = errors.New("product is not available")
)
