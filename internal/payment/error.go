package payment

import "errors"

var (
	ErrDuplicateTransaction = errors.New("transaction id already recorded")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInvalidConfirmation  = errors.New("invalid payment confirmation")

	// -- Constants (External Systems) --
	PgUniqueViolation = "23505"
)
