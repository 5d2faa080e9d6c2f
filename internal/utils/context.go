package utils

import (
	"context"

	"storefront-be/internal/cart"
)

type contextKey string

const (
	identityKey        contextKey = "identity"
	internalRequestKey contextKey = "internal_request"
	CartRefKey         contextKey = "cart_ref"
)

const RoleAdmin = "ADMIN"

func WithInternalRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, internalRequestKey, true)
}

func IsInternalRequest(ctx context.Context) bool {
	v, _ := ctx.Value(internalRequestKey).(bool)
	return v
}

// WithCartRef stores the cart identity resolved for the request.
func WithCartRef(ctx context.Context, ref cart.Ref) context.Context {
	return context.WithValue(ctx, CartRefKey, ref)
}

func CartRefFromContext(ctx context.Context) (cart.Ref, bool) {
	ref, ok := ctx.Value(CartRefKey).(cart.Ref)
	return ref, ok && ref.Valid()
}
