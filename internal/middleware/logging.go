package middleware

import (
	"net/http"

	"storefront-be/internal/logger"
	"storefront-be/internal/utils"

	"go.uber.org/zap"
)

// LogIdentity attaches the resolved user and cart to the request logger so
// every log line of the request carries them.
func LogIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var fields []zap.Field
		if id, ok := utils.IdentityFrom(ctx); ok {
			fields = append(fields, zap.Int64("user_id", id.UserID))
		}
		if ref, ok := utils.CartRefFromContext(ctx); ok {
			fields = append(fields, zap.String("cart_ref", ref.String()))
		}
		if len(fields) > 0 {
			ctx = logger.WithFields(ctx, fields...)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
