package middleware

import (
	"context"
	"net/http"
	"time"

	"storefront-be/internal/auth"
	"storefront-be/internal/cart"
	"storefront-be/internal/logger"
	"storefront-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SessionCookie = "cart_session"
	sessionMaxAge = 30 * 24 * time.Hour
)

// CartMerger folds an anonymous cart into an account cart once the visitor
// signs in.
type CartMerger interface {
	MergeCart(ctx context.Context, from, to cart.Ref) error
}

// Identity resolves the cart identity of every request. A valid access token
// selects the account cart; otherwise the cart_session cookie does, and one
// is issued when missing. A token that is present but invalid is refused.
func Identity(tokens *auth.Tokens, merger CartMerger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session := sessionFrom(r)

			if tokenStr := auth.ExtractAccessToken(r); tokenStr != "" {
				claims, err := tokens.Parse(tokenStr)
				if err != nil {
					logger.FromCtx(ctx).Warn("rejected access token",
						zap.String("layer", "middleware"),
						zap.Error(err),
					)
					utils.WriteJSONError(w, "invalid or expired token", http.StatusUnauthorized)
					return
				}

				ref := cart.AccountRef(claims.UserID)
				if session != "" && merger != nil {
					if err := merger.MergeCart(ctx, session, ref); err != nil {
						logger.FromCtx(ctx).Error("failed to merge session cart",
							zap.String("layer", "middleware"),
							zap.Int64("user_id", claims.UserID),
							zap.Error(err),
						)
					} else {
						http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
					}
				}

				ctx = utils.WithIdentity(ctx, utils.Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role})
				ctx = utils.WithCartRef(ctx, ref)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if session == "" {
				token := uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    token,
					Path:     "/",
					MaxAge:   int(sessionMaxAge.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
				session = cart.SessionRef(token)
			}

			next.ServeHTTP(w, r.WithContext(utils.WithCartRef(ctx, session)))
		})
	}
}

func sessionFrom(r *http.Request) cart.Ref {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return cart.SessionRef(c.Value)
}

// RequireRole lets through authenticated requests carrying role and
// requests from trusted internal services.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if utils.IsInternalRequest(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := utils.IdentityFrom(r.Context())
			if !ok {
				utils.WriteJSONError(w, "authentication required", http.StatusUnauthorized)
				return
			}
			if id.Role != role {
				utils.WriteJSONError(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
