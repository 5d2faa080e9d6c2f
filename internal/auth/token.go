package auth

import (
	"net/http"
	"strings"
)

const AccessTokenCookie = "access_token"

const bearerScheme = "bearer "

// ExtractAccessToken returns the access token of r, or "" when it carries
// none. A non-empty access_token cookie wins over an Authorization header;
// the header scheme is matched case-insensitively.
func ExtractAccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	h := r.Header.Get("Authorization")
	if len(h) <= len(bearerScheme) || !strings.EqualFold(h[:len(bearerScheme)], bearerScheme) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerScheme):])
}
