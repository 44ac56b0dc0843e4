package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtinfra "github.com/snaphub-notify/internal/infrastructure/jwt"
)

type contextKey string

const (
	claimsKey contextKey = "claims"
	bearerKey contextKey = "bearer"
)

// Auth returns middleware that validates the Bearer JWT and injects claims
// and the raw token into context. The token is forwarded to the backend API
// on the caller's behalf.
func Auth(provider *jwtinfra.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := provider.Verify(tokenStr)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := WithClaims(r.Context(), claims, tokenStr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims returns ctx carrying claims and the bearer token they came from.
func WithClaims(ctx context.Context, claims *jwtinfra.Claims, bearer string) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, bearerKey, bearer)
}

// ClaimsFromContext extracts JWT claims from the request context.
func ClaimsFromContext(ctx context.Context) (*jwtinfra.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*jwtinfra.Claims)
	return c, ok
}

// BearerFromContext returns the raw access token, or "" when absent.
func BearerFromContext(ctx context.Context) string {
	s, _ := ctx.Value(bearerKey).(string)
	return s
}
