package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/tabhq/tab-billing/internal/service"
)

type contextKey string

const merchantIDKey contextKey = "merchant_id"

// MerchantIDFromContext returns the authenticated merchant ID, or "" when the
// request was not authenticated.
func MerchantIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(merchantIDKey).(string)
	return id
}

// AuthMiddleware authenticates requests with either a bearer access token or
// an X-API-Key header and injects the merchant ID into the request context.
func AuthMiddleware(authSvc *service.AuthService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				merchantID, err := authSvc.AuthenticateAPIKey(r.Context(), apiKey)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "invalid api key")
					return
				}
				ctx := context.WithValue(r.Context(), merchantIDKey, merchantID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing credentials")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := authSvc.ValidateAccessToken(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), merchantIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
