package middle

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mstgnz/gamevault/infra/auth"
	"github.com/mstgnz/gamevault/infra/response"
	"github.com/mstgnz/gamevault/ledger"
)

type contextKey string

const requesterKey contextKey = "requester"

// TokenValidator checks a bearer token
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.JWTClaims, error)
}

// AuthMiddleware resolves the bearer token into a ledger.Requester
func AuthMiddleware(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Error(w, http.StatusUnauthorized, "Authorization header required", nil)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Error(w, http.StatusUnauthorized, "Invalid authorization format. Use: Bearer <token>", nil)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if token == "" {
				response.Error(w, http.StatusUnauthorized, "Token required", nil)
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				message := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					message = "Token has expired"
				}
				response.Error(w, http.StatusUnauthorized, message, nil)
				return
			}

			requester := ledger.Requester{UserID: claims.UserID, Admin: claims.IsAdmin()}
			next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), requester)))
		})
	}
}

// RequireAdmin refuses requesters without the admin role
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requester, ok := GetRequester(r.Context())
			if !ok || !requester.Admin {
				response.Error(w, http.StatusForbidden, "Admin role required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithRequester stores the authenticated requester in ctx
func WithRequester(ctx context.Context, requester ledger.Requester) context.Context {
	return context.WithValue(ctx, requesterKey, requester)
}

// GetRequester returns the authenticated requester from ctx
func GetRequester(ctx context.Context) (ledger.Requester, bool) {
	requester, ok := ctx.Value(requesterKey).(ledger.Requester)
	return requester, ok && requester.UserID != ""
}
