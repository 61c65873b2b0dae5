package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const (
	tokenHeader             = "Authorization"
	tokenPrefix             = "Bearer "
	UserClaimsKey contextKey = "user_claims"
)

// RequireAuth wraps a handler, rejecting requests without a valid access
// token and injecting the verified claims into the request context.
func RequireAuth(signer *Signer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get(tokenHeader)
		if authHeader == "" {
			unauthorized(w, "missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, tokenPrefix) {
			unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := signer.Validate(strings.TrimPrefix(authHeader, tokenPrefix), ScopeAccess)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserClaims retrieves the authenticated claims from the context.
func GetUserClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
