package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lachachiyasmine/medical-consultation-app-backend/internal/booking"
)

type contextKey string

const principalKey contextKey = "principal"

// Middleware extracts the bearer token, verifies it, and stores the
// Principal in the request context. Requests without a valid token get 401.
func Middleware(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}

			principal, err := m.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (booking.Principal, bool) {
	p, ok := ctx.Value(principalKey).(booking.Principal)
	return p, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "details": msg})
}
