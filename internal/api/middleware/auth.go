package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/apexkv/facebook-clone/internal/auth"
	"github.com/apexkv/facebook-clone/internal/models"
	"github.com/apexkv/facebook-clone/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware verifies bearer tokens on authenticated endpoints and
// resolves the caller to a known user.
type AuthMiddleware struct {
	validator auth.Validator
	store     store.DataStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator auth.Validator, ds store.DataStore) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, store: ds}
}

// RequireAuth rejects requests without a valid JWT and loads the
// authenticated user into the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		userID, err := m.validator.Validate(r.Context(), token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := m.store.GetUser(r.Context(), userID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			// Token is valid but the user was never synced over the
			// broker; treat as unauthorized rather than half-known.
			jsonError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
