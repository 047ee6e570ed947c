package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

type contextKey string

const userContextKey contextKey = "user"

type TokenValidator interface {
	Validate(token string) (string, error)
}

type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// AuthMiddleware resolves the bearer token to a stored user once per
// request and places it in the request context.
type AuthMiddleware struct {
	tokens TokenValidator
	users  UserFinder
	logger *logrus.Logger
}

func NewAuthMiddleware(tokens TokenValidator, users UserFinder, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		logger: logger,
	}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, "Missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondUnauthorized(w, "Invalid authorization header format")
			return
		}

		email, err := m.tokens.Validate(parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondUnauthorized(w, "Invalid or expired token")
			return
		}

		user, err := m.users.FindByEmail(r.Context(), email)
		if err != nil {
			m.logger.WithError(err).Error("Failed to resolve token user")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(errorBody("INTERNAL_ERROR", "Internal server error"))
			return
		}
		if user == nil {
			m.respondUnauthorized(w, "Not authenticated")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated user, or nil outside
// RequireAuth.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(errorBody("UNAUTHORIZED", message))
}

func errorBody(code, message string) map[string]map[string]string {
	return map[string]map[string]string{
		"error": {"code": code, "message": message},
	}
}
