package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/droplite/service/internal/response"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// OperatorKey is the context key for the authenticated operator's subject.
const OperatorKey contextKey = "operator"

// OperatorRole is the role claim required on admin tokens.
const OperatorRole = "operator"

// RequireOperator returns middleware that validates an HMAC-signed Bearer JWT
// carrying role=operator and injects its subject into the request context.
func RequireOperator(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "invalid authorization header format")
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				response.Unauthorized(w, "invalid token claims")
				return
			}
			if role, _ := claims["role"].(string); role != OperatorRole {
				response.Forbidden(w, "operator role required")
				return
			}

			subject, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), OperatorKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOperatorToken signs a token accepted by RequireOperator.
func NewOperatorToken(jwtSecret, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims{
		Role:             OperatorRole,
		RegisteredClaims: claims,
	})
	return token.SignedString([]byte(jwtSecret))
}

type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
