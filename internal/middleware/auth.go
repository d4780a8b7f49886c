package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/imagebox/service/internal/response"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// SubjectIDKey is the context key for the authenticated subject's id.
const SubjectIDKey contextKey = "subjectID"

// RequireAuth returns middleware that validates a Bearer JWT and injects the
// token subject into the request context. Token issuance lives with the
// external auth service; this service only verifies.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
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
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				response.Unauthorized(w, "invalid or expired token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				response.Unauthorized(w, "invalid token claims")
				return
			}

			subjectID, _ := claims["sub"].(string)
			if subjectID == "" {
				response.Unauthorized(w, "token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), SubjectIDKey, subjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectID returns the authenticated subject id from the request context,
// or the empty string outside RequireAuth.
func SubjectID(ctx context.Context) string {
	id, _ := ctx.Value(SubjectIDKey).(string)
	return id
}
