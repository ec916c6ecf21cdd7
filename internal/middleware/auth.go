package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tenantwatch/argus/internal/config"
)

type contextKey string

const (
	RequesterIDKey contextKey = "requesterID"
	RoleKey        contextKey = "role"
)

// AuthMiddleware validates the bearer JWT on every request
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Unauthorized: Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			tokenString := parts[1]

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(cfg.AuthJWTSecret), nil
			})

			if err != nil || !token.Valid {
				http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Unauthorized: Invalid claims", http.StatusUnauthorized)
				return
			}

			// Validate issuer
			iss, _ := claims["iss"].(string)
			if iss != cfg.AuthIssuer {
				http.Error(w, "Unauthorized: Invalid issuer", http.StatusUnauthorized)
				return
			}

			// Extract requester ID (sub claim)
			requesterID, ok := claims["sub"].(string)
			if !ok || requesterID == "" {
				http.Error(w, "Unauthorized: Missing sub claim", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), RequesterIDKey, requesterID)
			if role, ok := claims["role"].(string); ok {
				ctx = context.WithValue(ctx, RoleKey, role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequesterID extracts the requester ID from request context
func GetRequesterID(ctx context.Context) (string, bool) {
	requesterID, ok := ctx.Value(RequesterIDKey).(string)
	return requesterID, ok
}

// GetRole extracts the token's role claim from request context
func GetRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// RequireAuth is a helper that returns 401 if no requester ID in context
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetRequesterID(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates admin-only routes on the token's role claim
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, ok := GetRole(r.Context()); !ok || role != "admin" {
			http.Error(w, "Forbidden: Admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
