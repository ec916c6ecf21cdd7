package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	// Read signing config from environment
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: AUTH_JWT_SECRET environment variable must be set")
		fmt.Fprintln(os.Stderr, "Usage: AUTH_JWT_SECRET=secret [JWT_ROLE=admin] go run scripts/generate-jwt.go")
		os.Exit(1)
	}

	issuer := os.Getenv("AUTH_ISSUER")
	if issuer == "" {
		issuer = "argus"
	}

	subject := os.Getenv("JWT_SUBJECT")
	if subject == "" {
		subject = "test-user-id"
	}

	// Create claims the auth middleware accepts
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"iss": issuer,
	}

	// JWT_ROLE=admin mints a token for the admin endpoints
	if role := os.Getenv("JWT_ROLE"); role != "" {
		claims["role"] = role
	}

	// Create token with HS256
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Sign the token
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing token: %v\n", err)
		os.Exit(1)
	}

	// Print the token
	fmt.Println(tokenString)
}
