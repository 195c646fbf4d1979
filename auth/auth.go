// Package auth parses the bearer JWT a mocked request may carry into a
// caller Principal, generalized from the gateway's authMiddleware
// (cmd/gateway/middleware.go): same HS256-only, RegisteredClaims-backed
// token shape, minus the session-store/API-key lookup, since MockForge
// never owns real user accounts — it only needs a stable identity string
// to expose to fixtures, chains, and analytics.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingBearer is returned when the Authorization header is absent
// or not a "Bearer <token>" value.
var ErrMissingBearer = errors.New("auth: missing bearer token")

// Claims is the JWT payload mockforged expects: a subject identifying the
// caller, carried in the standard registered claim set.
type Claims struct {
	jwt.RegisteredClaims
}

// Issue signs a token for subject with secret, for test fixtures and
// local tooling that need to mint a bearer token without a real issuer.
func Issue(subject string, secret []byte) (string, error) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// PrincipalFromHeader extracts and verifies the bearer token in an
// Authorization header, returning its subject claim as the caller's
// Principal. An empty or malformed header yields ErrMissingBearer; an
// invalid signature or expired token yields the underlying jwt error.
func PrincipalFromHeader(authHeader string, secret []byte) (string, error) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrMissingBearer
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == "" {
		return "", ErrMissingBearer
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("auth: token invalid")
	}
	return claims.Subject, nil
}
