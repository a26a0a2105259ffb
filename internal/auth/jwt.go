package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can read out of a credential without the
// server's key.
//
// The credential is opaque as far as the session contract goes. When it
// happens to be a JWT (it is with an echostream-style backend), the exp
// claim lets us skip a doomed /users/me round-trip at startup. Nothing here
// is trusted for authorization: only the server decides that.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspect parses the token WITHOUT verifying its signature.
//
// Returns an error for anything that is not a JWT; callers treat that as
// "opaque credential, ask the server".
func Inspect(token string) (*Claims, error) {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// Expired reports whether the claims carry an exp that has passed at now.
// A token without exp never expires client-side.
func (c *Claims) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}
