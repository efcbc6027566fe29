// Package tokeninfo reads claims from session tokens issued by the ticketing backend.
//
// Signatures are NOT verified: the backend is the only party that can check its own
// tokens. Claims read here are used for diagnostics and status reporting, never for
// authorization decisions.
package tokeninfo

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of registered claims the gateway reports on.
type Claims struct {
	Subject   string
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

var parser = jwt.NewParser()

// Inspect parses token as a JWT without verifying it. ok is false for opaque tokens.
func Inspect(token string) (Claims, bool) {
	var rc jwt.RegisteredClaims
	if _, _, err := parser.ParseUnverified(token, &rc); err != nil {
		return Claims{}, false
	}
	c := Claims{Subject: rc.Subject}
	if rc.IssuedAt != nil {
		t := rc.IssuedAt.Time.UTC()
		c.IssuedAt = &t
	}
	if rc.ExpiresAt != nil {
		t := rc.ExpiresAt.Time.UTC()
		c.ExpiresAt = &t
	}
	return c, true
}

// Expiry returns the exp claim of token, if it is a JWT that carries one.
func Expiry(token string) (time.Time, bool) {
	c, ok := Inspect(token)
	if !ok || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return *c.ExpiresAt, true
}
