// Package token decodes session tokens minted by the identity backend and
// answers freshness questions about them. Tokens are opaque signed strings
// (base64url JSON segments); signature verification belongs to the backend
// that minted them, so decoding here is deliberately unverified.
package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims is the identity projection carried by a session token.
type Claims struct {
	Issuer         string    // iss
	Subject        string    // sub - the user's unique ID
	Email          string    // email (optional)
	Name           string    // name (optional)
	SignInProvider string    // sign-in provider tag (optional)
	IssuedAt       time.Time // iat
	ExpiresAt      time.Time // exp
}

// Decode parses a raw session token without verifying its signature and
// returns the identity claims it carries. An empty or malformed token is an
// error; time-validity is a separate question answered by ValidAt.
func Decode(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.New("[token.Decode] empty token")
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "[token.Decode] ParseUnverified")
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("[token.Decode] error extracting claims")
	}

	iss, _ := mapClaims["iss"].(string)
	sub, _ := mapClaims["sub"].(string)
	email, _ := mapClaims["email"].(string)
	name, _ := mapClaims["name"].(string)
	iat, _ := mapClaims["iat"].(float64)
	exp, _ := mapClaims["exp"].(float64)

	if exp == 0 {
		return nil, errors.New("[token.Decode] token missing exp claim")
	}
	if iat == 0 {
		return nil, errors.New("[token.Decode] token missing iat claim")
	}

	return &Claims{
		Issuer:         iss,
		Subject:        sub,
		Email:          email,
		Name:           name,
		SignInProvider: signInProvider(mapClaims),
		IssuedAt:       time.Unix(int64(iat), 0),
		ExpiresAt:      time.Unix(int64(exp), 0),
	}, nil
}

// signInProvider extracts the optional provider tag. Backends either put it
// at the top level or nest it under a provider-specific claim object
// (e.g. "firebase": {"sign_in_provider": "password"}).
func signInProvider(claims jwtlib.MapClaims) string {
	if provider, ok := claims["sign_in_provider"].(string); ok {
		return provider
	}
	if nested, ok := claims["firebase"].(map[string]any); ok {
		if provider, ok := nested["sign_in_provider"].(string); ok {
			return provider
		}
	}
	return ""
}

// ValidAt reports whether the claims are time-valid at the given instant:
// issued-at must not be in the future and the expiry must be strictly later.
func (c *Claims) ValidAt(at time.Time) bool {
	if c == nil {
		return false
	}
	if c.IssuedAt.After(at) {
		return false
	}
	return c.ExpiresAt.After(at)
}

// Valid reports whether the claims are time-valid right now.
func (c *Claims) Valid() bool {
	return c.ValidAt(NowTimeFunc())
}

// Remaining returns the lifetime left on the token at the given instant.
// Expired tokens yield a non-positive duration.
func (c *Claims) Remaining(at time.Time) time.Duration {
	return c.ExpiresAt.Sub(at)
}
