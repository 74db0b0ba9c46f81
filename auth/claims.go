// Package auth implements bearer-token issuance and validation for the
// observability API: symmetric JWTs carrying a subject and a scope set.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the exact JWT payload shape: {"sub":..., "scopes":[...], "exp":...?}.
// jwt.MapClaims would marshal its fields in alphabetical key order ("exp"
// before "scopes" before "sub"), which does not match the field order the
// token format requires. A concrete struct with explicit json tags fixes
// the order; exp is a pointer so it is omitted entirely when no expiry was
// requested, rather than round-tripping as zero.
type claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
	Exp     *int64   `json:"exp,omitempty"`
}

func (c claims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Exp == nil {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(*c.Exp, 0)), nil
}

func (c claims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c claims) GetIssuer() (string, error)              { return "", nil }
func (c claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

var _ jwt.Claims = claims{}

// TokenData is the parsed, validated result of checking a token's
// authorization.
type TokenData struct {
	Username string
	Scopes   []string
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// signingMethod resolves an algorithm name to a jwt.SigningMethod. Only
// symmetric (HMAC) algorithms are supported: the spec's secret/algorithm
// pair is always a shared secret, never a keypair.
func signingMethod(algorithm string) (jwt.SigningMethod, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing algorithm %q is not symmetric", algorithm)
	}
	return method, nil
}
