// Package auth provides token verification for the real-time channel.
// Token issuance, registration and password hashing live in an external
// service; this package only answers "whose token is this".
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinymud/tinymud/internal/dependencies/clock"
	"github.com/tinymud/tinymud/internal/model"
)

// ErrInvalidToken is returned for any token that does not verify
var ErrInvalidToken = errors.New("invalid token")

// Verifier checks an opaque token and resolves the user it belongs to
type Verifier interface {
	Verify(token string) (model.UserID, error)
}

// Claims is the JWT payload shared with the token issuer
type Claims struct {
	UserID model.UserID `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 JWTs signed with a shared secret
type JWTVerifier struct {
	secret []byte
	clock  clock.Clock
}

// Ensure JWTVerifier implements the interface
var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier for the given shared secret.
// Expiry claims are checked against the given clock.
func NewJWTVerifier(secret []byte, clk clock.Clock) *JWTVerifier {
	return &JWTVerifier{secret: secret, clock: clk}
}

// Verify parses and validates the token, returning the user id claim
func (v *JWTVerifier) Verify(token string) (model.UserID, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock.Now))
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
