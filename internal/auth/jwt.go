// Package auth provides optional inbound bearer-JWT verification. It is
// off by default; the proxy only attaches it to /v1/messages when a JWT
// secret is configured.
package auth

import (
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set verified on an inbound bearer token: who
// is calling, nothing about what they're allowed to do (that's Cedar's
// job, see internal/auth/cedar).
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Config holds JWT verification configuration.
type Config struct {
	Secret []byte
	Issuer string
}

const minimumSecretLength = 32

// LoadConfig reads JWT_SECRET from the environment. ok is false when the
// variable is unset, meaning JWT verification should be skipped entirely.
func LoadConfig() (cfg Config, ok bool) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return Config{}, false
	}
	if len(secret) < minimumSecretLength {
		fmt.Fprintf(os.Stderr, "[warning] JWT_SECRET should be at least %d characters\n", minimumSecretLength)
	}
	return Config{Secret: []byte(secret), Issuer: "anthrobridge"}, true
}

// Verifier checks inbound bearer tokens against a configured HMAC secret.
type Verifier struct {
	cfg Config
}

// NewVerifier builds a Verifier from cfg.
func NewVerifier(cfg Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// Verify parses and validates tokenString, returning its claims on success.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
