package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "this-is-a-test-secret-at-least-32-bytes-long"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := NewVerifier(Config{Secret: []byte(testSecret), Issuer: "anthrobridge"})
	signed := signToken(t, testSecret, Claims{
		Subject: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Subject = %q, want user-123", claims.Subject)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier(Config{Secret: []byte(testSecret)})
	signed := signToken(t, "a-completely-different-secret-value-32b", Claims{Subject: "user-123"})

	if _, err := v.Verify(signed); err == nil {
		t.Fatal("Verify() error = nil, want error for a token signed with a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(Config{Secret: []byte(testSecret)})
	signed := signToken(t, testSecret, Claims{
		Subject: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	if _, err := v.Verify(signed); err == nil {
		t.Fatal("Verify() error = nil, want error for an expired token")
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	v := NewVerifier(Config{Secret: []byte(testSecret)})

	if _, err := v.Verify("not-a-jwt"); err == nil {
		t.Fatal("Verify() error = nil, want error for a malformed token")
	}
}

func TestLoadConfigAbsentSecretDisablesVerification(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, ok := LoadConfig()
	if ok {
		t.Fatal("LoadConfig() ok = true, want false when JWT_SECRET is unset")
	}
}

func TestLoadConfigPresentSecretEnablesVerification(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, ok := LoadConfig()
	if !ok {
		t.Fatal("LoadConfig() ok = false, want true when JWT_SECRET is set")
	}
	if string(cfg.Secret) != testSecret {
		t.Errorf("Secret = %q, want %q", cfg.Secret, testSecret)
	}
	if cfg.Issuer != "anthrobridge" {
		t.Errorf("Issuer = %q, want anthrobridge", cfg.Issuer)
	}
}
