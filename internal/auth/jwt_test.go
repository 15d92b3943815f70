package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("jdoe", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Account != "jdoe" {
		t.Fatalf("expected jdoe, got %q", claims.Account)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
}

func TestCreateToken_TokensAreDistinct(t *testing.T) {
	cfg := DefaultTokenConfig("secret")
	a, _ := CreateToken("jdoe", cfg)
	b, _ := CreateToken("jdoe", cfg)
	if a == b {
		t.Fatalf("expected unique token ids")
	}
}

func TestCreateToken_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		account string
		cfg     TokenConfig
	}{
		{"no secret", "jdoe", TokenConfig{Expiry: time.Hour}},
		{"no account", "", TokenConfig{Secret: "s", Expiry: time.Hour}},
		{"negative expiry", "jdoe", TokenConfig{Secret: "s", Expiry: -time.Second}},
	}
	for _, tc := range cases {
		if _, err := CreateToken(tc.account, tc.cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("jdoe", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	_, err = VerifyToken(tok, TokenConfig{Secret: "wrong", Expiry: time.Hour, Issuer: "test"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyToken_WrongIssuer(t *testing.T) {
	tok, _ := CreateToken("jdoe", TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "elsewhere"})
	if _, err := VerifyToken(tok, TokenConfig{Secret: "secret", Issuer: "dropmates"}); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	claims := Claims{
		Account: "jdoe",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "jdoe",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = VerifyToken(tok, TokenConfig{Secret: "secret"})
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		Account:          "jdoe",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyToken(tok, TokenConfig{Secret: "secret"}); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestMissingSecret(t *testing.T) {
	if _, err := CreateToken("jdoe", TokenConfig{Expiry: time.Hour}); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret from CreateToken, got %v", err)
	}
	if _, err := VerifyToken("x.y.z", TokenConfig{}); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret from VerifyToken, got %v", err)
	}
}
