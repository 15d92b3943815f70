// Package auth issues and verifies the bearer tokens that guard the local
// HTTP API. Tokens are HS256 JWTs bound to the account the server manages.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("token secret is not configured")
)

const DefaultExpiry = 7 * 24 * time.Hour

type Claims struct {
	Account string `json:"sub"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{Secret: secret, Expiry: DefaultExpiry, Issuer: "dropmates"}
}

func (cfg TokenConfig) key(*jwt.Token) (any, error) {
	return []byte(cfg.Secret), nil
}

// CreateToken mints a token for account. Each token carries a fresh jti.
func CreateToken(account string, cfg TokenConfig) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", ErrNoSecret
	case account == "":
		return "", errors.New("token account is empty")
	case cfg.Expiry <= 0:
		return "", fmt.Errorf("token expiry must be positive, got %s", cfg.Expiry)
	}

	issued := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   account,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(cfg.Expiry)),
		},
	}).SignedString([]byte(cfg.Secret))
}

// VerifyToken accepts only HS256 tokens with an expiry, and checks the issuer
// when cfg names one.
func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, cfg.key, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Account == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
