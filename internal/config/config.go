// Package config loads process settings from the environment and resolves
// account credentials from flags, environment and credential files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Username string `env:"DROPMATES_USERNAME"`
	Password string `env:"DROPMATES_PASSWORD"`

	APIURL          string        `env:"DROPMATES_API_URL"`
	CachePath       string        `env:"DROPMATES_CACHE_PATH" envDefault:"dropmates-cache.json" validate:"required"`
	PageSize        int           `env:"DROPMATES_PAGE_SIZE" envDefault:"200" validate:"min=1,max=1000"`
	HTTPTimeout     time.Duration `env:"DROPMATES_HTTP_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	UnfollowLimit   int           `env:"DROPMATES_UNFOLLOW_LIMIT" envDefault:"10" validate:"min=0"`
	UnfollowWindow  time.Duration `env:"DROPMATES_UNFOLLOW_WINDOW" envDefault:"1m" validate:"gt=0"`
	BreakerFailures uint32        `env:"DROPMATES_BREAKER_FAILURES" envDefault:"3" validate:"min=1"`

	Server ServerConfig
}

// ServerConfig is only required by the serve command.
type ServerConfig struct {
	Port               int    `env:"PORT" envDefault:"3000" validate:"min=1,max=65535"`
	MasterSecret       string `env:"MASTER_SECRET"`
	GinMode            string `env:"GIN_MODE" envDefault:"release"`
	TLSCertFile        string `env:"TLS_CERT_FILE"`
	TLSKeyFile         string `env:"TLS_KEY_FILE"`
	TokenExpirySeconds int    `env:"TOKEN_EXPIRY_SECONDS" envDefault:"604800" validate:"min=1"`
}

func (s ServerConfig) TokenExpiry() time.Duration {
	return time.Duration(s.TokenExpirySeconds) * time.Second
}

func (s ServerConfig) Validate() error {
	if s.MasterSecret == "" {
		return errors.New("MASTER_SECRET is required")
	}
	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads the process environment.
func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(nil)
}

// LoadConfigFromEnv reads environ instead of the process environment when it
// is non-nil.
func LoadConfigFromEnv(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %s", describe(err))
	}
	return cfg, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
