package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingCredentials = errors.New("missing credentials")

type Credentials struct {
	Username string `json:"username" toml:"username" yaml:"username" validate:"required"`
	Password string `json:"password" toml:"password" yaml:"password" validate:"required"`
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadCredentialsFile reads a JSON, TOML or YAML file chosen by extension.
func LoadCredentialsFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &creds)
	case ".toml":
		err = toml.Unmarshal(data, &creds)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &creds)
	default:
		return Credentials{}, fmt.Errorf("unsupported credentials file %q: want .json, .toml, .yaml or .yml", path)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return creds, nil
}

// ResolveCredentials fills each field from the first source that has it:
// flags, then the environment, then the credentials file. The file is read
// only when a field is still missing.
func ResolveCredentials(flags Credentials, cfg Config, file string) (Credentials, error) {
	creds := Credentials{
		Username: firstNonEmpty(flags.Username, cfg.Username),
		Password: firstNonEmpty(flags.Password, cfg.Password),
	}
	if (creds.Username == "" || creds.Password == "") && file != "" {
		fromFile, err := LoadCredentialsFile(file)
		if err != nil {
			return Credentials{}, err
		}
		creds.Username = firstNonEmpty(creds.Username, fromFile.Username)
		creds.Password = firstNonEmpty(creds.Password, fromFile.Password)
	}

	if err := validate.Struct(creds); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, strings.ToLower(fe.Field()))
			}
			return Credentials{}, fmt.Errorf("%w: %s not provided", ErrMissingCredentials, strings.Join(missing, " and "))
		}
		return Credentials{}, err
	}
	return creds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
