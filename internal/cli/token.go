package cli

import (
	"fmt"

	"dropmates/internal/auth"
	"dropmates/internal/config"
	"github.com/spf13/cobra"
)

func newTokenCommand(opts Options, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, f)
			if err != nil {
				return err
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}
			account, err := resolveAccount(cfg, f)
			if err != nil {
				return err
			}

			tokenCfg := auth.DefaultTokenConfig(cfg.Server.MasterSecret)
			tokenCfg.Expiry = cfg.Server.TokenExpiry()
			tok, err := auth.CreateToken(account, tokenCfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(opts.Streams.Out, tok)
			return nil
		},
	}
}

// resolveAccount follows the credential precedence but needs no password.
func resolveAccount(cfg config.Config, f *rootFlags) (string, error) {
	if f.username != "" {
		return f.username, nil
	}
	if cfg.Username != "" {
		return cfg.Username, nil
	}
	if f.configFile != "" {
		creds, err := config.LoadCredentialsFile(f.configFile)
		if err != nil {
			return "", err
		}
		if creds.Username != "" {
			return creds.Username, nil
		}
	}
	return "", fmt.Errorf("%w: username not provided", config.ErrMissingCredentials)
}
