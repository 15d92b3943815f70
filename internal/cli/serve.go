package cli

import (
	"time"

	"dropmates/internal/auth"
	"dropmates/internal/hub"
	"dropmates/internal/metrics"
	"dropmates/internal/ratelimit"
	"dropmates/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCommand(opts Options, f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the relationship views and unfollow batches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, f)
			if err != nil {
				return err
			}
			if err := cfg.Server.Validate(); err != nil {
				return err
			}

			s, err := openSession(opts.Streams.Err, cfg, f)
			if err != nil {
				return err
			}
			defer s.close()

			gin.SetMode(cfg.Server.GinMode)
			actionLimiter := ratelimit.NewRateLimiter(10, time.Minute)
			defer actionLimiter.Stop()

			tokenCfg := auth.DefaultTokenConfig(cfg.Server.MasterSecret)
			tokenCfg.Expiry = cfg.Server.TokenExpiry()
			router := server.NewRouter(server.Deps{
				App:           s.app,
				Hub:           hub.New(),
				TokenConfig:   tokenCfg,
				Logger:        s.logger.Named("http"),
				ActionLimiter: actionLimiter,
				Metrics:       metrics.NewCollector("dropmates"),
				Version:       version,
			})
			return server.Run(cmd.Context(), cfg.Server, router, s.logger)
		},
	}
}
