// Package cli defines the dropmates command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"dropmates/internal/app"
	"dropmates/internal/batch"
	"dropmates/internal/config"
	"dropmates/internal/logging"
	"dropmates/internal/model"
	"dropmates/internal/ratelimit"
	"dropmates/internal/remote"
	"dropmates/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "0.1.0-dev"

type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

type Options struct {
	Streams Streams
	// Environ replaces the process environment and disables .env loading.
	Environ map[string]string
}

type rootFlags struct {
	username        string
	password        string
	configFile      string
	envFile         string
	apiURL          string
	cachePath       string
	verbose         int
	rebuild         bool
	excludeVerified bool
	interactive     bool
	followers       bool
	following       bool
	shame           bool
	auto            bool
}

func NewRootCommand(opts Options) *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "dropmates",
		Short: "List followers, find who does not follow you back, and unfollow them",
		Long: `dropmates caches your followers and following lists locally and answers
from the cache until you ask for a rebuild. Exactly one of --followers,
--following, --shame or --auto selects what to do.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd.Context(), opts, f)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.username, "username", "u", "", "account username")
	pf.StringVarP(&f.password, "password", "p", "", "account password")
	pf.StringVarP(&f.configFile, "config", "c", "", "credentials file (.json, .toml, .yaml)")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&f.apiURL, "api-url", "", "remote API base URL (default $DROPMATES_API_URL)")
	pf.StringVar(&f.cachePath, "cache", "", "cache file; .db/.sqlite/.sqlite3 selects SQLite (default $DROPMATES_CACHE_PATH)")
	pf.CountVarP(&f.verbose, "verbose", "v", "verbose logging (-vv for debug)")

	fl := root.Flags()
	fl.BoolVarP(&f.rebuild, "rebuild", "r", false, "rebuild the cache from the remote service")
	fl.BoolVarP(&f.excludeVerified, "verified", "x", false, "hide verified users")
	fl.BoolVarP(&f.interactive, "interactive", "i", false, "confirm each unfollow")
	fl.BoolVarP(&f.followers, "followers", "f", false, "show your followers")
	fl.BoolVarP(&f.following, "following", "o", false, "show the users you follow")
	fl.BoolVarP(&f.shame, "shame", "s", false, "show the users who do not follow you back")
	fl.BoolVarP(&f.auto, "auto", "a", false, "unfollow the users who do not follow you back")
	root.MarkFlagsMutuallyExclusive("followers", "following", "shame", "auto")
	root.MarkFlagsOneRequired("followers", "following", "shame", "auto")

	root.AddCommand(newServeCommand(opts, f), newTokenCommand(opts, f))
	return root
}

func loadConfig(opts Options, f *rootFlags) (config.Config, error) {
	var cfg config.Config
	var err error
	if opts.Environ != nil {
		cfg, err = config.LoadConfigFromEnv(opts.Environ)
	} else {
		if err := config.LoadDotEnv(f.envFile); err != nil {
			return config.Config{}, err
		}
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return config.Config{}, err
	}
	if f.apiURL != "" {
		cfg.APIURL = f.apiURL
	}
	if f.cachePath != "" {
		cfg.CachePath = f.cachePath
	}
	return cfg, nil
}

// session bundles everything an App needs; close releases it in reverse
// order, logging out first.
type session struct {
	app     *app.App
	logger  *zap.Logger
	closers []func()
}

func (s *session) close() {
	s.app.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	_ = s.logger.Sync()
}

func openSession(errOut io.Writer, cfg config.Config, f *rootFlags) (*session, error) {
	creds, err := config.ResolveCredentials(config.Credentials{Username: f.username, Password: f.password}, cfg, f.configFile)
	if err != nil {
		return nil, err
	}

	logger := logging.New(f.verbose, errOut)
	s := &session{logger: logger}

	limiter := ratelimit.NewRateLimiter(cfg.UnfollowLimit, cfg.UnfollowWindow)
	s.closers = append(s.closers, limiter.Stop)

	client, err := remote.NewClient(remote.Options{
		BaseURL:         cfg.APIURL,
		HTTPClient:      &http.Client{Timeout: cfg.HTTPTimeout},
		PageSize:        cfg.PageSize,
		Limiter:         limiter,
		BreakerFailures: cfg.BreakerFailures,
		Logger:          logger.Named("remote"),
	})
	if err != nil {
		limiter.Stop()
		return nil, err
	}

	st, err := store.Open(cfg.CachePath)
	if err != nil {
		limiter.Stop()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("close cache", zap.Error(err))
		}
	})

	s.app = app.New(creds.Username, st, app.NewRemoteDialer(client, creds.Username, creds.Password), app.WithLogger(logger))
	return s, nil
}

func runRoot(ctx context.Context, opts Options, f *rootFlags) error {
	cfg, err := loadConfig(opts, f)
	if err != nil {
		return err
	}
	s, err := openSession(opts.Streams.Err, cfg, f)
	if err != nil {
		return err
	}
	defer s.close()

	out := opts.Streams.Out
	if f.auto {
		req := app.UnfollowRequest{
			Rebuild:         f.rebuild,
			ExcludeVerified: f.excludeVerified,
			Interactive:     f.interactive,
		}
		if f.interactive {
			req.Confirmer = batch.NewTerminalPrompt(opts.Streams.In, out)
		}
		report, err := s.app.AutoUnfollow(ctx, req)
		printReport(out, report)
		if err != nil {
			return err
		}
		if n := len(report.Failed()); n > 0 {
			return fmt.Errorf("%d of %d unfollows failed", n, len(report.Outcomes))
		}
		if n := len(report.Unknown()); n > 0 {
			return fmt.Errorf("%d unfollows were interrupted; rebuild with -r to see their state", n)
		}
		return nil
	}

	view := app.ViewFollowers
	switch {
	case f.following:
		view = app.ViewFollowing
	case f.shame:
		view = app.ViewShame
	}
	users, err := s.app.List(ctx, view, f.rebuild, f.excludeVerified)
	if err != nil {
		return err
	}
	printUsers(out, users)
	return nil
}

func printUsers(w io.Writer, users []model.UserRecord) {
	for _, u := range users {
		fmt.Fprintln(w, u.String())
	}
	fmt.Fprintf(w, "Displayed %d users\n", len(users))
}

func printReport(w io.Writer, r model.ActionReport) {
	for _, o := range r.Outcomes {
		if o.Error != "" {
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.UserID, o.Status, o.Error)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", o.UserID, o.Status)
	}
	fmt.Fprintf(w, "Unfollowed %d users (%d failed, %d skipped", len(r.Succeeded()), len(r.Failed()), len(r.Skipped()))
	if n := len(r.Unknown()); n > 0 {
		fmt.Fprintf(w, ", %d unknown", n)
	}
	fmt.Fprintln(w, ")")
}
