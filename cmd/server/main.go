package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/iudanet/jobsync/internal/config"
	"github.com/iudanet/jobsync/internal/logging"
	"github.com/iudanet/jobsync/internal/metrics"
	"github.com/iudanet/jobsync/internal/server/app"
	"github.com/iudanet/jobsync/internal/server/handlers"
	"github.com/iudanet/jobsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

type options struct {
	cfg        config.Server
	logger     *slog.Logger
	logCloser  io.Closer
	configFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "jobsync-server",
		Short:         "Reference record server for jobsync clients",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to config file (yaml, json or toml)")
	cmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// load reads configuration and sets up logging. Flags bound to viper keys
// override the config file and the environment.
func (o *options) load(cmd *cobra.Command, bind map[string]string) error {
	v, err := config.New(o.configFile)
	if err != nil {
		return err
	}
	config.SetServerDefaults(v)

	bind["log-level"] = config.KeyLogLevel
	if err := config.BindFlags(v, cmd.Flags(), bind); err != nil {
		return err
	}

	cfg, err := config.LoadServer(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = logger
	o.logCloser = closer
	return nil
}

func (o *options) close() {
	if o.logCloser != nil {
		_ = o.logCloser.Close()
	}
}

func (o *options) jwtConfig() handlers.JWTConfig {
	return handlers.JWTConfig{
		Secret:         []byte(o.cfg.JWTSecret),
		AccessTokenTTL: o.cfg.AccessTTL,
	}
}

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd, map[string]string{
				"listen":     config.KeyListen,
				"db":         config.KeyDB,
				"rate-limit": config.KeyRateLimit,
			}); err != nil {
				return err
			}
			defer opts.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, opts)
		},
	}

	cmd.Flags().String("listen", "", "address to listen on (default :8080)")
	cmd.Flags().String("db", "", "path to the SQLite database")
	cmd.Flags().Int("rate-limit", 0, "requests per minute per client, 0 disables")

	return cmd
}

func runServe(ctx context.Context, opts *options) error {
	logger := opts.logger

	store, err := sqlite.New(ctx, opts.cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := app.New(app.Config{
		Logger:    logger,
		Storage:   store,
		Gatherer:  reg,
		Metrics:   metrics.NewServer(reg),
		JWT:       opts.jwtConfig(),
		RateLimit: opts.cfg.RateLimit,
	})
	defer srv.Close()

	ln, err := net.Listen("tcp", opts.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.cfg.Listen, err)
	}

	logger.Info("Server starting",
		"version", Version,
		"addr", ln.Addr().String(),
		"db", opts.cfg.DB,
		"rate_limit", opts.cfg.RateLimit,
	)

	return srv.Serve(ctx, ln)
}

func newTokenCommand(opts *options) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		Long: `Issue a signed access token. The token is handed to the client with
"jobsync login"; its subject is the user id that scopes the user's records.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(cmd, map[string]string{"ttl": config.KeyAccessTTL}); err != nil {
				return err
			}
			defer opts.close()

			token, expiresIn, err := handlers.GenerateAccessToken(opts.jwtConfig(), userID)
			if err != nil {
				return err
			}

			opts.logger.Debug("Token issued", "user_id", userID, "expires_in", expiresIn)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default 24h)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "jobsync server\n")
	fmt.Fprintf(w, "Version:    %s\n", Version)
	fmt.Fprintf(w, "Build Date: %s\n", BuildDate)
	fmt.Fprintf(w, "Git Commit: %s\n", GitCommit)
}
