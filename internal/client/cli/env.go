package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/iudanet/jobsync/internal/client/api"
	"github.com/iudanet/jobsync/internal/client/auth"
	"github.com/iudanet/jobsync/internal/client/events"
	"github.com/iudanet/jobsync/internal/client/netstate"
	"github.com/iudanet/jobsync/internal/client/queue"
	"github.com/iudanet/jobsync/internal/client/storage/boltdb"
	jobsync "github.com/iudanet/jobsync/internal/client/sync"
	"github.com/iudanet/jobsync/internal/config"
	"github.com/iudanet/jobsync/internal/logging"
	"github.com/iudanet/jobsync/internal/merge"
	"github.com/iudanet/jobsync/internal/metrics"
	"github.com/iudanet/jobsync/internal/models"
	"github.com/iudanet/jobsync/internal/validation"
)

// flagKeys maps global flags to config keys
var flagKeys = map[string]string{
	"server":     config.KeyServer,
	"db":         config.KeyDB,
	"user":       config.KeyUser,
	"token-file": config.KeyTokenFile,
	"log-level":  config.KeyLogLevel,
}

// env is everything a command needs besides the terminal
type env struct {
	logger   *slog.Logger
	session  *auth.FileSession
	bus      *events.Bus
	monitor  *netstate.Monitor
	registry *prometheus.Registry
	engine   *jobsync.Engine[*models.Job]
	closers  []func() error
	cfg      config.Client
}

// setup loads the configuration, the logger and the session
func (o *Options) setup(cmd *cobra.Command) (*env, error) {
	v, err := config.New(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	config.SetClientDefaults(v)
	if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
		return nil, err
	}

	cfg, err := config.LoadClient(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		session:  auth.NewFileSession(cfg.TokenFile, logger),
		bus:      events.NewBus(),
		registry: prometheus.NewRegistry(),
		closers:  []func() error{closer.Close},
	}, nil
}

// open opens the local store and starts the sync engine. Offline leaves the
// engine in local-only mode.
func (e *env) open(ctx context.Context, offline bool) error {
	cfg := e.cfg

	strategy, err := merge.ParseStrategy(cfg.MergeStrategy)
	if err != nil {
		return err
	}

	user := cfg.User
	if user == "" {
		user = e.session.UserID(ctx)
	}

	kv, err := boltdb.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	e.closers = append(e.closers, kv.Close)

	jc := jobsync.Config[*models.Job]{
		KV:       kv,
		Bus:      e.bus,
		Metrics:  metrics.NewEngine(e.registry),
		Logger:   e.logger,
		Validate: validation.ValidateJob,
		App:      cfg.App,
		Entity:   cfg.Entity,
		User:     user,
		Merge:    merge.Options{Strategy: strategy, ConflictWindow: cfg.ConflictWindow},
		Queue: queue.Config{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
		},
		Throttle:      cfg.Throttle,
		SchemaVersion: cfg.SchemaVersion,
	}

	if !offline {
		client := api.NewClient(cfg.Server, e.session)
		e.monitor = netstate.NewMonitor(func(ctx context.Context) error {
			_, err := client.Health(ctx)
			return err
		}, e.bus, cfg.ProbeInterval, 0, e.logger)

		jc.Remote = client
		jc.Authenticated = e.session.Authenticated
		jc.Online = e.monitor.Online
		jc.Unreachable = e.monitor.ReportFailure

		if e.session.Authenticated(ctx) {
			e.monitor.Check(ctx)
		}
	}

	engine, err := jobsync.New(ctx, jc)
	if err != nil {
		return err
	}
	e.engine = engine

	return engine.Start(ctx)
}

// Close stops the engine and releases storage, in reverse order of opening
func (e *env) Close() {
	if e.engine != nil {
		e.engine.Close()
	}
	if e.monitor != nil {
		e.monitor.Close()
	}

	var errs []error
	for _, closeFn := range slices.Backward(e.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// forwardTriggers publishes a focus event for every signal on hup and, when
// interval is positive, on every tick. It returns when ctx is done.
func forwardTriggers(ctx context.Context, bus *events.Bus, hup <-chan os.Signal, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			bus.Publish(events.Event{Kind: events.Focus, Source: "signal"})
		case <-tick:
			bus.Publish(events.Event{Kind: events.Focus, Source: "timer"})
		}
	}
}
