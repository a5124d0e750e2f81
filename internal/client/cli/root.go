package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/iudanet/jobsync/internal/client/iocli"
	"github.com/iudanet/jobsync/internal/client/watch"
)

// sessionKey is the storage event key of session file changes
const sessionKey = "session"

// Options holds global flags and build information
type Options struct {
	IO         iocli.IO // nil - stdin/stdout
	ConfigFile string
	Version    string
	BuildDate  string
	GitCommit  string
	Offline    bool
}

func (o *Options) terminal() iocli.IO {
	if o.IO == nil {
		o.IO = iocli.NewStdio()
	}
	return o.IO
}

// run prepares the environment and calls fn. With withEngine the local store
// is opened and the engine started (and a first reconciliation run) before fn.
func (o *Options) run(cmd *cobra.Command, withEngine bool, fn func(ctx context.Context, c *Cli, e *env) error) error {
	ctx := cmd.Context()

	e, err := o.setup(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	c := New(o.terminal(), nil, e.session, e.cfg.Server)
	if withEngine {
		if err := e.open(ctx, o.Offline); err != nil {
			return err
		}
		c.jobs = e.engine
	}

	return fn(ctx, c, e)
}

// NewRootCommand creates the jobsync client command tree
func NewRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobsync",
		Short: "Offline-first job records synchronized across devices",
		Long: `jobsync keeps job records in a local database and synchronizes them
with a jobsync server in the background. Every command works offline;
changes are queued and pushed once the server is reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "path to config file (yaml, json or toml)")
	pf.BoolVar(&opts.Offline, "offline", false, "work with local data only, do not contact the server")
	pf.String("server", "", "server URL (default http://localhost:8080)")
	pf.String("db", "", "path to local database (default jobsync.db)")
	pf.String("user", "", "user namespace, defaults to the signed-in user")
	pf.String("token-file", "", "path to the session file")
	pf.String("log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newStatusCommand(opts),
		newAddCommand(opts),
		newUpdateCommand(opts),
		newRemoveCommand(opts),
		newListCommand(opts),
		newShowCommand(opts),
		newSyncCommand(opts, false),
		newSyncCommand(opts, true),
		newConflictsCommand(opts),
		newResolveCommand(opts),
		newVerifyCommand(opts),
		newClearCacheCommand(opts),
		newWatchCommand(opts),
		newVersionCommand(opts),
	)

	return cmd
}

func newLoginCommand(opts *Options) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an access token for the server",
		Long: `Store an access token issued by "jobsync-server token". Without --token
the token is read from stdin. The user id is taken from the token unless
--user is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, false, func(ctx context.Context, c *Cli, e *env) error {
				return c.runLogin(ctx, token, e.cfg.User)
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "access token")

	return cmd
}

func newLogoutCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, false, func(ctx context.Context, c *Cli, e *env) error {
				return c.runLogout(ctx)
			})
		},
	}
}

func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and synchronization state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runStatus(ctx)
			})
		},
	}
}

func newAddCommand(opts *Options) *cobra.Command {
	var f jobFields

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runAdd(ctx, f)
			})
		},
	}
	f.register(cmd)

	return cmd
}

func newUpdateCommand(opts *Options) *cobra.Command {
	var f jobFields

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runUpdate(ctx, args[0], f, cmd.Flags().Changed)
			})
		},
	}
	f.register(cmd)

	return cmd
}

func newRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runRemove(ctx, args[0])
			})
		},
	}
}

func newListCommand(opts *Options) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runList(ctx, state)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "show only jobs in this state")

	return cmd
}

func newShowCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"get"},
		Short:   "Show a job with its sync metadata",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runShow(ctx, args[0])
			})
		},
	}
}

func newSyncCommand(opts *Options, full bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runSync(ctx, full)
			})
		},
	}
	if full {
		cmd.Use = "force-sync"
		cmd.Short = "Discard the sync cursor and fetch everything from the server"
	}

	return cmd
}

func newConflictsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runConflicts(ctx)
			})
		},
	}
}

func newResolveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:       "resolve <id> <local|cloud|merge>",
		Short:     "Resolve a conflict",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"local", "cloud", "merge"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runResolve(ctx, args[0], args[1])
			})
		},
	}
}

func newVerifyCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check stored records against their checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Offline = true
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runVerify(ctx)
			})
		},
	}
}

func newClearCacheCommand(opts *Options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete local records, the queue and the sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Offline = true
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return c.runClearCache(ctx, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newWatchCommand(opts *Options) *cobra.Command {
	var (
		metricsAddr string
		interval    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing in the foreground and print sync events",
		Long: `Keep the engine running: it reconciles when the server comes back online,
when the session file changes, on SIGHUP and every --interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, true, func(ctx context.Context, c *Cli, e *env) error {
				return runWatchLoop(ctx, c, e, metricsAddr, interval)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "periodic sync interval, 0 disables")

	return cmd
}

func runWatchLoop(ctx context.Context, c *Cli, e *env, metricsAddr string, interval time.Duration) error {
	sub := e.bus.Subscribe(watchKinds...)
	defer sub.Close()

	if e.monitor != nil {
		e.monitor.Run()
	}

	w, err := watch.New(e.bus, e.logger)
	if err != nil {
		return err
	}
	if err := w.Add(e.cfg.TokenFile, sessionKey); err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer func() {
		if err := w.Stop(); err != nil {
			e.logger.Warn("Failed to stop file watcher", "error", err)
		}
	}()

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		e.logger.Info("Serving metrics", "addr", metricsAddr)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	triggersCtx, cancel := context.WithCancel(ctx)
	triggersDone := make(chan struct{})
	go func() {
		defer close(triggersDone)
		forwardTriggers(triggersCtx, e.bus, hup, interval)
	}()
	defer func() {
		cancel()
		<-triggersDone
	}()

	return c.runWatch(ctx, sub)
}

func newVersionCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "jobsync client\n")
			fmt.Fprintf(out, "Version:    %s\n", opts.Version)
			fmt.Fprintf(out, "Build Date: %s\n", opts.BuildDate)
			fmt.Fprintf(out, "Git Commit: %s\n", opts.GitCommit)
		},
	}
}
