package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/punchsync/internal/aggregate"
	"github.com/roach88/punchsync/internal/config"
	"github.com/roach88/punchsync/internal/ingest"
	"github.com/roach88/punchsync/internal/ingest/poll"
	"github.com/roach88/punchsync/internal/ingest/push"
	"github.com/roach88/punchsync/internal/ingest/socket"
	"github.com/roach88/punchsync/internal/ledger"
	"github.com/roach88/punchsync/internal/notify"
	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/store"
)

// DefaultDrainTimeout bounds how long serve waits for queued transactions
// after the adapters stop.
const DefaultDrainTimeout = 30 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	DrainTimeout time.Duration

	// ready, when set, receives the started adapters (for testing).
	ready func([]ingest.Adapter)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion adapters and the reconciliation pipeline",
		Long: `Start the punch pipeline and every ingestion adapter enabled in the config:
the scheduled vendor API poller, the push receiver and one raw socket
listener per device with a socket address.

Configured devices are registered in the database before intake starts.
On SIGINT or SIGTERM the adapters stop, queued transactions are drained
and the process exits.

Example:
  punchsync serve --config ./punchsync.cue
  punchsync serve --db /var/lib/punchsync.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.DrainTimeout, "drain-timeout", DefaultDrainTimeout, "how long to drain queued transactions on shutdown")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()
	cfg, logger, st := env.cfg, env.logger, env.store

	loc, err := cfg.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid timezone", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registerDevices(ctx, st, cfg.Devices); err != nil {
		return WrapExitError(ExitCommandError, "failed to register devices", err)
	}

	var hub *notify.Hub
	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.Push.Enabled && cfg.Push.Events {
		hub = notify.NewHub(notify.DefaultSubscriberBuffer)
		defer hub.Close()
		notifiers = append(notifiers, hub)
	}

	agg := aggregate.New(st, aggregate.WithLogger(logger))
	pl := pipeline.New(st, agg,
		pipeline.WithLedger(newLedger(cfg.Ledger)),
		pipeline.WithNotifier(notifiers),
		pipeline.WithLogger(logger),
		pipeline.WithLocation(loc),
		pipeline.WithWorkers(cfg.Workers),
	)

	adapters := buildAdapters(cfg, st, pl, hub, loc, logger)
	if len(adapters) == 0 {
		return NewExitError(ExitCommandError, "no ingestion adapters enabled: enable poll or push, or give a device a socket address")
	}
	if cfg.Ledger.Retention > 0 {
		adapters = append(adapters, newPruner(st, cfg.Ledger.Retention.Std(), loc, logger))
	}

	// The pipeline outlives the adapters so queued work can drain.
	pipeCtx, cancelPipe := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPipe()
	pipeDone := make(chan error, 1)
	go func() {
		pipeDone <- pl.Run(pipeCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			logger.Info("adapter starting", "adapter", a.Name())
			err := a.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("adapter failed", "adapter", a.Name(), "error", err)
				return fmt.Errorf("%s: %w", a.Name(), err)
			}
			logger.Info("adapter stopped", "adapter", a.Name())
			return nil
		})
	}

	logger.Info("punchsync started", "db", cfg.Database, "adapters", len(adapters), "workers", cfg.Workers)
	fmt.Fprintln(cmd.OutOrStdout(), "punchsync started. Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready(adapters)
	}

	adapterErr := g.Wait()

	pl.Close()
	drainTimer := time.AfterFunc(opts.DrainTimeout, cancelPipe)
	defer drainTimer.Stop()
	drainErr := <-pipeDone

	stats := pl.Stats()
	logger.Info("punchsync stopped",
		"applied", stats.Applied,
		"unchanged", stats.Unchanged,
		"duplicate", stats.Duplicate,
		"dropped", stats.Dropped,
		"abandoned", pl.Pending(),
	)

	if adapterErr != nil {
		return WrapExitError(ExitFailure, "adapter error", adapterErr)
	}
	if drainErr != nil {
		return WrapExitError(ExitFailure, "pipeline did not drain", drainErr)
	}
	return nil
}

// registerDevices upserts every configured device.
func registerDevices(ctx context.Context, st *store.Store, devices []config.DeviceConfig) error {
	for _, d := range devices {
		if err := st.UpsertDevice(ctx, d.Device()); err != nil {
			return fmt.Errorf("device %s: %w", d.Serial, err)
		}
	}
	return nil
}

func newLedger(cfg config.LedgerConfig) *ledger.Memory {
	var opts []ledger.Option
	if cfg.MaxEntries > 0 {
		opts = append(opts, ledger.WithMaxEntries(cfg.MaxEntries))
	}
	if cfg.TTL > 0 {
		opts = append(opts, ledger.WithTTL(cfg.TTL.Std()))
	}
	return ledger.NewMemory(opts...)
}

// buildAdapters creates the adapters enabled by cfg.
func buildAdapters(cfg *config.Config, st *store.Store, sink ingest.Sink, hub *notify.Hub, loc *time.Location, logger *slog.Logger) []ingest.Adapter {
	var adapters []ingest.Adapter

	if cfg.Poll.Enabled {
		var targets []poll.Target
		for _, d := range cfg.Devices {
			if d.Poll {
				targets = append(targets, poll.Target{Serial: d.Serial, Timeout: d.Timeout.Std()})
			}
		}
		if len(targets) > 0 {
			client := poll.NewHTTPClient(cfg.Poll.BaseURL, cfg.Poll.Token)
			if cfg.Poll.PageSize > 0 {
				client.PageSize = cfg.Poll.PageSize
			}
			adapters = append(adapters, poll.New(client, sink, st, targets,
				poll.WithSchedule(cfg.Poll.Schedule),
				poll.WithTimeout(cfg.Poll.Timeout.Std()),
				poll.WithLookback(cfg.Poll.Lookback.Std()),
				poll.WithInitialWindow(cfg.Poll.InitialWindow.Std()),
				poll.WithLocation(loc),
				poll.WithLogger(logger),
			))
		} else {
			logger.Warn("poll enabled but no device has poll set")
		}
	}

	if cfg.Push.Enabled {
		pushOpts := []push.Option{
			push.WithAddr(cfg.Push.Addr),
			push.WithToken(cfg.Push.Token),
			push.WithLocation(loc),
			push.WithLogger(logger),
		}
		if hub != nil {
			pushOpts = append(pushOpts, push.WithHub(hub))
		}
		adapters = append(adapters, push.New(sink, pushOpts...))
	}

	for _, d := range cfg.Devices {
		if d.Socket == "" {
			continue
		}
		adapters = append(adapters, socket.New(d.Socket, d.Serial, sink,
			socket.WithLocation(loc),
			socket.WithLogger(logger),
		))
	}

	return adapters
}
