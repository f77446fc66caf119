package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/punchsync/internal/store"
)

// PruneSchedule is when serve evicts expired dedup keys.
const PruneSchedule = "@daily"

// LedgerPruneOptions holds flags for the ledger prune command.
type LedgerPruneOptions struct {
	*RootOptions
	OlderThan time.Duration // Zero means the configured retention

	now func() time.Time
}

// PruneResult reports a prune run.
type PruneResult struct {
	Before    time.Time `json:"before"`
	Removed   int64     `json:"removed"`
	Remaining int64     `json:"remaining"`
}

func (r PruneResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Pruned %d dedup keys admitted before %s (%d remaining)\n",
		r.Removed, r.Before.Format(time.RFC3339), r.Remaining)
	return err
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the durable dedup ledger",
	}
	cmd.AddCommand(newLedgerPruneCommand(&LedgerPruneOptions{RootOptions: rootOpts, now: time.Now}))
	return cmd
}

func newLedgerPruneCommand(opts *LedgerPruneOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove dedup keys older than the retention window",
		Long: `Remove dedup keys admitted before now minus --older-than.

A pruned key no longer suppresses a late redelivery of the same punch. The
redelivery is then reapplied, which is harmless for a boundary that has not
moved, so the window only needs to cover the vendor's redelivery horizon.

Example:
  punchsync ledger prune --older-than 720h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerPrune(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "retention window (defaults to ledger.retention)")

	return cmd
}

func runLedgerPrune(opts *LedgerPruneOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	retention := opts.OlderThan
	if retention == 0 {
		retention = env.cfg.Ledger.Retention.Std()
	}
	if retention <= 0 {
		return out.Fail(ExitCommandError, CodeInput, fmt.Sprintf("retention must be positive, got %s", retention), nil)
	}

	ctx := cmd.Context()
	before := opts.now().Add(-retention)
	removed, err := env.store.PruneDedupKeys(ctx, before)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to prune ledger", err)
	}
	remaining, err := env.store.CountDedupKeys(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to count ledger", err)
	}

	env.logger.Info("ledger pruned", "before", before, "removed", removed, "remaining", remaining)
	return out.Success(PruneResult{Before: before, Removed: removed, Remaining: remaining})
}

// pruner evicts expired dedup keys on a cron schedule while serve runs.
type pruner struct {
	store     *store.Store
	retention time.Duration
	loc       *time.Location
	logger    *slog.Logger
	now       func() time.Time
}

func newPruner(st *store.Store, retention time.Duration, loc *time.Location, logger *slog.Logger) *pruner {
	return &pruner{store: st, retention: retention, loc: loc, logger: logger, now: time.Now}
}

func (p *pruner) Name() string { return "ledger-prune" }

func (p *pruner) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(p.logger.Handler(), slog.LevelDebug))),
	)
	if _, err := c.AddFunc(PruneSchedule, func() { p.prune(ctx) }); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (p *pruner) prune(ctx context.Context) {
	before := p.now().Add(-p.retention)
	removed, err := p.store.PruneDedupKeys(ctx, before)
	if err != nil {
		p.logger.Error("ledger prune failed", "error", err)
		return
	}
	p.logger.Info("ledger pruned", "before", before, "removed", removed)
}
