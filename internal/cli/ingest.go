package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/punchsync/internal/aggregate"
	"github.com/roach88/punchsync/internal/ingest"
	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/punch"
)

// Input formats accepted by the ingest command.
const (
	InputSocket = "socket"
	InputATTLOG = "attlog"
	InputJSON   = "json"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Input  string
	Serial string
	Strict bool
}

// IngestResult summarizes one ingest run.
type IngestResult struct {
	Stats pipeline.Stats   `json:"stats"`
	Drops map[string]int64 `json:"drops,omitempty"` // Count per drop code
}

func (r IngestResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Applied: %d, unchanged: %d, duplicate: %d, dropped: %d\n",
		r.Stats.Applied, r.Stats.Unchanged, r.Stats.Duplicate, r.Stats.Dropped)
	codes := make([]string, 0, len(r.Drops))
	for code := range r.Drops {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", code, r.Drops[code]); err != nil {
			return err
		}
	}
	return nil
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Replay a punch dump through the pipeline",
		Long: `Feed a file of punches through the same pipeline serve uses, one
transaction at a time and in file order. Use "-" to read standard input.

Input formats:
  socket - raw socket lines: userId<TAB>timestamp<TAB>status
  attlog - ADMS ATTLOG lines: PIN<TAB>timestamp<TAB>state<TAB>verify
  json   - vendor API records (array, page object or single record)

Line formats carry no device serial, so --serial is required for them.
Already applied punches come back as duplicates, so replays are safe.

Exit codes:
  0 - Every transaction was applied, unchanged or duplicate
  1 - Some transactions were dropped (with --strict)
  2 - Command error

Example:
  punchsync ingest --input socket --serial CQZ7224460246 ./dump.tsv
  punchsync ingest --input json ./export.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", InputSocket, "input format (socket|attlog|json)")
	cmd.Flags().StringVar(&opts.Serial, "serial", "", "device serial for line input, and the fallback for JSON records")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 if any transaction is dropped")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	switch opts.Input {
	case InputSocket, InputATTLOG:
		if opts.Serial == "" {
			return out.Fail(ExitCommandError, CodeInput, fmt.Sprintf("--serial is required for %s input", opts.Input), nil)
		}
	case InputJSON:
	default:
		return out.Fail(ExitCommandError, CodeInput, fmt.Sprintf("invalid input %q: must be one of socket, attlog, json", opts.Input), nil)
	}

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return out.Fail(ExitCommandError, CodeInput, "failed to open input", err)
		}
		defer f.Close()
		r = f
	}

	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	loc, err := env.cfg.Location()
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid timezone", err)
	}

	ctx := cmd.Context()
	if err := registerDevices(ctx, env.store, env.cfg.Devices); err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to register devices", err)
	}

	pl := pipeline.New(env.store, aggregate.New(env.store, aggregate.WithLogger(env.logger)),
		pipeline.WithLogger(env.logger),
		pipeline.WithLocation(loc),
	)

	drops := map[string]int64{}
	malformed := func(err error) {
		ingest.LogMalformed(env.logger, punch.OriginFile, err)
		drops[string(pipeline.CodeOf(err))]++
	}
	process := func(t punch.RawTransaction) {
		res := pl.Process(ctx, t)
		out.VerboseLog("%s", res)
		if res.Outcome == pipeline.OutcomeDropped {
			drops[string(pipeline.CodeOf(res.Err))]++
		}
	}

	normalizeOpts := ingest.Options{DeviceSerial: opts.Serial, Location: loc, Origin: punch.OriginFile}
	switch opts.Input {
	case InputSocket, InputATTLOG:
		format := ingest.FormatSocket
		if opts.Input == InputATTLOG {
			format = ingest.FormatATTLOG
		}
		err = ingest.ScanLines(r, format, opts.Serial, normalizeOpts, process, malformed)
	case InputJSON:
		var records []ingest.Record
		records, err = ingest.DecodeRecords(r)
		for _, rec := range records {
			t, nerr := ingest.NormalizeRecord(rec, normalizeOpts)
			if nerr != nil {
				malformed(nerr)
				continue
			}
			process(t)
		}
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to read input", err)
	}

	result := IngestResult{Stats: pl.Stats(), Drops: drops}
	// Records that never became transactions are drops too.
	result.Stats.Dropped = 0
	for _, n := range drops {
		result.Stats.Dropped += n
	}
	if len(drops) == 0 {
		result.Drops = nil
	}

	if err := out.Success(result); err != nil {
		return err
	}
	if opts.Strict && result.Stats.Dropped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d transaction(s) dropped", result.Stats.Dropped))
	}
	return nil
}
