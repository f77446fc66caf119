package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/punchsync/internal/aggregate"
	"github.com/roach88/punchsync/internal/punch"
)

// ManualOptions holds flags for the manual command.
type ManualOptions struct {
	*RootOptions
	Entry aggregate.ManualEntry
	Date  string
	Type  string
}

// NewManualCommand creates the manual command.
func NewManualCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ManualOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Record an operator attendance entry",
		Long: `Write a manual attendance entry. The entry replaces the day's status,
times and field-work details; later biometric punches still update the
arrival and departure.

Times are HH:MM or HH:MM:SS in the tenant timezone. Status is one of
Present, Absent, Half-Day, "Week Off", Holiday, "Paid Leave".

Example:
  punchsync manual --employee 42 --org 1 --date 2024-01-10 --status Present \
    --arrival 09:00 --departure 18:00
  punchsync manual --employee 42 --org 1 --date 2024-01-11 --status Present \
    --type WORK_FROM_FIELD --field-location "Client site"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManual(opts, cmd)
		},
	}

	e := &opts.Entry
	cmd.Flags().Int64Var(&e.EmployeeID, "employee", 0, "employee ID (required)")
	cmd.Flags().Int64Var(&e.OrganizationID, "org", 0, "organization ID (required)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "civil date YYYY-MM-DD (required)")
	cmd.Flags().StringVar((*string)(&e.Status), "status", string(punch.StatusPresent), "attendance status")
	cmd.Flags().StringVar(&e.Arrival, "arrival", "", "arrival time")
	cmd.Flags().StringVar(&e.Departure, "departure", "", "departure time")
	cmd.Flags().StringVar(&e.LunchStart, "lunch-start", "", "lunch start time")
	cmd.Flags().StringVar(&e.LunchEnd, "lunch-end", "", "lunch end time")
	cmd.Flags().StringVar(&opts.Type, "type", string(punch.TypeOffice), "attendance type (OFFICE|WORK_FROM_FIELD)")
	cmd.Flags().StringVar(&e.FieldLocation, "field-location", "", "field location, required for WORK_FROM_FIELD")
	for _, name := range []string{"employee", "org", "date"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runManual(opts *ManualOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	entry := opts.Entry
	entry.Date = punch.Date(opts.Date)
	entry.Type = punch.AttendanceType(opts.Type)
	if err := entry.Validate(); err != nil {
		return out.Fail(ExitCommandError, CodeInput, "invalid manual entry", err)
	}

	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()

	day, err := aggregate.New(env.store, aggregate.WithLogger(env.logger)).ApplyManual(cmd.Context(), entry)
	switch {
	case errors.Is(err, aggregate.ErrUnknownEmployee):
		return out.Fail(ExitFailure, CodeNotFound, "unknown employee", err)
	case errors.Is(err, aggregate.ErrInvalidEntry):
		return out.Fail(ExitCommandError, CodeRejected, "invalid manual entry", err)
	case err != nil:
		return out.Fail(ExitCommandError, CodeStore, "failed to apply manual entry", err)
	}
	return out.Success(DayList{day})
}
