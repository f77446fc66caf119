package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/punchsync/internal/punch"
)

// DayOptions holds flags for the day command.
type DayOptions struct {
	*RootOptions
	EmployeeID     int64
	OrganizationID int64
	Date           string
}

// DayList renders attendance days as a table in text mode.
type DayList []punch.AttendanceDay

func (l DayList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No attendance recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMPLOYEE\tDATE\tSTATUS\tARRIVAL\tDEPARTURE\tWORKED\tSOURCE\tVERSION")
	for _, d := range l {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			d.EmployeeID, d.Date, d.Status, clockCell(d.Arrival), clockCell(d.Departure), workedCell(d), d.Source, d.Version)
	}
	return tw.Flush()
}

func clockCell(t *punch.TimeOfDay) string {
	if t == nil {
		return "-"
	}
	return t.String()
}

func workedCell(d punch.AttendanceDay) string {
	worked, ok := d.Worked()
	if !ok {
		return "-"
	}
	return worked.Truncate(time.Second).String()
}

// NewDayCommand creates the day command.
func NewDayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "day",
		Short: "Show attendance days",
		Long: `Show the attendance record for one employee on a date, or every record
of an organization on a date.

Example:
  punchsync day --employee 42 --date 2024-01-10
  punchsync day --org 1 --date 2024-01-10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDay(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.EmployeeID, "employee", 0, "employee ID")
	cmd.Flags().Int64Var(&opts.OrganizationID, "org", 0, "organization ID (lists every employee)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "civil date YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("date")
	cmd.MarkFlagsMutuallyExclusive("employee", "org")
	cmd.MarkFlagsOneRequired("employee", "org")

	return cmd
}

func runDay(opts *DayOptions, cmd *cobra.Command) error {
	out := newFormatter(cmd, opts.RootOptions)

	date, err := punch.ParseDate(opts.Date)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "invalid date", err)
	}

	env, err := openEnvironment(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()

	if opts.OrganizationID > 0 {
		days, err := env.store.DaysForDate(ctx, opts.OrganizationID, date)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, "failed to list days", err)
		}
		return out.Success(DayList(days))
	}

	day, found, err := env.store.Day(ctx, opts.EmployeeID, date)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to load day", err)
	}
	if !found {
		return out.Fail(ExitFailure, CodeNotFound,
			fmt.Sprintf("no attendance for employee %d on %s", opts.EmployeeID, date), nil)
	}
	return out.Success(DayList{day})
}
