package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/punchsync/internal/punch"
)

// DeviceList renders registered devices as a table in text mode.
type DeviceList []punch.Device

func (l DeviceList) WriteText(w io.Writer) error {
	if len(l) == 0 {
		_, err := fmt.Fprintln(w, "No devices registered.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tORGANIZATION\tALIAS")
	for _, d := range l {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", d.Serial, d.OrganizationID, d.Alias)
	}
	return tw.Flush()
}

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		Long: `List the devices in the database, including those registered from the
config by serve and ingest.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, rootOpts)
			env, err := openEnvironment(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer env.close()

			devices, err := env.store.Devices(cmd.Context())
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, "failed to list devices", err)
			}
			return out.Success(DeviceList(devices))
		},
	}
}
