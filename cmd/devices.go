package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfscan/internal/ui"
)

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available scanners",
		Long: `Lists the scanners reachable right now.

Scanners are configured in the settings file under devices.escl (network
scanners speaking eSCL/AirScan) and devices.virtual (directories of images).
Availability is checked on every call.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.store()
			if err != nil {
				return err
			}
			settings, err := store.Load()
			if err != nil {
				return err
			}

			devices, err := settings.Manager().ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				ui.Warning(out, "No scanners found (settings: %s)", store.Path())
				return nil
			}

			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{d.ID, d.Name, d.Transport})
			}
			ui.Table(out, []string{"ID", "NAME", "TRANSPORT"}, rows)
			fmt.Fprintln(out)
			return nil
		},
	}
}
