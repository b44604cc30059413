package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfscan/internal/geometry"
	"github.com/lehigh-university-libraries/pdfscan/internal/ui"
)

func newSizesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sizes",
		Short: "List known paper sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := geometry.DefaultLabel
			if store, err := opts.store(); err == nil {
				if settings, err := store.Load(); err == nil {
					selected = settings.Geometry().Label
				}
			}

			var rows [][]string
			for _, p := range geometry.Catalog() {
				mark := ""
				if p.Label == selected {
					mark = "*"
				}
				rows = append(rows, []string{mark, p.Label, fmt.Sprintf("%g", p.Width), fmt.Sprintf("%g", p.Height)})
			}
			ui.Table(cmd.OutOrStdout(), []string{"", "LABEL", "WIDTH (in)", "HEIGHT (in)"}, rows)
			return nil
		},
	}
}
