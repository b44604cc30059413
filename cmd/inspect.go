package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfscan/internal/document"
	"github.com/lehigh-university-libraries/pdfscan/internal/ui"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the pages and metadata of a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := document.Inspect(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:    %s\n", summary.Metadata.Title)
			fmt.Fprintf(out, "Author:   %s\n", summary.Metadata.Author)
			fmt.Fprintf(out, "Subject:  %s\n", summary.Metadata.Subject)
			fmt.Fprintf(out, "Keywords: %s\n", summary.Metadata.Keywords)
			fmt.Fprintf(out, "Producer: %s\n", summary.Producer)
			fmt.Fprintf(out, "Pages:    %d\n\n", len(summary.Pages))

			rows := make([][]string, 0, len(summary.Pages))
			for i, p := range summary.Pages {
				rows = append(rows, []string{fmt.Sprint(i + 1), fmt.Sprintf("%g", p.Width), fmt.Sprintf("%g", p.Height)})
			}
			ui.Table(out, []string{"PAGE", "WIDTH (in)", "HEIGHT (in)"}, rows)
			return nil
		},
	}
}
