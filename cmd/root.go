package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfscan/internal/config"
	"github.com/lehigh-university-libraries/pdfscan/internal/ui"
)

type rootOptions struct {
	configPath string
	verbose    bool
	noColor    bool
}

// store returns the settings store selected by --config or the default location.
func (o *rootOptions) store() (*config.Store, error) {
	path := o.configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.NewStore(path), nil
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pdfscan",
		Short: "Scan pages from a document scanner into a PDF",
		Long: `pdfscan drives a document scanner and assembles the scanned pages into a single PDF.

Pages can be fed from an automatic document feeder (ADF), which scans until the
feeder runs empty, or from the flatbed, one sheet per run.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			setupLogging(opts.verbose)
			ui.Init(opts.noColor)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Settings file (default: PDFSCAN_CONFIG or <user config dir>/pdfscan/settings.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Verbose logging")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable coloured output")

	cmd.AddCommand(newDevicesCmd(opts))
	cmd.AddCommand(newSizesCmd(opts))
	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newInspectCmd())

	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
