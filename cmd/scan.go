package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/pdfscan/internal/capture"
	"github.com/lehigh-university-libraries/pdfscan/internal/config"
	"github.com/lehigh-university-libraries/pdfscan/internal/device"
	"github.com/lehigh-university-libraries/pdfscan/internal/document"
	"github.com/lehigh-university-libraries/pdfscan/internal/geometry"
	"github.com/lehigh-university-libraries/pdfscan/internal/staging"
	"github.com/lehigh-university-libraries/pdfscan/internal/ui"
)

type scanOptions struct {
	deviceID string
	size     string
	width    float64
	height   float64
	adf      bool
	flatbed  bool
	dpi      int
	format   string
	output   string
	more     bool
	meta     document.Metadata
}

func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan pages into a PDF",
		Long: `Scans pages from a scanner and saves them as one PDF.

With --adf the feeder is read until it runs empty. With --flatbed one sheet is
scanned per run; add --more to be prompted for further sheets before saving.
Paper size, feed mode and resolution default to the values from the settings
file, and the choices made here are written back after a successful scan.`,
		Example: `  pdfscan scan --adf --size A4 --title "Minutes 2024-03-01"
  pdfscan scan --flatbed --more --output letters.pdf
  pdfscan scan --width 5 --height 7 --dpi 300`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.deviceID, "device", "d", "", "Scanner id from 'pdfscan devices' (default: the only available scanner)")
	cmd.Flags().StringVarP(&opts.size, "size", "s", "", "Paper size label from 'pdfscan sizes'")
	cmd.Flags().Float64Var(&opts.width, "width", 0, "Custom page width in inches")
	cmd.Flags().Float64Var(&opts.height, "height", 0, "Custom page height in inches")
	cmd.Flags().BoolVar(&opts.adf, "adf", false, "Feed pages from the document feeder")
	cmd.Flags().BoolVar(&opts.flatbed, "flatbed", false, "Scan a single sheet from the flatbed")
	cmd.Flags().IntVar(&opts.dpi, "dpi", 0, "Scan resolution in dots per inch")
	cmd.Flags().StringVar(&opts.format, "format", "", "Transfer format: jpeg, png, bmp or tiff")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output PDF path (default: derived from --title)")
	cmd.Flags().BoolVar(&opts.more, "more", false, "Prompt for further runs before saving")
	cmd.Flags().StringVar(&opts.meta.Title, "title", "", "Document title")
	cmd.Flags().StringVar(&opts.meta.Author, "author", "", "Document author")
	cmd.Flags().StringVar(&opts.meta.Subject, "subject", "", "Document subject")
	cmd.Flags().StringVar(&opts.meta.Keywords, "keywords", "", "Document keywords")

	cmd.MarkFlagsMutuallyExclusive("adf", "flatbed")
	cmd.MarkFlagsMutuallyExclusive("size", "width")
	cmd.MarkFlagsMutuallyExclusive("size", "height")
	cmd.MarkFlagsRequiredTogether("width", "height")

	return cmd
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := root.store()
	if err != nil {
		return err
	}
	settings, err := store.Load()
	if err != nil {
		return err
	}

	g, err := opts.geometry(settings)
	if err != nil {
		return err
	}
	mode := settings.FeedMode()
	switch {
	case opts.adf:
		mode = device.FeedADF
	case opts.flatbed:
		mode = device.FeedFlatbed
	}
	captureOpts, err := opts.captureOptions(settings)
	if err != nil {
		return err
	}

	spin := ui.NewSpinner("Scanning")
	var machine *capture.Machine
	captureOpts.BeforeTransfer = func(int) {
		spin.UpdateMessage(fmt.Sprintf("Scanning page %d", machine.Document().PageCount()+1))
		spin.Start()
	}
	captureOpts.OnPage = func(_ int, p document.Page) {
		spin.Stop()
		ui.Success(out, "Page %d captured (%dx%d px)", machine.Document().PageCount(), p.ImageWidth, p.ImageHeight)
	}
	machine = capture.New(settings.Manager(), staging.New(settings.TempDir), captureOpts)

	id, err := opts.resolveDevice(ctx, machine)
	if err != nil {
		return err
	}
	if err := machine.SelectDevice(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(out, "Scanning %s from %s at %d dpi (%s)\n", g, id, captureOpts.DPI, mode)

	var runErr error
	prompt := bufio.NewReader(cmd.InOrStdin())
	for {
		outcome, err := machine.RunCapture(ctx, g, mode)
		spin.Stop()
		if err != nil {
			return err
		}
		runErr = report(out, outcome)
		if runErr != nil || outcome.Kind == capture.OutcomeCancelled || !opts.more {
			break
		}
		if !askMore(out, prompt) {
			break
		}
	}

	pages := machine.Document().PageCount()
	if pages == 0 {
		if runErr != nil {
			return runErr
		}
		ui.Warning(out, "No pages were scanned, nothing saved")
		return nil
	}

	settings.Remember(g, mode)
	if err := store.Save(settings); err != nil {
		slog.Warn("Unable to save settings", "path", store.Path(), "err", err)
	}

	path := opts.output
	if path == "" {
		path = document.SuggestFileName(opts.meta.Title)
	}
	if _, err := machine.Finalize(path, opts.meta); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	ui.Success(out, "Saved %d page(s) to %s", pages, path)

	if runErr != nil {
		return fmt.Errorf("scan ended early: %w", runErr)
	}
	return nil
}

func (o *scanOptions) geometry(settings *config.Settings) (geometry.Page, error) {
	switch {
	case o.width != 0 || o.height != 0:
		return geometry.New(o.width, o.height, geometry.CustomLabel)
	case o.size != "":
		g, ok := geometry.Lookup(o.size)
		if !ok {
			return geometry.Page{}, fmt.Errorf("unknown paper size %q, see 'pdfscan sizes'", o.size)
		}
		return g, nil
	default:
		return settings.Geometry(), nil
	}
}

func (o *scanOptions) captureOptions(settings *config.Settings) (capture.Options, error) {
	opts := capture.DefaultOptions()
	opts.DPI = settings.DPI
	opts.Format = settings.ImageFormat()
	if o.dpi != 0 {
		if o.dpi < 0 {
			return opts, fmt.Errorf("dpi must be positive, got %d", o.dpi)
		}
		opts.DPI = o.dpi
	}
	if o.format != "" {
		f, err := device.ParseFormat(o.format)
		if err != nil {
			return opts, err
		}
		opts.Format = f
	}
	return opts, nil
}

func (o *scanOptions) resolveDevice(ctx context.Context, machine *capture.Machine) (string, error) {
	if o.deviceID != "" {
		return o.deviceID, nil
	}
	devices, err := machine.ListDevices(ctx)
	if err != nil {
		return "", err
	}
	switch len(devices) {
	case 0:
		return "", errors.New("no scanners found, check the devices section of the settings file")
	case 1:
		return devices[0].ID, nil
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return "", fmt.Errorf("several scanners found, pick one with --device: %s", strings.Join(ids, ", "))
}

// report prints how a run ended and returns the error for a faulted run.
func report(w io.Writer, outcome capture.Outcome) error {
	switch outcome.Kind {
	case capture.OutcomeCompleted:
		ui.Success(w, "Sheet scanned")
	case capture.OutcomeInputExhausted:
		if outcome.Pages == 0 {
			ui.Warning(w, "No paper loaded")
		} else {
			ui.Success(w, "Feeder empty after %d page(s)", outcome.Pages)
		}
	case capture.OutcomeCancelled:
		ui.Warning(w, "Scan cancelled after %d page(s)", outcome.Pages)
	case capture.OutcomeFault:
		ui.Error(w, "Scanner error: %v", outcome.Err)
		return outcome.Err
	}
	return nil
}

func askMore(w io.Writer, r *bufio.Reader) bool {
	fmt.Fprint(w, "Place the next sheet and press Enter to scan, or type q to finish: ")
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(w)
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(line), "q")
}
