// Package config loads and saves the user's scan settings.
//
// Settings live in a YAML file; environment variables (typically from a
// .env file) override individual values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
	"github.com/lehigh-university-libraries/pdfscan/internal/device/escl"
	"github.com/lehigh-university-libraries/pdfscan/internal/device/virtual"
	"github.com/lehigh-university-libraries/pdfscan/internal/geometry"
)

const defaultSettingsYAML = `# pdfscan settings
selected_paper_size: Letter
use_adf: true
dpi: 150
format: jpeg

devices:
  # Network scanners speaking eSCL (AirScan).
  escl: []
  #  - name: Office MFP
  #    url: http://192.168.1.20/eSCL
  # Directories of images served as scanners.
  virtual: []
  #  - name: Test sheets
  #    dir: ./sheets
  #    feeder: true
`

// Devices lists the configured scanners by transport.
type Devices struct {
	ESCL    []escl.Endpoint   `yaml:"escl"`
	Virtual []virtual.Scanner `yaml:"virtual"`
}

// Settings are the persisted user preferences.
type Settings struct {
	SelectedPaperSize string  `yaml:"selected_paper_size"`
	UseADF            bool    `yaml:"use_adf"`
	DPI               int     `yaml:"dpi"`
	Format            string  `yaml:"format"`
	TempDir           string  `yaml:"temp_dir,omitempty"`
	Devices           Devices `yaml:"devices"`
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	var s Settings
	_ = yaml.Unmarshal([]byte(defaultSettingsYAML), &s)
	return &s
}

// DefaultPath returns PDFSCAN_CONFIG or settings.yaml in the user config
// directory.
func DefaultPath() (string, error) {
	if p := os.Getenv("PDFSCAN_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "pdfscan", "settings.yaml"), nil
}

// Store reads and writes one settings file.
type Store struct {
	path string
}

// NewStore returns a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file, falling back to defaults when it does not
// exist, and applies environment overrides.
func (s *Store) Load() (*Settings, error) {
	settings := Default()

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
		}
	}

	if err := settings.applyEnv(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Save writes settings atomically, creating the directory if needed.
func (s *Store) Save(settings *Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func (s *Settings) applyEnv() error {
	if v := os.Getenv("PDFSCAN_PAPER_SIZE"); v != "" {
		s.SelectedPaperSize = v
	}
	if v := os.Getenv("PDFSCAN_FORMAT"); v != "" {
		s.Format = v
	}
	if v := os.Getenv("PDFSCAN_TEMP_DIR"); v != "" {
		s.TempDir = v
	}
	if v := os.Getenv("PDFSCAN_DPI"); v != "" {
		dpi, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PDFSCAN_DPI %q: %w", v, err)
		}
		s.DPI = dpi
	}
	if v := os.Getenv("PDFSCAN_ADF"); v != "" {
		adf, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid PDFSCAN_ADF %q: %w", v, err)
		}
		s.UseADF = adf
	}
	return nil
}

// Validate checks values that cannot be defaulted.
func (s *Settings) Validate() error {
	if s.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", s.DPI)
	}
	if _, err := device.ParseFormat(s.Format); err != nil {
		return err
	}
	return nil
}

// Geometry returns the last selected paper size.
func (s *Settings) Geometry() geometry.Page {
	return geometry.Resolve(s.SelectedPaperSize)
}

// FeedMode returns the preferred feed mode.
func (s *Settings) FeedMode() device.FeedMode {
	return device.FeedModeFor(s.UseADF)
}

// ImageFormat returns the configured transfer format.
func (s *Settings) ImageFormat() device.Format {
	f, err := device.ParseFormat(s.Format)
	if err != nil {
		return device.FormatJPEG
	}
	return f
}

// Remember records the user's most recent choices. Custom sizes are not
// stored since only catalog labels can be restored.
func (s *Settings) Remember(g geometry.Page, mode device.FeedMode) {
	if p, ok := geometry.Lookup(g.Label); ok {
		s.SelectedPaperSize = p.Label
	}
	s.UseADF = mode == device.FeedADF
}

// Manager builds a device manager over the configured scanners.
func (s *Settings) Manager() *device.Manager {
	return device.NewManager(
		escl.New(nil, s.Devices.ESCL...),
		virtual.New(s.Devices.Virtual...),
	)
}
