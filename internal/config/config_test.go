package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
	"github.com/lehigh-university-libraries/pdfscan/internal/device/escl"
	"github.com/lehigh-university-libraries/pdfscan/internal/device/virtual"
	"github.com/lehigh-university-libraries/pdfscan/internal/geometry"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PDFSCAN_PAPER_SIZE", "PDFSCAN_FORMAT", "PDFSCAN_TEMP_DIR", "PDFSCAN_DPI", "PDFSCAN_ADF"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	clearEnv(t)
	s, err := NewStore(filepath.Join(t.TempDir(), "settings.yaml")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	expected := &Settings{
		SelectedPaperSize: "Letter",
		UseADF:            true,
		DPI:               150,
		Format:            "jpeg",
	}
	if diff := cmp.Diff(expected, s, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Defaults mismatch (-want +got):\n%s", diff)
	}
	if s.Geometry() != geometry.Default() {
		t.Errorf("Expected default geometry, got %v", s.Geometry())
	}
	if s.FeedMode() != device.FeedADF {
		t.Errorf("Expected ADF, got %s", s.FeedMode())
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "settings.yaml")
	data := `selected_paper_size: a4
use_adf: false
dpi: 300
format: png
devices:
  escl:
    - name: Office MFP
      url: http://192.168.1.20/eSCL
  virtual:
    - dir: /srv/sheets
      feeder: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Geometry().Label != "A4" {
		t.Errorf("Expected A4, got %s", s.Geometry().Label)
	}
	if s.FeedMode() != device.FeedFlatbed {
		t.Errorf("Expected flatbed, got %s", s.FeedMode())
	}
	if s.DPI != 300 || s.ImageFormat() != device.FormatPNG {
		t.Errorf("Unexpected dpi %d format %s", s.DPI, s.ImageFormat())
	}
	expected := Devices{
		ESCL:    []escl.Endpoint{{Name: "Office MFP", URL: "http://192.168.1.20/eSCL"}},
		Virtual: []virtual.Scanner{{Dir: "/srv/sheets", Feeder: true}},
	}
	if diff := cmp.Diff(expected, s.Devices); diff != "" {
		t.Errorf("Devices mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PDFSCAN_PAPER_SIZE", "Legal")
	t.Setenv("PDFSCAN_DPI", "200")
	t.Setenv("PDFSCAN_ADF", "false")
	t.Setenv("PDFSCAN_FORMAT", "tiff")
	t.Setenv("PDFSCAN_TEMP_DIR", "/var/tmp/scans")

	s, err := NewStore(filepath.Join(t.TempDir(), "settings.yaml")).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.SelectedPaperSize != "Legal" || s.DPI != 200 || s.UseADF || s.ImageFormat() != device.FormatTIFF || s.TempDir != "/var/tmp/scans" {
		t.Errorf("Environment not applied: %+v", s)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "bad yaml", file: "dpi: [\n"},
		{name: "zero dpi", file: "dpi: 0\n"},
		{name: "unknown format", file: "format: gif\n"},
		{name: "bad dpi env", env: map[string]string{"PDFSCAN_DPI": "high"}},
		{name: "bad adf env", env: map[string]string{"PDFSCAN_ADF": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "settings.yaml")
			if tt.file != "" {
				if err := os.WriteFile(path, []byte(tt.file), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := NewStore(path).Load(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestSaveAndRemember(t *testing.T) {
	clearEnv(t)
	store := NewStore(filepath.Join(t.TempDir(), "nested", "settings.yaml"))
	s, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	a4, _ := geometry.Lookup("A4")
	s.Remember(a4, device.FeedFlatbed)
	if err := store.Save(s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if reloaded.SelectedPaperSize != "A4" || reloaded.UseADF {
		t.Errorf("Expected A4 flatbed, got %s adf=%v", reloaded.SelectedPaperSize, reloaded.UseADF)
	}

	custom, err := geometry.New(5, 7, geometry.CustomLabel)
	if err != nil {
		t.Fatal(err)
	}
	reloaded.Remember(custom, device.FeedADF)
	if reloaded.SelectedPaperSize != "A4" {
		t.Errorf("Expected custom size not to be stored, got %s", reloaded.SelectedPaperSize)
	}
	if !reloaded.UseADF {
		t.Error("Expected ADF to be remembered")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("PDFSCAN_CONFIG", "/etc/pdfscan.yaml")
	p, err := DefaultPath()
	if err != nil || p != "/etc/pdfscan.yaml" {
		t.Errorf("Expected PDFSCAN_CONFIG path, got %s (%v)", p, err)
	}
}
