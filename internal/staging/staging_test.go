package staging

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
)

type failingImage struct{}

func (failingImage) Format() device.Format { return device.FormatPNG }

func (failingImage) SaveFile(path string) error { return errors.New("transfer aborted") }

func encode(t *testing.T, w, h int, enc func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := enc(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
	return buf.Bytes()
}

func pngImage(t *testing.T, w, h int) *device.MemoryImage {
	data := encode(t, w, h, func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) })
	return &device.MemoryImage{Data: data, ImageFormat: device.FormatPNG}
}

func TestStage(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	page, err := s.Stage("session-1", 0, pngImage(t, 40, 30))
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if filepath.Dir(page.Path) != dir {
		t.Errorf("Expected file in %s, got %s", dir, page.Path)
	}
	if !strings.HasSuffix(page.Path, ".png") {
		t.Errorf("Expected .png extension, got %s", page.Path)
	}
	if page.Image.Type != "PNG" || page.Image.Width != 40 || page.Image.Height != 30 {
		t.Errorf("Unexpected image %s %dx%d", page.Image.Type, page.Image.Width, page.Image.Height)
	}
	if _, err := os.Stat(page.Path); err != nil {
		t.Errorf("Expected staged file to exist: %v", err)
	}

	s.Release(page)
	if _, err := os.Stat(page.Path); !os.IsNotExist(err) {
		t.Errorf("Expected staged file to be removed, got %v", err)
	}
	if len(s.Files("session-1")) != 0 {
		t.Errorf("Expected no tracked files, got %v", s.Files("session-1"))
	}
}

func TestStageConvertsBMP(t *testing.T) {
	data := encode(t, 12, 9, func(b *bytes.Buffer, img image.Image) error { return bmp.Encode(b, img) })
	page, err := New(t.TempDir()).Stage("s", 0, &device.MemoryImage{Data: data, ImageFormat: device.FormatBMP})
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if page.Image.Type != "PNG" {
		t.Errorf("Expected BMP to be converted to PNG, got %s", page.Image.Type)
	}
	if _, err := png.DecodeConfig(bytes.NewReader(page.Image.Data)); err != nil {
		t.Errorf("Expected PNG data: %v", err)
	}
}

func TestStageFailureKeepsFileTracked(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Stage("s", 0, failingImage{})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("Expected IOError, got %v", err)
	}
	if ioErr.Op != "save image" {
		t.Errorf("Expected save image op, got %s", ioErr.Op)
	}
	if n := len(s.Files("s")); n != 1 {
		t.Fatalf("Expected the allocated file to stay tracked, got %d", n)
	}
	if removed := s.ReleaseAll("s"); removed != 1 {
		t.Errorf("Expected 1 file removed, got %d", removed)
	}
}

func TestStageUndecodableImage(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Stage("s", 0, &device.MemoryImage{Data: []byte("not an image"), ImageFormat: device.FormatJPEG})
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "load image" {
		t.Errorf("Expected load image IOError, got %v", err)
	}
}

func TestReleaseAllToleratesMissingFiles(t *testing.T) {
	s := New(t.TempDir())
	var pages []*Page
	for i := 0; i < 3; i++ {
		p, err := s.Stage("s", i, pngImage(t, 4, 4))
		if err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		pages = append(pages, p)
	}
	if _, err := s.Stage("other", 0, pngImage(t, 4, 4)); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if err := os.Remove(pages[1].Path); err != nil {
		t.Fatal(err)
	}

	if removed := s.ReleaseAll("s"); removed != 2 {
		t.Errorf("Expected 2 files removed, got %d", removed)
	}
	for _, p := range pages {
		if _, err := os.Stat(p.Path); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be gone", p.Path)
		}
	}
	if got := s.Sessions(); len(got) != 1 || got[0] != "other" {
		t.Errorf("Expected only the other session to remain, got %v", got)
	}
	if removed := s.ReleaseAll("s"); removed != 0 {
		t.Errorf("Expected second ReleaseAll to remove nothing, got %d", removed)
	}
}

func TestIOError(t *testing.T) {
	err := &IOError{Op: "write document", Path: "/tmp/out.pdf", Err: os.ErrPermission}
	if !errors.Is(err, os.ErrPermission) {
		t.Error("Expected IOError to unwrap")
	}
	if !strings.Contains(err.Error(), "/tmp/out.pdf") {
		t.Errorf("Expected path in message, got %q", err.Error())
	}
}
