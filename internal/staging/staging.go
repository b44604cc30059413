// Package staging materializes transferred page images in temporary files
// and tracks them per capture session until they are released.
package staging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
)

// IOError is a temporary file or output write failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io fault: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("io fault: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Image is a decoded-enough page image ready for embedding.
type Image struct {
	Data []byte
	// Type is "JPG" or "PNG".
	Type   string
	Width  int
	Height int
}

// Page is a transferred image held in a temporary file.
type Page struct {
	Path    string
	Index   int
	Session string
	Image   Image
}

// Stager allocates temporary files for transferred pages.
type Stager struct {
	dir   string
	files map[string][]string
	mu    sync.Mutex
}

// New returns a stager creating files in dir, or the system temporary
// directory when dir is empty.
func New(dir string) *Stager {
	return &Stager{
		dir:   dir,
		files: make(map[string][]string),
	}
}

// Stage writes img to a fresh temporary file, named with the extension of
// its format, and loads it back for embedding.
func (s *Stager) Stage(session string, index int, img device.Image) (*Page, error) {
	f, err := os.CreateTemp(s.dir, "pdfscan-*"+img.Format().Extension())
	if err != nil {
		return nil, &IOError{Op: "create temp file", Err: err}
	}
	path := f.Name()
	s.track(session, path)
	if err := f.Close(); err != nil {
		return nil, &IOError{Op: "close", Path: path, Err: err}
	}

	if err := img.SaveFile(path); err != nil {
		return nil, &IOError{Op: "save image", Path: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read image", Path: path, Err: err}
	}
	loaded, err := load(data)
	if err != nil {
		return nil, &IOError{Op: "load image", Path: path, Err: err}
	}

	slog.Debug("Page staged", "session", session, "index", index, "path", path,
		"width", loaded.Width, "height", loaded.Height)

	return &Page{
		Path:    path,
		Index:   index,
		Session: session,
		Image:   *loaded,
	}, nil
}

// load checks the staged bytes and converts formats the document writer
// cannot embed into PNG.
func load(data []byte) (*Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	switch format {
	case "jpeg":
		return &Image{Data: data, Type: "JPG", Width: cfg.Width, Height: cfg.Height}, nil
	case "png":
		return &Image{Data: data, Type: "PNG", Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to convert %s image: %w", format, err)
	}
	return &Image{Data: buf.Bytes(), Type: "PNG", Width: cfg.Width, Height: cfg.Height}, nil
}

func (s *Stager) track(session, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[session] = append(s.files[session], path)
}

// Files returns the staged files still tracked for session.
func (s *Stager) Files(session string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.files[session]))
	copy(out, s.files[session])
	return out
}

// Release deletes the file of a page whose content has been copied into
// the output document.
func (s *Stager) Release(page *Page) {
	s.mu.Lock()
	paths := s.files[page.Session]
	for i, p := range paths {
		if p == page.Path {
			s.files[page.Session] = append(paths[:i:i], paths[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	remove(page.Path)
}

// ReleaseAll deletes every file staged for session. Each deletion is
// attempted independently; failures are logged and never returned. It
// returns the number of files removed.
func (s *Stager) ReleaseAll(session string) int {
	s.mu.Lock()
	paths := s.files[session]
	delete(s.files, session)
	s.mu.Unlock()

	removed := 0
	for _, p := range paths {
		if remove(p) {
			removed++
		}
	}
	return removed
}

// Sessions returns the sessions that still have staged files.
func (s *Stager) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for k := range s.files {
		out = append(out, k)
	}
	return out
}

func remove(path string) bool {
	err := os.Remove(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Unable to delete staged file", "path", path, "err", err)
	}
	return false
}
