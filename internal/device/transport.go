package device

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Format is the image format requested from a transfer.
type Format string

const (
	FormatJPEG Format = "image/jpeg"
	FormatPNG  Format = "image/png"
	FormatBMP  Format = "image/bmp"
	FormatTIFF Format = "image/tiff"
)

// Extension returns the file extension used when staging this format.
func (f Format) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatBMP:
		return ".bmp"
	case FormatTIFF:
		return ".tif"
	default:
		return ".jpg"
	}
}

// ParseFormat maps a short name such as "jpeg" or "png" to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jpg", "jpeg", string(FormatJPEG):
		return FormatJPEG, nil
	case "png", string(FormatPNG):
		return FormatPNG, nil
	case "bmp", string(FormatBMP):
		return FormatBMP, nil
	case "tif", "tiff", string(FormatTIFF):
		return FormatTIFF, nil
	}
	return "", fmt.Errorf("unsupported image format: %s (supported: jpeg, png, bmp, tiff)", name)
}

// FeedMode selects how sheets reach the scanner.
type FeedMode int

const (
	FeedADF FeedMode = iota
	FeedFlatbed
)

func (m FeedMode) String() string {
	if m == FeedFlatbed {
		return "Flatbed"
	}
	return "ADF"
}

// HandlingValue returns the document handling select value for m.
func (m FeedMode) HandlingValue() int {
	if m == FeedFlatbed {
		return HandlingFlatbed
	}
	return HandlingFeeder
}

// FeedModeFor returns FeedADF when adf is set, FeedFlatbed otherwise.
func FeedModeFor(adf bool) FeedMode {
	if adf {
		return FeedADF
	}
	return FeedFlatbed
}

// Descriptor identifies an available device.
type Descriptor struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Transport string `json:"transport" yaml:"transport"`
}

// Image is a transferred page. Transports only deliver images to files.
type Image interface {
	Format() Format
	SaveFile(path string) error
}

// MemoryImage is an Image held as encoded bytes.
type MemoryImage struct {
	Data        []byte
	ImageFormat Format
}

func (m *MemoryImage) Format() Format {
	return m.ImageFormat
}

func (m *MemoryImage) SaveFile(path string) error {
	return os.WriteFile(path, m.Data, 0o600)
}

// Transport is the device access capability consumed by the session
// manager. Errors carrying a device code are returned as
// *devicefault.CodeError.
type Transport interface {
	// Name is the prefix used in device ids, e.g. "escl".
	Name() string
	Devices(ctx context.Context) ([]Descriptor, error)
	Open(ctx context.Context, id string) (Handle, error)
}

// Handle is an open connection to one device.
type Handle interface {
	SetProperty(ctx context.Context, target Target, id PropertyID, value int) error
	GetProperty(ctx context.Context, target Target, id PropertyID) (int, error)
	// Transfer blocks until the device has delivered one page.
	Transfer(ctx context.Context, format Format) (Image, error)
	Close() error
}
