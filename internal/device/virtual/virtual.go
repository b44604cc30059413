// Package virtual implements a directory-backed scanner. Each image file in
// the directory is one sheet; sheets are fed in file name order. A file
// named NAME.fault holding a hex device code makes the transfer at that
// position fail with the code.
package virtual

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
	"github.com/lehigh-university-libraries/pdfscan/internal/devicefault"
)

// Scanner configures one virtual device.
type Scanner struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
	// Feeder reports whether the device accepts feeder mode.
	Feeder bool `yaml:"feeder"`
}

var sheetExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
	".tif": true, ".tiff": true, ".fault": true,
}

// Transport serves the configured virtual scanners.
type Transport struct {
	scanners []Scanner
}

// New returns a transport over scanners.
func New(scanners ...Scanner) *Transport {
	return &Transport{scanners: scanners}
}

func (t *Transport) Name() string {
	return "virtual"
}

// Devices lists the scanners whose directory currently exists.
func (t *Transport) Devices(ctx context.Context) ([]device.Descriptor, error) {
	var out []device.Descriptor
	for _, s := range t.scanners {
		info, err := os.Stat(s.Dir)
		if err != nil || !info.IsDir() {
			slog.Debug("Virtual scanner unavailable", "dir", s.Dir, "err", err)
			continue
		}
		name := s.Name
		if name == "" {
			name = "Virtual scanner (" + filepath.Base(s.Dir) + ")"
		}
		out = append(out, device.Descriptor{ID: s.Dir, Name: name})
	}
	return out, nil
}

// Open connects to the scanner serving dir.
func (t *Transport) Open(ctx context.Context, id string) (device.Handle, error) {
	for _, s := range t.scanners {
		if s.Dir != id {
			continue
		}
		sheets, err := listSheets(s.Dir)
		if err != nil {
			return nil, devicefault.NewCodeError(devicefault.CodeNoDeviceAvailable, "%v", err)
		}
		return &handle{
			scanner: s,
			sheets:  sheets,
			props: map[device.PropertyID]int{
				device.PropDocumentHandlingSelect: device.HandlingFlatbed,
				device.PropCurrentIntent:          device.IntentColor,
				device.PropBitsPerPixel:           24,
				device.PropHorizontalResolution:   300,
				device.PropVerticalResolution:     300,
			},
		}, nil
	}
	return nil, devicefault.NewCodeError(devicefault.CodeNoDeviceAvailable, "no virtual scanner at %s", id)
}

func listSheets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet directory: %w", err)
	}
	var sheets []string
	for _, e := range entries {
		if e.IsDir() || !sheetExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		sheets = append(sheets, filepath.Join(dir, e.Name()))
	}
	sort.Strings(sheets)
	return sheets, nil
}

type handle struct {
	scanner Scanner
	sheets  []string
	next    int
	props   map[device.PropertyID]int
}

func (h *handle) SetProperty(ctx context.Context, target device.Target, id device.PropertyID, value int) error {
	switch id {
	case device.PropBitsPerPixel:
		if value != 1 && value != 8 && value != 24 {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "unsupported bit depth %d", value)
		}
	case device.PropDocumentHandlingSelect:
		if value != device.HandlingFeeder && value != device.HandlingFlatbed {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "unsupported handling mode %d", value)
		}
	case device.PropPages:
	default:
		if !id.Known() {
			return device.ErrPropertyNotSupported
		}
	}
	h.props[id] = value
	return nil
}

func (h *handle) GetProperty(ctx context.Context, target device.Target, id device.PropertyID) (int, error) {
	switch id {
	case device.PropDocumentHandlingCapabilities:
		caps := device.HandlingFlatbed
		if h.scanner.Feeder {
			caps |= device.HandlingFeeder
		}
		return caps, nil
	case device.PropDocumentHandlingStatus:
		return h.status(), nil
	}
	v, ok := h.props[id]
	if !ok {
		return 0, device.ErrPropertyNotSupported
	}
	return v, nil
}

// status is the handling mode actually in effect. A feeder request on a
// device without a feeder leaves it in flatbed mode.
func (h *handle) status() int {
	if h.props[device.PropDocumentHandlingSelect] == device.HandlingFeeder && h.scanner.Feeder {
		return device.HandlingFeeder
	}
	return device.HandlingFlatbed
}

func (h *handle) Transfer(ctx context.Context, format device.Format) (device.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sheet string
	if h.status() == device.HandlingFeeder {
		if h.next >= len(h.sheets) {
			return nil, devicefault.NewCodeError(devicefault.CodePaperEmpty, "feeder empty")
		}
		sheet = h.sheets[h.next]
		h.next++
	} else {
		if len(h.sheets) == 0 {
			return nil, devicefault.NewCodeError(devicefault.CodePaperEmpty, "nothing on the bed")
		}
		sheet = h.sheets[0]
	}

	if strings.EqualFold(filepath.Ext(sheet), ".fault") {
		return nil, injectedFault(sheet)
	}

	data, err := os.ReadFile(sheet)
	if err != nil {
		return nil, devicefault.NewCodeError(devicefault.CodeItemDeleted, "%v", err)
	}
	data, err = convert(data, format)
	if err != nil {
		return nil, devicefault.NewCodeError(devicefault.CodeDriverException, "%s: %v", filepath.Base(sheet), err)
	}
	slog.Debug("Virtual sheet transferred", "sheet", sheet, "format", format, "bytes", len(data))
	return &device.MemoryImage{Data: data, ImageFormat: format}, nil
}

func (h *handle) Close() error {
	return nil
}

func injectedFault(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return devicefault.NewCodeError(devicefault.CodeGeneralError, "%v", err)
	}
	text := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(string(raw))), "0x")
	code, err := strconv.ParseUint(text, 16, 32)
	if err != nil {
		return devicefault.NewCodeError(devicefault.CodeGeneralError, "malformed fault file %s", filepath.Base(path))
	}
	return devicefault.NewCodeError(uint32(code), "injected by %s", filepath.Base(path))
}

// convert re-encodes data into format unless it already is in that format.
func convert(data []byte, format device.Format) ([]byte, error) {
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sheet: %w", err)
	}
	if "image/"+name == string(format) {
		return data, nil
	}

	var buf bytes.Buffer
	switch format {
	case device.FormatPNG:
		err = png.Encode(&buf, img)
	case device.FormatBMP:
		err = bmp.Encode(&buf, img)
	case device.FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
