package device

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lehigh-university-libraries/pdfscan/internal/devicefault"
)

type fakeTransport struct {
	name    string
	devices []Descriptor
	listErr error
	handle  *fakeHandle
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) Devices(ctx context.Context) ([]Descriptor, error) {
	return t.devices, t.listErr
}

func (t *fakeTransport) Open(ctx context.Context, id string) (Handle, error) {
	if t.handle == nil {
		t.handle = &fakeHandle{props: map[PropertyID]int{}}
	}
	return t.handle, nil
}

type fakeHandle struct {
	props  map[PropertyID]int
	setErr error
	closed int
}

func (h *fakeHandle) SetProperty(ctx context.Context, target Target, id PropertyID, value int) error {
	if h.setErr != nil {
		return h.setErr
	}
	h.props[id] = value
	return nil
}

func (h *fakeHandle) GetProperty(ctx context.Context, target Target, id PropertyID) (int, error) {
	return h.props[id], nil
}

func (h *fakeHandle) Transfer(ctx context.Context, format Format) (Image, error) {
	return nil, devicefault.NewCodeError(devicefault.CodePaperEmpty, "")
}

func (h *fakeHandle) Close() error {
	h.closed++
	return nil
}

func TestListDevicesQualifiesIDs(t *testing.T) {
	m := NewManager(
		&fakeTransport{name: "escl", devices: []Descriptor{{ID: "http://mfp/eSCL", Name: "MFP"}}},
		&fakeTransport{name: "virtual", devices: []Descriptor{{ID: "/srv/sheets", Name: "Sheets"}}},
	)

	got, err := m.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	expected := []Descriptor{
		{ID: "escl:http://mfp/eSCL", Name: "MFP", Transport: "escl"},
		{ID: "virtual:/srv/sheets", Name: "Sheets", Transport: "virtual"},
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("ListDevices mismatch (-want +got):\n%s", diff)
	}
}

func TestListDevicesSkipsFailingTransport(t *testing.T) {
	m := NewManager(
		&fakeTransport{name: "escl", listErr: errors.New("network down")},
		&fakeTransport{name: "virtual", devices: []Descriptor{{ID: "/srv/sheets"}}},
	)
	got, err := m.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("Expected failing transport to be skipped, got %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Expected 1 device, got %d", len(got))
	}

	m = NewManager(&fakeTransport{name: "escl", listErr: errors.New("network down")})
	if _, err := m.ListDevices(context.Background()); err == nil {
		t.Error("Expected error when every transport fails")
	}
}

func TestConnect(t *testing.T) {
	transport := &fakeTransport{name: "virtual", devices: []Descriptor{{ID: "/srv/sheets", Name: "Sheets"}}}
	m := NewManager(transport)

	tests := []struct {
		name     string
		id       string
		notFound bool
	}{
		{name: "available", id: "virtual:/srv/sheets"},
		{name: "gone", id: "virtual:/srv/other", notFound: true},
		{name: "unknown transport", id: "twain:0", notFound: true},
		{name: "malformed", id: "sheets", notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := m.Connect(context.Background(), tt.id)
			if tt.notFound {
				var f *devicefault.Fault
				if !errors.As(err, &f) || f.Kind != devicefault.NotFound {
					t.Fatalf("Expected NotFound fault, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Connect failed: %v", err)
			}
			if s.Token == "" {
				t.Error("Expected a session token")
			}
			if s.Device.ID != tt.id || s.Device.Transport != "virtual" {
				t.Errorf("Unexpected descriptor %+v", s.Device)
			}
		})
	}
}

func TestSessionProperties(t *testing.T) {
	transport := &fakeTransport{name: "virtual", devices: []Descriptor{{ID: "a"}}}
	s, err := NewManager(transport).Connect(context.Background(), "virtual:a")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx := context.Background()

	if err := s.SetIntegerProperty(ctx, TargetItem, PropHorizontalResolution, 150); err != nil {
		t.Fatalf("SetIntegerProperty failed: %v", err)
	}
	if s.LastOp() != "Item 6147=150" {
		t.Errorf("Expected last op %q, got %q", "Item 6147=150", s.LastOp())
	}
	if transport.handle.props[PropHorizontalResolution] != 150 {
		t.Error("Expected property to reach the device")
	}

	unsupported := []struct {
		name   string
		target Target
		id     PropertyID
	}{
		{"unknown id", TargetItem, PropertyID(9999)},
		{"wrong target", TargetDevice, PropHorizontalResolution},
		{"read only", TargetDevice, PropDocumentHandlingStatus},
	}
	for _, tt := range unsupported {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetIntegerProperty(ctx, tt.target, tt.id, 1)
			if !errors.Is(err, ErrPropertyNotSupported) {
				t.Errorf("Expected ErrPropertyNotSupported, got %v", err)
			}
		})
	}

	if _, err := s.GetIntegerProperty(ctx, TargetDevice, PropDocumentHandlingStatus); err != nil {
		t.Errorf("Expected read-only property to be readable, got %v", err)
	}
	if s.LastOp() != "Device 3087" {
		t.Errorf("Expected last op %q, got %q", "Device 3087", s.LastOp())
	}
}

func TestSessionFaultCarriesOp(t *testing.T) {
	transport := &fakeTransport{name: "virtual", devices: []Descriptor{{ID: "a"}}}
	s, err := NewManager(transport).Connect(context.Background(), "virtual:a")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	transport.handle.setErr = devicefault.NewCodeError(devicefault.CodeDeviceLocked, "")

	err = s.SetIntegerProperty(context.Background(), TargetDevice, PropDocumentHandlingSelect, HandlingFeeder)
	var f *devicefault.Fault
	if !errors.As(err, &f) {
		t.Fatalf("Expected fault, got %v", err)
	}
	if f.Kind != devicefault.DeviceLocked {
		t.Errorf("Expected DeviceLocked, got %s", f.Kind)
	}
	if f.Op != "Device 3088=1" {
		t.Errorf("Expected op %q, got %q", "Device 3088=1", f.Op)
	}

	_, err = s.Transfer(context.Background(), FormatJPEG)
	if !devicefault.IsInputExhausted(err) {
		t.Errorf("Expected paper empty from transfer, got %v", err)
	}
}

func TestSessionClose(t *testing.T) {
	transport := &fakeTransport{name: "virtual", devices: []Descriptor{{ID: "a"}}}
	s, err := NewManager(transport).Connect(context.Background(), "virtual:a")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if transport.handle.closed != 1 {
		t.Errorf("Expected handle closed once, got %d", transport.handle.closed)
	}

	err = s.SetIntegerProperty(context.Background(), TargetItem, PropBitsPerPixel, 8)
	var f *devicefault.Fault
	if !errors.As(err, &f) || f.Kind != devicefault.ItemDeleted {
		t.Errorf("Expected ItemDeleted fault after close, got %v", err)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
		ext      string
	}{
		{"jpeg", FormatJPEG, ".jpg"},
		{"JPG", FormatJPEG, ".jpg"},
		{"png", FormatPNG, ".png"},
		{"bmp", FormatBMP, ".bmp"},
		{"tiff", FormatTIFF, ".tif"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, err := ParseFormat(tt.input)
			if err != nil {
				t.Fatalf("ParseFormat(%q) failed: %v", tt.input, err)
			}
			if f != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, f)
			}
			if f.Extension() != tt.ext {
				t.Errorf("Expected extension %s, got %s", tt.ext, f.Extension())
			}
		})
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestFeedMode(t *testing.T) {
	if FeedModeFor(true) != FeedADF || FeedADF.HandlingValue() != HandlingFeeder {
		t.Error("Expected ADF to map to the feeder handling value")
	}
	if FeedModeFor(false) != FeedFlatbed || FeedFlatbed.HandlingValue() != HandlingFlatbed {
		t.Error("Expected flatbed to map to the flatbed handling value")
	}
}
