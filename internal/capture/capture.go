// Package capture runs capture sessions: it negotiates device properties,
// requests page transfers one at a time, stages each page and appends it
// to the output document.
//
// A run moves through Idle, DeviceSelected, Negotiating and Transferring and
// always ends back in Idle with its device session closed and its staged
// files released. Faults end the run and are returned in the Outcome; the
// document keeps exactly the pages appended before the failing attempt.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
	"github.com/lehigh-university-libraries/pdfscan/internal/devicefault"
	"github.com/lehigh-university-libraries/pdfscan/internal/document"
	"github.com/lehigh-university-libraries/pdfscan/internal/geometry"
	"github.com/lehigh-university-libraries/pdfscan/internal/staging"
)

var (
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrInvalidGeometry  = geometry.ErrInvalid
	ErrNoPages          = document.ErrNoPages
)

// State is the capture machine's current phase.
type State string

const (
	StateIdle           State = "idle"
	StateDeviceSelected State = "device_selected"
	StateNegotiating    State = "negotiating"
	StateTransferring   State = "transferring"
)

// OutcomeKind says how a run ended.
type OutcomeKind int

const (
	// OutcomeCompleted: a flatbed run transferred its page.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeInputExhausted: the device reported paper empty. Not an error.
	OutcomeInputExhausted
	// OutcomeCancelled: the context ended before another page was requested.
	OutcomeCancelled
	// OutcomeFault: the run aborted; Err says why.
	OutcomeFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeInputExhausted:
		return "input exhausted"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "fault"
	}
}

// Outcome is the result of one capture run.
type Outcome struct {
	Kind OutcomeKind
	// Pages is the number of pages appended by this run.
	Pages int
	// Err is a *devicefault.Fault or *staging.IOError for OutcomeFault and
	// the context error for OutcomeCancelled.
	Err error
}

// Fault returns the device fault that ended the run, if any.
func (o Outcome) Fault() *devicefault.Fault {
	var f *devicefault.Fault
	if errors.As(o.Err, &f) {
		return f
	}
	return nil
}

// Devices is the device session manager used by the machine.
type Devices interface {
	ListDevices(ctx context.Context) ([]device.Descriptor, error)
	Connect(ctx context.Context, id string) (*device.Session, error)
}

// Options tune negotiation and report progress.
type Options struct {
	DPI      int
	Format   device.Format
	Intent   int
	BitDepth int
	// BeforeTransfer is called before each blocking transfer request.
	BeforeTransfer func(index int)
	// OnPage is called after each page has been appended.
	OnPage func(index int, page document.Page)
}

// DefaultOptions requests 150 dpi grayscale JPEG pages.
func DefaultOptions() Options {
	return Options{
		DPI:      150,
		Format:   device.FormatJPEG,
		Intent:   device.IntentGrayscale,
		BitDepth: 8,
	}
}

// Machine drives capture runs against one selected device. It is not safe
// for concurrent use; a run blocks for as long as the device transfers.
type Machine struct {
	devices  Devices
	stager   *staging.Stager
	opts     Options
	doc      *document.Document
	state    State
	deviceID string
}

// New returns an idle machine with an empty document.
func New(devices Devices, stager *staging.Stager, opts Options) *Machine {
	def := DefaultOptions()
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.Intent == 0 {
		opts.Intent = def.Intent
	}
	if opts.BitDepth == 0 {
		opts.BitDepth = def.BitDepth
	}
	return &Machine{
		devices: devices,
		stager:  stager,
		opts:    opts,
		doc:     document.New(),
		state:   StateIdle,
	}
}

// State returns the current phase.
func (m *Machine) State() State {
	return m.state
}

// DeviceID returns the selected device id, empty when none is selected.
func (m *Machine) DeviceID() string {
	return m.deviceID
}

// Document returns the document being assembled.
func (m *Machine) Document() *document.Document {
	return m.doc
}

// ListDevices returns the devices available right now.
func (m *Machine) ListDevices(ctx context.Context) ([]device.Descriptor, error) {
	return m.devices.ListDevices(ctx)
}

// SelectDevice checks that id is currently available and remembers it for
// later runs. Each run connects again, so a device unplugged after
// selection surfaces as a NotFound fault from RunCapture.
func (m *Machine) SelectDevice(ctx context.Context, id string) error {
	devices, err := m.devices.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if d.ID == id {
			m.deviceID = id
			slog.Info("Device selected", "device", id, "name", d.Name)
			return nil
		}
	}
	return devicefault.New(devicefault.NotFound, "device "+id+" is not available")
}

// Reset discards the document being assembled and starts an empty one.
func (m *Machine) Reset() {
	m.doc = document.New()
}

// Finalize writes the document to path with meta and, on success, starts
// a fresh document.
func (m *Machine) Finalize(path string, meta document.Metadata) ([]byte, error) {
	data, err := m.doc.Finalize(path, meta)
	if err != nil {
		return nil, err
	}
	m.Reset()
	return data, nil
}

// RunCapture performs one capture run. Caller errors (no device selected,
// invalid geometry) are returned as errors and leave the machine idle;
// everything that happens once the run starts is reported in the Outcome.
func (m *Machine) RunCapture(ctx context.Context, g geometry.Page, mode device.FeedMode) (Outcome, error) {
	if m.deviceID == "" {
		return Outcome{}, ErrNoDeviceSelected
	}
	if err := g.Validate(); err != nil {
		return Outcome{}, err
	}

	session, err := m.devices.Connect(ctx, m.deviceID)
	if err != nil {
		slog.Warn("Failed to connect to device", "device", m.deviceID, "err", err)
		return Outcome{Kind: OutcomeFault, Err: devicefault.FromError(err)}, nil
	}
	m.state = StateDeviceSelected
	defer m.finish(session)

	slog.Info("Capture run started", "device", session.Device.ID, "session", session.Token,
		"mode", mode, "size", g.String(), "dpi", m.opts.DPI)

	out := m.run(ctx, session, g, mode)
	if out.Kind == OutcomeFault {
		slog.Warn("Capture run failed", "device", session.Device.ID, "pages", out.Pages, "err", out.Err)
	} else {
		slog.Info("Capture run finished", "device", session.Device.ID, "outcome", out.Kind, "pages", out.Pages)
	}
	return out, nil
}

func (m *Machine) run(ctx context.Context, session *device.Session, g geometry.Page, mode device.FeedMode) Outcome {
	pages := 0
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeCancelled, Pages: pages, Err: err}
		}

		m.state = StateNegotiating
		if err := m.negotiate(ctx, session, g, mode); err != nil {
			return Outcome{Kind: OutcomeFault, Pages: pages, Err: err}
		}

		m.state = StateTransferring
		if m.opts.BeforeTransfer != nil {
			m.opts.BeforeTransfer(index)
		}
		img, err := session.Transfer(ctx, m.opts.Format)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return Outcome{Kind: OutcomeCancelled, Pages: pages, Err: err}
			}
			f := devicefault.FromError(err)
			if f.InputExhausted() {
				return Outcome{Kind: OutcomeInputExhausted, Pages: pages}
			}
			return Outcome{Kind: OutcomeFault, Pages: pages, Err: f}
		}

		staged, err := m.stager.Stage(session.Token, index, img)
		if err != nil {
			return Outcome{Kind: OutcomeFault, Pages: pages, Err: err}
		}
		if err := m.doc.AppendPage(staged, g); err != nil {
			return Outcome{Kind: OutcomeFault, Pages: pages, Err: &staging.IOError{Op: "append page", Path: staged.Path, Err: err}}
		}
		m.stager.Release(staged)
		pages++
		slog.Info("Page captured", "page", m.doc.PageCount(), "run_page", pages)
		if m.opts.OnPage != nil {
			m.opts.OnPage(index, m.doc.Pages()[m.doc.PageCount()-1])
		}

		if mode == device.FeedFlatbed {
			return Outcome{Kind: OutcomeCompleted, Pages: pages}
		}
	}
}

func (m *Machine) finish(session *device.Session) {
	if err := session.Close(); err != nil {
		slog.Warn("Unable to close device session", "session", session.Token, "err", err)
	}
	m.stager.ReleaseAll(session.Token)
	m.state = StateIdle
}

type tier int

const (
	// cosmetic properties may be rejected by simpler hardware.
	cosmetic tier = iota
	// extent properties may be missing from a device; other failures abort.
	extent
	// loadBearing properties abort the run on any failure.
	loadBearing
)

type propertyStep struct {
	target device.Target
	id     device.PropertyID
	value  int
	tier   tier
}

// negotiate configures the item and the device for the next transfer and
// confirms that the requested handling mode was accepted.
func (m *Machine) negotiate(ctx context.Context, session *device.Session, g geometry.Page, mode device.FeedMode) error {
	width, height := g.Pixels(m.opts.DPI)
	handling := mode.HandlingValue()

	steps := []propertyStep{
		{device.TargetItem, device.PropHorizontalResolution, m.opts.DPI, extent},
		{device.TargetItem, device.PropVerticalResolution, m.opts.DPI, extent},
		{device.TargetItem, device.PropHorizontalExtent, width, extent},
		{device.TargetItem, device.PropVerticalExtent, height, extent},
		{device.TargetItem, device.PropCurrentIntent, m.opts.Intent, cosmetic},
		{device.TargetItem, device.PropBitsPerPixel, m.opts.BitDepth, cosmetic},
		{device.TargetDevice, device.PropDocumentHandlingSelect, handling, loadBearing},
	}

	for _, step := range steps {
		err := session.SetIntegerProperty(ctx, step.target, step.id, step.value)
		if err == nil {
			continue
		}
		unsupported := errors.Is(err, device.ErrPropertyNotSupported)
		switch {
		case step.tier == cosmetic, step.tier == extent && unsupported:
			slog.Warn("Device did not accept property", "property", step.id.Name(), "value", step.value, "err", err)
			continue
		case unsupported:
			return hardwareFault(session, err.Error())
		default:
			return err
		}
	}

	status, err := session.GetIntegerProperty(ctx, device.TargetDevice, device.PropDocumentHandlingStatus)
	if err != nil {
		if errors.Is(err, device.ErrPropertyNotSupported) {
			return hardwareFault(session, err.Error())
		}
		return err
	}
	if status != handling {
		return hardwareFault(session, fmt.Sprintf("device did not accept %s mode (handling status %d, requested %d)", mode, status, handling))
	}
	return nil
}

func hardwareFault(session *device.Session, msg string) *devicefault.Fault {
	f := devicefault.New(devicefault.IncorrectHardwareSetting, msg)
	f.Op = session.LastOp()
	return f
}
