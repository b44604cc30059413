// Package escl drives network scanners that speak eSCL (AirScan) over HTTP.
//
// The transport maps the numeric property namespace onto a ScanSettings
// document that is sent when a page is requested. Scanner and ADF state
// reported by ScannerStatus is translated into device error codes.
package escl

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/pdfscan/internal/device"
	"github.com/lehigh-university-libraries/pdfscan/internal/devicefault"
)

const probeTimeout = 5 * time.Second

// Endpoint configures one eSCL scanner, e.g. http://192.168.1.20/eSCL.
type Endpoint struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Transport serves the configured eSCL endpoints.
type Transport struct {
	endpoints []Endpoint
	client    *http.Client
}

// New returns a transport over endpoints. A nil client uses a default one
// without timeout; transfers are bounded by their context.
func New(client *http.Client, endpoints ...Endpoint) *Transport {
	if client == nil {
		client = &http.Client{}
	}
	return &Transport{endpoints: endpoints, client: client}
}

func (t *Transport) Name() string {
	return "escl"
}

// Devices probes every endpoint concurrently and lists those answering
// with their capabilities.
func (t *Transport) Devices(ctx context.Context) ([]device.Descriptor, error) {
	found := make([]*device.Descriptor, len(t.endpoints))

	var g errgroup.Group
	g.SetLimit(4)
	for i, ep := range t.endpoints {
		g.Go(func() error {
			base := baseURL(ep.URL)
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			caps, err := t.capabilities(probeCtx, base)
			if err != nil {
				slog.Debug("eSCL endpoint unavailable", "url", base, "err", err)
				return nil
			}
			name := ep.Name
			if name == "" {
				name = caps.MakeAndModel
			}
			if name == "" {
				name = base
			}
			found[i] = &device.Descriptor{ID: base, Name: name}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []device.Descriptor
	for _, d := range found {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

// Open fetches the scanner capabilities and returns a handle with default
// settings.
func (t *Transport) Open(ctx context.Context, id string) (device.Handle, error) {
	base := baseURL(id)
	caps, err := t.capabilities(ctx, base)
	if err != nil {
		return nil, err
	}
	return newHandle(t.client, base, caps), nil
}

func (t *Transport) capabilities(ctx context.Context, base string) (*capabilities, error) {
	resp, err := get(ctx, t.client, base+"/ScannerCapabilities")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, devicefault.NewCodeError(devicefault.CodeNoDeviceAvailable, "capabilities: HTTP %d", resp.StatusCode)
	}
	var caps capabilities
	if err := xml.NewDecoder(resp.Body).Decode(&caps); err != nil {
		return nil, devicefault.NewCodeError(devicefault.CodeInvalidDriverResponse, "failed to parse capabilities: %v", err)
	}
	return &caps, nil
}

func baseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func get(ctx context.Context, client *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	return do(client, req)
}

func do(client *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, ctxErr
		}
		return nil, devicefault.NewCodeError(devicefault.CodeCommunicationFailure, "%v", err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// handle is an open eSCL scanner. Property values are kept locally and
// sent with the next scan job.
type handle struct {
	client *http.Client
	base   string
	caps   *capabilities
	props  map[device.PropertyID]int

	job         string
	jobSettings scanSettings
}

func newHandle(client *http.Client, base string, caps *capabilities) *handle {
	return &handle{
		client: client,
		base:   base,
		caps:   caps,
		props: map[device.PropertyID]int{
			device.PropHorizontalResolution:   300,
			device.PropVerticalResolution:     300,
			device.PropHorizontalStart:        0,
			device.PropVerticalStart:          0,
			device.PropCurrentIntent:          device.IntentColor,
			device.PropDocumentHandlingSelect: device.HandlingFlatbed,
		},
	}
}

func (h *handle) SetProperty(ctx context.Context, target device.Target, id device.PropertyID, value int) error {
	switch id {
	case device.PropHorizontalResolution, device.PropVerticalResolution:
		if !h.caps.supportsResolution(value) {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "resolution %d not supported", value)
		}
	case device.PropHorizontalStart, device.PropVerticalStart,
		device.PropHorizontalExtent, device.PropVerticalExtent:
		if value < 0 {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "negative region value %d", value)
		}
	case device.PropCurrentIntent:
		mode, ok := intentModes[value]
		if !ok || !h.caps.supportsColorMode(mode) {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "intent %d not supported", value)
		}
	case device.PropBitsPerPixel:
		mode, ok := depthModes[value]
		if !ok || !h.caps.supportsColorMode(mode) {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "bit depth %d not supported", value)
		}
	case device.PropDocumentHandlingSelect:
		if value != device.HandlingFeeder && value != device.HandlingFlatbed {
			return devicefault.NewCodeError(devicefault.CodeInvalidCommand, "unsupported handling mode %d", value)
		}
	default:
		return device.ErrPropertyNotSupported
	}
	h.props[id] = value
	return nil
}

func (h *handle) GetProperty(ctx context.Context, target device.Target, id device.PropertyID) (int, error) {
	switch id {
	case device.PropDocumentHandlingCapabilities:
		caps := 0
		if h.caps.Platen != nil {
			caps |= device.HandlingFlatbed
		}
		if h.caps.Adf != nil {
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

// status is the handling mode the scanner will actually use. Scanners
// without an ADF stay on the platen.
func (h *handle) status() int {
	if h.props[device.PropDocumentHandlingSelect] == device.HandlingFeeder && h.caps.Adf != nil {
		return device.HandlingFeeder
	}
	return device.HandlingFlatbed
}

var intentModes = map[int]string{
	device.IntentColor:     "RGB24",
	device.IntentGrayscale: "Grayscale8",
	device.IntentText:      "BlackAndWhite1",
}

var depthModes = map[int]string{
	1:  "BlackAndWhite1",
	8:  "Grayscale8",
	24: "RGB24",
}

func (h *handle) settings(format device.Format) scanSettings {
	xres := h.props[device.PropHorizontalResolution]
	yres := h.props[device.PropVerticalResolution]

	mode := intentModes[h.props[device.PropCurrentIntent]]
	if depth, ok := h.props[device.PropBitsPerPixel]; ok {
		mode = depthModes[depth]
	}
	if mode == "" {
		mode = "RGB24"
	}

	source := "Platen"
	maxCaps := inputCaps{}
	if h.caps.Platen != nil {
		maxCaps = h.caps.Platen.InputCaps
	}
	if h.status() == device.HandlingFeeder {
		source = "Feeder"
		maxCaps = h.caps.Adf.InputCaps
	}

	// Regions are in 1/300 inch; extents are device pixels at the current resolution.
	width := maxCaps.MaxWidth
	if ext, ok := h.props[device.PropHorizontalExtent]; ok && xres > 0 {
		width = ext * 300 / xres
	}
	height := maxCaps.MaxHeight
	if ext, ok := h.props[device.PropVerticalExtent]; ok && yres > 0 {
		height = ext * 300 / yres
	}

	return scanSettings{
		ScanNS:  nsScan,
		PwgNS:   nsPwg,
		Version: "2.6",
		Regions: []scanRegion{{
			Height:             height,
			ContentRegionUnits: "escl:ThreeHundredthsOfInches",
			Width:              width,
			XOffset:            h.props[device.PropHorizontalStart] * 300 / max(xres, 1),
			YOffset:            h.props[device.PropVerticalStart] * 300 / max(yres, 1),
		}},
		InputSource:    source,
		ColorMode:      mode,
		XResolution:    xres,
		YResolution:    yres,
		DocumentFormat: string(format),
	}
}

// Transfer retrieves one page. Feeder jobs stay open across transfers so
// consecutive calls walk through the stack; platen jobs end after one page.
func (h *handle) Transfer(ctx context.Context, format device.Format) (device.Image, error) {
	settings := h.settings(format)
	if h.job != "" && (settings.InputSource != "Feeder" || !sameSettings(h.jobSettings, settings)) {
		h.deleteJob()
	}
	if h.job == "" {
		job, err := h.createJob(ctx, settings)
		if err != nil {
			return nil, err
		}
		h.job = job
		h.jobSettings = settings
	}

	resp, err := get(ctx, h.client, h.job+"/NextDocument")
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			h.job = ""
			return nil, devicefault.NewCodeError(devicefault.CodeCommunicationFailure, "failed to read page: %v", err)
		}
		if settings.InputSource != "Feeder" {
			h.job = ""
		}
		return &device.MemoryImage{Data: data, ImageFormat: format}, nil
	case http.StatusNotFound:
		h.job = ""
		if settings.InputSource == "Feeder" {
			return nil, h.feederEnd(ctx)
		}
		return nil, devicefault.NewCodeError(devicefault.CodeInvalidDriverResponse, "platen job produced no document")
	case http.StatusServiceUnavailable:
		return nil, devicefault.NewCodeError(devicefault.CodeBusy, "scanner busy")
	default:
		h.job = ""
		return nil, h.statusError(ctx, devicefault.CodeInvalidDriverResponse)
	}
}

func sameSettings(a, b scanSettings) bool {
	ab, errA := xml.Marshal(a)
	bb, errB := xml.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

func (h *handle) createJob(ctx context.Context, settings scanSettings) (string, error) {
	body, err := xml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scan settings: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/ScanJobs",
		bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := do(h.client, req)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusServiceUnavailable:
		return "", devicefault.NewCodeError(devicefault.CodeBusy, "scanner busy")
	case http.StatusConflict:
		fallback := devicefault.CodeDeviceLocked
		if settings.InputSource == "Feeder" {
			fallback = devicefault.CodePaperEmpty
		}
		return "", h.statusError(ctx, fallback)
	default:
		return "", h.statusError(ctx, devicefault.CodeInvalidDriverResponse)
	}

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil || resp.Header.Get("Location") == "" {
		return "", devicefault.NewCodeError(devicefault.CodeInvalidDriverResponse, "scan job created without location")
	}
	base, err := url.Parse(h.base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %w", err)
	}
	job := strings.TrimRight(base.ResolveReference(loc).String(), "/")
	slog.Debug("eSCL scan job created", "job", job, "source", settings.InputSource, "mode", settings.ColorMode)
	return job, nil
}

func (h *handle) deleteJob() {
	job := h.job
	h.job = ""
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, job, nil)
	if err != nil {
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		slog.Debug("Unable to delete eSCL job", "job", job, "err", err)
		return
	}
	drain(resp)
}

var adfStateCodes = map[string]uint32{
	"ScannerAdfEmpty":               devicefault.CodePaperEmpty,
	"ScannerAdfJam":                 devicefault.CodePaperJam,
	"ScannerAdfMispick":             devicefault.CodePaperProblem,
	"ScannerAdfMultipickDetected":   devicefault.CodePaperProblem,
	"ScannerAdfInputTrayFailed":     devicefault.CodePaperProblem,
	"ScannerAdfHatchOpen":           devicefault.CodeUserInterventionRequired,
	"ScannerAdfInputTrayOverloaded": devicefault.CodeUserInterventionRequired,
}

var stateCodes = map[string]uint32{
	"Processing": devicefault.CodeBusy,
	"Testing":    devicefault.CodeWarmingUp,
	"Stopped":    devicefault.CodeOffline,
	"Down":       devicefault.CodeOffline,
}

// statusError asks the scanner why a request failed and returns the
// matching device code, or fallback when the status gives no reason.
func (h *handle) statusError(ctx context.Context, fallback uint32) error {
	st, err := h.fetchStatus(ctx)
	if err != nil {
		return devicefault.NewCodeError(fallback, "status unavailable: %v", err)
	}
	if code, ok := adfStateCodes[st.AdfState]; ok {
		return devicefault.NewCodeError(code, "%s", st.AdfState)
	}
	if code, ok := stateCodes[st.State]; ok {
		return devicefault.NewCodeError(code, "scanner state %s", st.State)
	}
	return devicefault.NewCodeError(fallback, "scanner state %s", st.State)
}

// feederEnd explains a feeder job running out of documents: paper empty
// unless the ADF state names a paper fault. The scanner State is ignored.
func (h *handle) feederEnd(ctx context.Context) error {
	st, err := h.fetchStatus(ctx)
	if err != nil {
		slog.Debug("Unable to read scanner status after feeder job", "err", err)
		return devicefault.NewCodeError(devicefault.CodePaperEmpty, "feeder empty")
	}
	if code, ok := adfStateCodes[st.AdfState]; ok {
		return devicefault.NewCodeError(code, "%s", st.AdfState)
	}
	return devicefault.NewCodeError(devicefault.CodePaperEmpty, "feeder empty")
}

func (h *handle) fetchStatus(ctx context.Context) (*scannerStatus, error) {
	resp, err := get(ctx, h.client, h.base+"/ScannerStatus")
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: HTTP %d", resp.StatusCode)
	}
	var st scannerStatus
	if err := xml.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &st, nil
}

func (h *handle) Close() error {
	if h.job != "" {
		h.deleteJob()
	}
	return nil
}
