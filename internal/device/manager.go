// Package device discovers imaging devices and exposes a uniform property
// negotiation surface over them.
//
// Device ids are namespaced by transport ("escl:http://host/eSCL",
// "virtual:/srv/sheets") so a single Manager can front several transports.
// Availability is never cached: every ListDevices and Connect asks the
// transports again.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/pdfscan/internal/devicefault"
)

// Manager routes device operations to the registered transports.
type Manager struct {
	transports []Transport
}

// NewManager returns a manager over the given transports.
func NewManager(transports ...Transport) *Manager {
	return &Manager{transports: transports}
}

// ListDevices returns every device currently reachable through any
// transport. A transport that fails to enumerate is logged and skipped.
func (m *Manager) ListDevices(ctx context.Context) ([]Descriptor, error) {
	var devices []Descriptor
	var errs []error
	for _, t := range m.transports {
		found, err := t.Devices(ctx)
		if err != nil {
			slog.Warn("Unable to enumerate devices", "transport", t.Name(), "err", err)
			errs = append(errs, err)
			continue
		}
		for _, d := range found {
			d.ID = qualify(t.Name(), d.ID)
			d.Transport = t.Name()
			devices = append(devices, d)
		}
	}
	if len(devices) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("failed to list devices: %w", errors.Join(errs...))
	}
	return devices, nil
}

// Connect opens a session on the device with the given id. It fails with a
// NotFound fault when the device is no longer present.
func (m *Manager) Connect(ctx context.Context, id string) (*Session, error) {
	prefix, native, ok := strings.Cut(id, ":")
	if !ok {
		return nil, devicefault.New(devicefault.NotFound, "malformed device id "+id)
	}
	var transport Transport
	for _, t := range m.transports {
		if t.Name() == prefix {
			transport = t
			break
		}
	}
	if transport == nil {
		return nil, devicefault.New(devicefault.NotFound, "no transport for device "+id)
	}

	found, err := transport.Devices(ctx)
	if err != nil {
		return nil, devicefault.FromError(err)
	}
	var desc *Descriptor
	for i := range found {
		if found[i].ID == native {
			desc = &found[i]
			break
		}
	}
	if desc == nil {
		return nil, devicefault.New(devicefault.NotFound, "device "+id+" is not available")
	}

	handle, err := transport.Open(ctx, native)
	if err != nil {
		return nil, devicefault.FromError(err)
	}

	d := *desc
	d.ID = id
	d.Transport = prefix
	s := &Session{
		Token:    uuid.NewString(),
		Device:   d,
		OpenedAt: time.Now(),
		handle:   handle,
	}
	slog.Debug("Device session opened", "device", id, "session", s.Token)
	return s, nil
}

func qualify(transport, id string) string {
	return transport + ":" + id
}
