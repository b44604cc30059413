package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/pdfscan/internal/devicefault"
)

// Session is a bound connection to one device for the duration of one
// capture run.
type Session struct {
	Token    string
	Device   Descriptor
	OpenedAt time.Time

	handle Handle
	lastOp string
	closed bool
}

// LastOp describes the most recent property operation, e.g. "Item 6147=150".
func (s *Session) LastOp() string {
	return s.lastOp
}

// SetIntegerProperty sets a property on the device or on the transfer
// item. Unsupported properties fail with an error wrapping
// ErrPropertyNotSupported; every other failure is a *devicefault.Fault.
func (s *Session) SetIntegerProperty(ctx context.Context, target Target, id PropertyID, value int) error {
	s.lastOp = fmt.Sprintf("%s %d=%d", target, int(id), value)
	if err := s.usable(); err != nil {
		return err
	}
	if err := checkProperty(target, id, true); err != nil {
		return err
	}
	slog.Debug("Setting property", "session", s.Token, "target", target, "property", id.Name(), "value", value)
	if err := s.handle.SetProperty(ctx, target, id, value); err != nil {
		return s.fault(err)
	}
	return nil
}

// GetIntegerProperty reads a property from the device or the transfer item.
func (s *Session) GetIntegerProperty(ctx context.Context, target Target, id PropertyID) (int, error) {
	s.lastOp = fmt.Sprintf("%s %d", target, int(id))
	if err := s.usable(); err != nil {
		return 0, err
	}
	if err := checkProperty(target, id, false); err != nil {
		return 0, err
	}
	v, err := s.handle.GetProperty(ctx, target, id)
	if err != nil {
		return 0, s.fault(err)
	}
	return v, nil
}

// Transfer requests one page from the device. It blocks until the device
// finishes. A paper-empty condition is returned as a fault whose
// InputExhausted method reports true.
func (s *Session) Transfer(ctx context.Context, format Format) (Image, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	img, err := s.handle.Transfer(ctx, format)
	if err != nil {
		return nil, s.fault(err)
	}
	return img, nil
}

// Close releases the device connection. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	slog.Debug("Device session closed", "device", s.Device.ID, "session", s.Token)
	return s.handle.Close()
}

func (s *Session) usable() error {
	if s.closed {
		return devicefault.New(devicefault.ItemDeleted, "session closed")
	}
	return nil
}

func (s *Session) fault(err error) error {
	if errors.Is(err, ErrPropertyNotSupported) {
		return err
	}
	f := devicefault.FromError(err)
	if f.Op == "" {
		f.Op = s.lastOp
	}
	return f
}
