// Package devicefault maps the numeric error codes surfaced by an imaging
// device transport onto a fixed fault taxonomy.
//
// Translation never fails: a code without a known mapping becomes an Unknown
// fault that keeps the raw code and transport message for diagnostics.
package devicefault

import (
	"errors"
	"fmt"
)

// Kind classifies a device fault.
type Kind int

const (
	Unknown Kind = iota
	GeneralError
	PaperJam
	PaperEmpty
	PaperProblem
	Offline
	Busy
	WarmingUp
	UserInterventionRequired
	ItemDeleted
	CommunicationFailure
	InvalidCommand
	IncorrectHardwareSetting
	DeviceLocked
	DriverException
	InvalidDriverResponse
	NotFound
)

// Device error codes as reported by the transport.
const (
	CodeGeneralError             uint32 = 0x80210001
	CodePaperJam                 uint32 = 0x80210002
	CodePaperEmpty               uint32 = 0x80210003
	CodePaperProblem             uint32 = 0x80210004
	CodeOffline                  uint32 = 0x80210005
	CodeBusy                     uint32 = 0x80210006
	CodeWarmingUp                uint32 = 0x80210007
	CodeUserInterventionRequired uint32 = 0x80210008
	CodeItemDeleted              uint32 = 0x80210009
	CodeCommunicationFailure     uint32 = 0x8021000A
	CodeInvalidCommand           uint32 = 0x8021000B
	CodeIncorrectHardwareSetting uint32 = 0x8021000C
	CodeDeviceLocked             uint32 = 0x8021000D
	CodeDriverException          uint32 = 0x8021000E
	CodeInvalidDriverResponse    uint32 = 0x8021000F
	CodeNoDeviceAvailable        uint32 = 0x80210015
)

var kindByCode = map[uint32]Kind{
	CodeGeneralError:             GeneralError,
	CodePaperJam:                 PaperJam,
	CodePaperEmpty:               PaperEmpty,
	CodePaperProblem:             PaperProblem,
	CodeOffline:                  Offline,
	CodeBusy:                     Busy,
	CodeWarmingUp:                WarmingUp,
	CodeUserInterventionRequired: UserInterventionRequired,
	CodeItemDeleted:              ItemDeleted,
	CodeCommunicationFailure:     CommunicationFailure,
	CodeInvalidCommand:           InvalidCommand,
	CodeIncorrectHardwareSetting: IncorrectHardwareSetting,
	CodeDeviceLocked:             DeviceLocked,
	CodeDriverException:          DriverException,
	CodeInvalidDriverResponse:    InvalidDriverResponse,
	CodeNoDeviceAvailable:        NotFound,
}

var kindNames = map[Kind]string{
	Unknown:                  "Unknown",
	GeneralError:             "GeneralError",
	PaperJam:                 "PaperJam",
	PaperEmpty:               "PaperEmpty",
	PaperProblem:             "PaperProblem",
	Offline:                  "Offline",
	Busy:                     "Busy",
	WarmingUp:                "WarmingUp",
	UserInterventionRequired: "UserInterventionRequired",
	ItemDeleted:              "ItemDeleted",
	CommunicationFailure:     "CommunicationFailure",
	InvalidCommand:           "InvalidCommand",
	IncorrectHardwareSetting: "IncorrectHardwareSetting",
	DeviceLocked:             "DeviceLocked",
	DriverException:          "DriverException",
	InvalidDriverResponse:    "InvalidDriverResponse",
	NotFound:                 "NotFound",
}

var descriptions = map[Kind]string{
	GeneralError:             "general error",
	PaperJam:                 "paper jam",
	PaperEmpty:               "paper empty",
	PaperProblem:             "paper problem",
	Offline:                  "offline",
	Busy:                     "busy",
	WarmingUp:                "warming up",
	UserInterventionRequired: "user intervention required",
	ItemDeleted:              "item deleted",
	CommunicationFailure:     "failed to communicate with device",
	InvalidCommand:           "invalid command",
	IncorrectHardwareSetting: "incorrect hardware setting",
	DeviceLocked:             "device locked",
	DriverException:          "exception in driver",
	InvalidDriverResponse:    "invalid driver response",
	NotFound:                 "device not found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CodeError is the raw error a transport returns for a failed device call.
type CodeError struct {
	Code    uint32
	Message string
}

func (e *CodeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device error 0x%08X", e.Code)
	}
	return fmt.Sprintf("device error 0x%08X: %s", e.Code, e.Message)
}

// NewCodeError returns a transport error carrying code.
func NewCodeError(code uint32, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Fault is a translated device failure.
type Fault struct {
	Kind    Kind
	Code    uint32
	Message string
	// Op names the last device operation attempted, e.g. "Item 6147=150".
	Op  string
	Err error
}

func (f *Fault) Error() string {
	msg, ok := descriptions[f.Kind]
	switch {
	case !ok && f.Message != "":
		msg = f.Message
	case !ok:
		msg = fmt.Sprintf("device error 0x%08X", f.Code)
	case f.Message != "":
		msg += ": " + f.Message
	}
	if f.Op != "" {
		return fmt.Sprintf("%s (%s)", msg, f.Op)
	}
	return msg
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// InputExhausted reports whether the fault means the feeder ran out of paper.
// It is the only fault a capture run treats as a normal end of input.
func (f *Fault) InputExhausted() bool {
	return f != nil && f.Kind == PaperEmpty
}

// Translate maps a raw device code to a Fault.
func Translate(code uint32, message string) *Fault {
	kind, ok := kindByCode[code]
	if !ok {
		kind = Unknown
	}
	return &Fault{Kind: kind, Code: code, Message: message}
}

// New returns a fault of the given kind using its canonical code.
func New(kind Kind, message string) *Fault {
	for code, k := range kindByCode {
		if k == kind {
			return &Fault{Kind: kind, Code: code, Message: message}
		}
	}
	return &Fault{Kind: kind, Message: message}
}

// FromError converts any error returned by a transport into a Fault. Errors
// that already are faults are returned as is; errors without a device code
// become Unknown faults carrying the error text.
func FromError(err error) *Fault {
	if err == nil {
		return nil
	}
	var fault *Fault
	if errors.As(err, &fault) {
		return fault
	}
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		f := Translate(codeErr.Code, codeErr.Message)
		f.Err = err
		return f
	}
	return &Fault{Kind: Unknown, Message: err.Error(), Err: err}
}

// IsInputExhausted reports whether err is a paper-empty fault or code.
func IsInputExhausted(err error) bool {
	if err == nil {
		return false
	}
	return FromError(err).InputExhausted()
}
