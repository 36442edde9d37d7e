package device

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindDevice is a failure reported by the device or its transport.
	KindDevice Kind = iota
	// KindValidation is a malformed argument, caught before any I/O.
	KindValidation
	// KindUnsupported means the device's protocol lacks the capability.
	KindUnsupported
	// KindRouting is an unknown device, empty tag group or missing bridge.
	KindRouting
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindValidation:
		return "validation"
	case KindUnsupported:
		return "unsupported"
	case KindRouting:
		return "routing"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindDevice.
func ParseKind(s string) Kind {
	switch s {
	case "validation":
		return KindValidation
	case "unsupported":
		return KindUnsupported
	case "routing":
		return KindRouting
	}
	return KindDevice
}

// Error is the single error type that leaves an adapter or dispatcher.
// It renders as {"oveError": "<message>"}.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// MarshalJSON renders the error in its user-visible shape.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OVEError string `json:"oveError"`
	}{e.Message})
}

// Validationf builds a validation error.
func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Routingf builds a routing error.
func Routingf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindRouting, Message: fmt.Sprintf(format, args...)}
}

// Unsupported messages for single and group calls.
const (
	MsgUnsupported      = "Command not available on device"
	MsgUnsupportedGroup = "Command not available on devices"
)

// Unsupported builds the error returned for capabilities a protocol lacks.
func Unsupported() *Error {
	return &Error{Kind: KindUnsupported, Message: MsgUnsupported}
}

// Failed wraps a transport or device error. *Error values pass through unchanged.
func Failed(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindDevice, Message: err.Error()}
}

// Failedf builds a device error from a message.
func Failedf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDevice, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, KindDevice for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindDevice
}

// IsUnsupported reports whether err is an unsupported-capability error.
func IsUnsupported(err error) bool {
	return err != nil && KindOf(err) == KindUnsupported
}
