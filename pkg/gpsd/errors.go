package gpsd

import (
	"errors"
	"fmt"
)

var (
	// ErrNotActive is returned when a POLL report carries no active device.
	ErrNotActive = errors.New("gpsd: no active device")

	// ErrIncompleteReport is returned when a POLL report has no tpv or sky entries.
	ErrIncompleteReport = errors.New("gpsd: report without tpv or sky entries")

	// ErrNotConnected is returned by Poll before a successful Connect.
	ErrNotConnected = errors.New("gpsd: client not connected")

	// ErrNoDevice is returned by DeviceInfo before any device was announced.
	ErrNoDevice = errors.New("gpsd: no device known")
)

// ProtocolError reports a message class the client did not expect at the
// current stage of the conversation.
type ProtocolError struct {
	Stage    string
	Expected []string
	Class    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gpsd: unexpected %q message during %s (want %v)", e.Class, e.Stage, e.Expected)
}

// InsufficientFixError is returned by a query whose minimum fix quality is
// not met by the snapshot.
type InsufficientFixError struct {
	Required FixQuality
	Actual   FixQuality
	Reason   string
}

func (e *InsufficientFixError) Error() string {
	return fmt.Sprintf("gpsd: %s (have %s)", e.Reason, e.Actual)
}

// FormatError is returned when the snapshot's time text does not match the
// gpsd timestamp layout.
type FormatError struct {
	Text string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("gpsd: malformed timestamp %q: %v", e.Text, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
