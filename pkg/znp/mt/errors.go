package mt

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksum indicates FCS mismatch.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrLength indicates the length byte exceeds MaxPayloadLen.
	ErrLength = errors.New("invalid length")
	// ErrSubsystem indicates an unknown subsystem in CMD0.
	ErrSubsystem = errors.New("unknown subsystem")
	// ErrShortFrame indicates a buffer doesn't contain a complete frame.
	ErrShortFrame = errors.New("short frame")
	// ErrPayloadTooLarge indicates a frame can't be encoded.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// FramingError reports a dropped inbound frame.
// It is recovered locally by the parser and never fatal.
type FramingError struct {
	Err  error
	Cmd0 byte
	Cmd1 byte
	Len  byte
}

// Error implements error.
func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error (len=%d cmd=%02x%02x): %v", e.Len, e.Cmd0, e.Cmd1, e.Err)
}

// Unwrap returns the cause.
func (e *FramingError) Unwrap() error {
	return e.Err
}
