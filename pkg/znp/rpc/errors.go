package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/robotalks/znp.go/pkg/znp/mt"
)

var (
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("rpc: timeout")
	// ErrStopped indicates the receive path exited.
	ErrStopped = errors.New("rpc: receive path stopped")
)

// TimeoutError reports a synchronous request without a reply in time.
// The request may still be answered later, the next Call flushes that reply.
type TimeoutError struct {
	Subsystem mt.Subsystem
	Command   byte
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: %s/%02x no reply within %s", e.Subsystem, e.Command, e.Timeout)
}

// Is implements errors.Is.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// TransportError wraps a read/write failure of the underlying link.
// The link should be considered unusable until reopened.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// RPCError is the coprocessor's rejection of a request, e.g. an unknown
// command or malformed payload.
type RPCError struct {
	Code byte
	Cmd0 byte
	Cmd1 byte
}

// RPC error codes.
const (
	RPCErrSubsystem byte = 0x01
	RPCErrCommandID byte = 0x02
	RPCErrParameter byte = 0x03
	RPCErrLength    byte = 0x04
)

func (e *RPCError) Error() string {
	var reason string
	switch e.Code {
	case RPCErrSubsystem:
		reason = "invalid subsystem"
	case RPCErrCommandID:
		reason = "invalid command"
	case RPCErrParameter:
		reason = "invalid parameter"
	case RPCErrLength:
		reason = "invalid length"
	default:
		reason = fmt.Sprintf("code %02x", e.Code)
	}
	return fmt.Sprintf("rpc: request %02x%02x rejected: %s", e.Cmd0, e.Cmd1, reason)
}

// Subsystem returns the subsystem of the rejected request.
func (e *RPCError) Subsystem() mt.Subsystem {
	return mt.Subsystem(e.Cmd0 & 0x1f)
}

// StatusError reports a reply carrying a non-success status byte.
// It is returned by the typed subsystem clients, not by Call.
type StatusError struct {
	Subsystem mt.Subsystem
	Command   byte
	Status    mt.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s/%02x failed with status %02x", e.Subsystem, e.Command, byte(e.Status))
}

// CheckStatus converts a leading status byte to an error.
func CheckStatus(reply *mt.Frame) error {
	if len(reply.Payload) == 0 {
		return &ShortReplyError{Subsystem: reply.Subsystem, Command: reply.Command, Want: 1}
	}
	if status := mt.Status(reply.Payload[0]); status != mt.StatusSuccess {
		return &StatusError{Subsystem: reply.Subsystem, Command: reply.Command, Status: status}
	}
	return nil
}

// ShortReplyError reports a reply payload too short to decode.
type ShortReplyError struct {
	Subsystem mt.Subsystem
	Command   byte
	Want      int
	Got       int
}

func (e *ShortReplyError) Error() string {
	return fmt.Sprintf("%s/%02x payload too short: want %d, got %d", e.Subsystem, e.Command, e.Want, e.Got)
}
