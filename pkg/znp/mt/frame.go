package mt

import (
	"fmt"
	"io"
)

// Wire constants.
const (
	SOF           byte = 0xfe
	MaxPayloadLen      = 250
	headerLen          = 4 // SOF LEN CMD0 CMD1
	overhead           = headerLen + 1

	typeMask      byte = 0xe0
	subsystemMask byte = 0x1f
)

// Type is the frame type, pre-shifted into CMD0 position.
type Type byte

// Frame types.
const (
	TypePoll Type = 0x00
	TypeSREQ Type = 0x20
	TypeAREQ Type = 0x40
	TypeSRSP Type = 0x60
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypePoll:
		return "POLL"
	case TypeSREQ:
		return "SREQ"
	case TypeAREQ:
		return "AREQ"
	case TypeSRSP:
		return "SRSP"
	}
	return fmt.Sprintf("TYPE(%02x)", byte(t))
}

// Subsystem identifies a group of commands.
type Subsystem byte

// Subsystems.
const (
	SubsystemRPCError Subsystem = 0x00
	SubsystemSYS      Subsystem = 0x01
	SubsystemMAC      Subsystem = 0x02
	SubsystemNWK      Subsystem = 0x03
	SubsystemAF       Subsystem = 0x04
	SubsystemZDO      Subsystem = 0x05
	SubsystemSAPI     Subsystem = 0x06
	SubsystemUTIL     Subsystem = 0x07
	SubsystemDEBUG    Subsystem = 0x08
	SubsystemAPP      Subsystem = 0x09

	subsystemCount = 0x0a
)

var subsystemNames = [subsystemCount]string{
	"RPC", "SYS", "MAC", "NWK", "AF", "ZDO", "SAPI", "UTIL", "DEBUG", "APP",
}

// IsValid indicates the subsystem is one of the known subsystems.
func (s Subsystem) IsValid() bool {
	return s < subsystemCount
}

// String implements fmt.Stringer.
func (s Subsystem) String() string {
	if s.IsValid() {
		return subsystemNames[s]
	}
	return fmt.Sprintf("SUBSYS(%02x)", byte(s))
}

// ParseSubsystem looks up a subsystem by name.
func ParseSubsystem(name string) (Subsystem, bool) {
	for n, s := range subsystemNames {
		if s == name {
			return Subsystem(n), true
		}
	}
	return 0, false
}

// Status is the generic one-byte status used by replies and handlers.
type Status byte

// Generic status values.
const (
	StatusSuccess Status = 0x00
	StatusFailure Status = 0x01
)

// Frame is a decoded MT frame.
type Frame struct {
	Type      Type
	Subsystem Subsystem
	Command   byte
	Payload   []byte
}

// Cmd0 returns the packed type and subsystem byte.
func (f *Frame) Cmd0() byte {
	return (byte(f.Type) & typeMask) | (byte(f.Subsystem) & subsystemMask)
}

// Validate checks the frame can be encoded.
func (f *Frame) Validate() error {
	if len(f.Payload) > MaxPayloadLen {
		return ErrPayloadTooLarge
	}
	if !f.Subsystem.IsValid() {
		return ErrSubsystem
	}
	return nil
}

// String implements fmt.Stringer.
func (f *Frame) String() string {
	return fmt.Sprintf("%s %s/0x%02x [% x]", f.Type, f.Subsystem, f.Command, f.Payload)
}

// Bytes returns encoded bytes for sending.
// The payload is truncated to MaxPayloadLen, use Validate beforehand.
func (f *Frame) Bytes() []byte {
	l := len(f.Payload)
	if l > MaxPayloadLen {
		l = MaxPayloadLen
	}
	b := make([]byte, l+overhead)
	b[0], b[1], b[2], b[3] = SOF, byte(l), f.Cmd0(), f.Command
	copy(b[headerLen:], f.Payload[:l])
	b[len(b)-1] = Checksum(b[1 : len(b)-1])
	return b
}

// WriteTo writes encoded bytes in a single Write.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	n, err := w.Write(f.Bytes())
	return int64(n), err
}

// Checksum computes FCS over the bytes from LEN to the last payload byte.
func Checksum(p []byte) (fcs byte) {
	for _, b := range p {
		fcs ^= b
	}
	return
}

// Decode decodes a buffer containing exactly one encoded frame.
func Decode(b []byte) (*Frame, error) {
	var p Parser
	for n, c := range b {
		pr := p.Parse(c)
		if pr.Err != nil {
			return nil, pr.Err
		}
		if pr.Frame != nil {
			if n+1 != len(b) {
				return nil, fmt.Errorf("%d trailing bytes", len(b)-n-1)
			}
			return pr.Frame, nil
		}
	}
	return nil, ErrShortFrame
}
