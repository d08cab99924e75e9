package mqtt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/znp.go/pkg/znp/mt"
)

// Envelope carries one frame over MQTT. The wire format is the protobuf
// message:
//
//	message Envelope {
//	  uint32 type = 1;
//	  uint32 subsystem = 2;
//	  uint32 command = 3;
//	  bytes payload = 4;
//	  int64 timestamp = 5; // unix nanoseconds
//	  string error = 6;
//	}
type Envelope struct {
	Type      mt.Type
	Subsystem mt.Subsystem
	Command   byte
	Payload   []byte
	Timestamp time.Time
	// Error is set on a reply when the call failed.
	Error string
}

// Envelope field numbers.
const (
	fieldType      = 1
	fieldSubsystem = 2
	fieldCommand   = 3
	fieldPayload   = 4
	fieldTimestamp = 5
	fieldError     = 6
)

// Protobuf wire types.
const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

// ErrMalformed indicates an envelope which can't be decoded.
var ErrMalformed = errors.New("malformed envelope")

// EnvelopeOf wraps a frame.
func EnvelopeOf(f *mt.Frame, at time.Time) *Envelope {
	return &Envelope{
		Type:      f.Type,
		Subsystem: f.Subsystem,
		Command:   f.Command,
		Payload:   f.Payload,
		Timestamp: at,
	}
}

// Frame returns the frame carried.
func (e *Envelope) Frame() *mt.Frame {
	return &mt.Frame{Type: e.Type, Subsystem: e.Subsystem, Command: e.Command, Payload: e.Payload}
}

// Marshal encodes the envelope. Zero fields are omitted.
func (e *Envelope) Marshal() ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, len(e.Payload)+24))
	varint := func(field int, v uint64) error {
		if v == 0 {
			return nil
		}
		if err := buf.EncodeVarint(uint64(field<<3 | wireVarint)); err != nil {
			return err
		}
		return buf.EncodeVarint(v)
	}
	raw := func(field int, b []byte) error {
		if len(b) == 0 {
			return nil
		}
		if err := buf.EncodeVarint(uint64(field<<3 | wireBytes)); err != nil {
			return err
		}
		return buf.EncodeRawBytes(b)
	}
	var ts uint64
	if !e.Timestamp.IsZero() {
		ts = uint64(e.Timestamp.UnixNano())
	}
	for _, err := range []error{
		varint(fieldType, uint64(e.Type)),
		varint(fieldSubsystem, uint64(e.Subsystem)),
		varint(fieldCommand, uint64(e.Command)),
		raw(fieldPayload, e.Payload),
		varint(fieldTimestamp, ts),
		raw(fieldError, []byte(e.Error)),
	} {
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalEnvelope decodes an envelope, skipping unknown fields.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(data) > 0 {
		key, n := proto.DecodeVarint(data)
		if n == 0 {
			return nil, ErrMalformed
		}
		data = data[n:]
		field, wire := int(key>>3), int(key&7)
		var (
			v uint64
			b []byte
		)
		switch wire {
		case wireVarint:
			if v, n = proto.DecodeVarint(data); n == 0 {
				return nil, ErrMalformed
			}
			data = data[n:]
		case wireBytes:
			l, n := proto.DecodeVarint(data)
			if n == 0 || uint64(len(data)-n) < l {
				return nil, ErrMalformed
			}
			b, data = data[n:n+int(l)], data[n+int(l):]
		case wireFixed64, wireFixed32:
			size := 8
			if wire == wireFixed32 {
				size = 4
			}
			if len(data) < size {
				return nil, ErrMalformed
			}
			data = data[size:]
			continue
		default:
			return nil, fmt.Errorf("%w: wire type %d", ErrMalformed, wire)
		}

		switch field {
		case fieldType:
			e.Type = mt.Type(v)
		case fieldSubsystem:
			e.Subsystem = mt.Subsystem(v)
		case fieldCommand:
			e.Command = byte(v)
		case fieldPayload:
			e.Payload = append([]byte(nil), b...)
		case fieldTimestamp:
			e.Timestamp = time.Unix(0, int64(v))
		case fieldError:
			e.Error = string(b)
		}
	}
	return e, nil
}
