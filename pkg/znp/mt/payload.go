package mt

import (
	"encoding/binary"
	"errors"
)

// ErrShortPayload indicates a payload ended before all fields were read.
var ErrShortPayload = errors.New("short payload")

// PayloadWriter builds a little-endian payload.
type PayloadWriter struct {
	buf []byte
}

// NewPayloadWriter creates a writer with capacity hint n.
func NewPayloadWriter(n int) *PayloadWriter {
	return &PayloadWriter{buf: make([]byte, 0, n)}
}

// U8 appends a byte.
func (w *PayloadWriter) U8(v byte) *PayloadWriter {
	w.buf = append(w.buf, v)
	return w
}

// U16 appends a little-endian uint16.
func (w *PayloadWriter) U16(v uint16) *PayloadWriter {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

// U32 appends a little-endian uint32.
func (w *PayloadWriter) U32(v uint32) *PayloadWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

// U64 appends a little-endian uint64.
func (w *PayloadWriter) U64(v uint64) *PayloadWriter {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

// Raw appends p as is.
func (w *PayloadWriter) Raw(p []byte) *PayloadWriter {
	w.buf = append(w.buf, p...)
	return w
}

// Bytes returns the payload built so far.
func (w *PayloadWriter) Bytes() []byte {
	return w.buf
}

// PayloadReader decodes a little-endian payload. After the first short
// read every accessor returns zero and Err reports ErrShortPayload.
type PayloadReader struct {
	p   []byte
	err error
}

// NewPayloadReader reads from p.
func NewPayloadReader(p []byte) *PayloadReader {
	return &PayloadReader{p: p}
}

func (r *PayloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.p) < n {
		r.err, r.p = ErrShortPayload, nil
		return nil
	}
	b := r.p[:n]
	r.p = r.p[n:]
	return b
}

// U8 reads a byte.
func (r *PayloadReader) U8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// U16 reads a little-endian uint16.
func (r *PayloadReader) U16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// U32 reads a little-endian uint32.
func (r *PayloadReader) U32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// U64 reads a little-endian uint64.
func (r *PayloadReader) U64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Raw returns a copy of the next n bytes.
func (r *PayloadReader) Raw(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// Remaining returns the number of unread bytes.
func (r *PayloadReader) Remaining() int {
	return len(r.p)
}

// Err returns ErrShortPayload after a short read.
func (r *PayloadReader) Err() error {
	return r.err
}
