package mt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadWriter(t *testing.T) {
	p := NewPayloadWriter(16).U8(0x01).U16(0x1234).U32(0x0a0b0c0d).Raw([]byte{0xee}).Bytes()
	require.Equal(t, []byte{0x01, 0x34, 0x12, 0x0d, 0x0c, 0x0b, 0x0a, 0xee}, p)
}

func TestPayloadReader(t *testing.T) {
	r := NewPayloadReader([]byte{0x01, 0x34, 0x12, 8, 7, 6, 5, 4, 3, 2, 1, 0xaa, 0xbb})
	require.Equal(t, byte(0x01), r.U8())
	require.Equal(t, uint16(0x1234), r.U16())
	require.Equal(t, uint64(0x0102030405060708), r.U64())
	require.Equal(t, 2, r.Remaining())
	require.Equal(t, []byte{0xaa, 0xbb}, r.Raw(2))
	require.NoError(t, r.Err())

	require.Zero(t, r.U16())
	require.ErrorIs(t, r.Err(), ErrShortPayload)
	require.Zero(t, r.U8())
	require.Nil(t, r.Raw(1))
}
