package mt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// raw builds an encoded frame with a correct checksum from header fields.
func raw(length, cmd0, cmd1 byte, payload ...byte) []byte {
	b := append([]byte{SOF, length, cmd0, cmd1}, payload...)
	return append(b, Checksum(b[1:]))
}

type parserTestSequenceBuilder struct {
	in     []byte
	frames []*Frame
	errs   []error
}

func parserTestSequences() *parserTestSequenceBuilder {
	return &parserTestSequenceBuilder{}
}

func (b *parserTestSequenceBuilder) on(in ...byte) *parserTestSequenceBuilder {
	b.in = append(b.in, in...)
	return b
}

func (b *parserTestSequenceBuilder) frame(typ Type, sub Subsystem, cmd byte, payload ...byte) *parserTestSequenceBuilder {
	b.frames = append(b.frames, &Frame{Type: typ, Subsystem: sub, Command: cmd, Payload: payload})
	return b
}

func (b *parserTestSequenceBuilder) dropped(err error) *parserTestSequenceBuilder {
	b.errs = append(b.errs, err)
	return b
}

func TestParser(t *testing.T) {
	testCases := []struct {
		name string
		seq  *parserTestSequenceBuilder
	}{
		{
			name: "single frame",
			seq: parserTestSequences().
				on(0xfe, 0x01, 0x45, 0xc0, 0x09, 0x8d).frame(TypeAREQ, SubsystemZDO, 0xc0, 0x09),
		},
		{
			name: "zero length",
			seq: parserTestSequences().
				on(0xfe, 0x00, 0x21, 0x01, 0x20).frame(TypeSREQ, SubsystemSYS, 0x01),
		},
		{
			name: "skip bytes before start",
			seq: parserTestSequences().
				on(0x00, 0x11, 0x45).
				on(0xfe, 0x00, 0x21, 0x01, 0x20).frame(TypeSREQ, SubsystemSYS, 0x01),
		},
		{
			name: "back to back",
			seq: parserTestSequences().
				on(0xfe, 0x00, 0x21, 0x01, 0x20).frame(TypeSREQ, SubsystemSYS, 0x01).
				on(0xfe, 0x02, 0x61, 0x01, 0x79, 0x01, 0x1a).frame(TypeSRSP, SubsystemSYS, 0x01, 0x79, 0x01),
		},
		{
			name: "start marker inside payload",
			seq: parserTestSequences().
				on(raw(0x03, 0x44, 0x81, 0xfe, 0xfe, 0x00)...).frame(TypeAREQ, SubsystemAF, 0x81, 0xfe, 0xfe, 0x00),
		},
		{
			name: "checksum resync",
			seq: parserTestSequences().
				on(0xfe, 0x00, 0x21, 0x01, 0x21).dropped(ErrChecksum).
				on(0xfe, 0x01, 0x45, 0xc0, 0x09, 0x8d).frame(TypeAREQ, SubsystemZDO, 0xc0, 0x09),
		},
		{
			name: "corrupted payload between valid frames",
			seq: parserTestSequences().
				on(0xfe, 0x00, 0x21, 0x01, 0x20).frame(TypeSREQ, SubsystemSYS, 0x01).
				on(0xfe, 0x02, 0x61, 0x01, 0x78, 0x01, 0x1a).dropped(ErrChecksum).
				on(0xfe, 0x02, 0x61, 0x01, 0x79, 0x01, 0x1a).frame(TypeSRSP, SubsystemSYS, 0x01, 0x79, 0x01),
		},
		{
			name: "invalid length",
			seq: parserTestSequences().
				on(0xfe, 0xfb).dropped(ErrLength).
				on(0x01, 0x02).
				on(0xfe, 0x00, 0x21, 0x01, 0x20).frame(TypeSREQ, SubsystemSYS, 0x01),
		},
		{
			name: "unknown subsystem",
			seq: parserTestSequences().
				on(raw(0x00, 0x2a, 0x01)...).dropped(ErrSubsystem).
				on(0xfe, 0x00, 0x21, 0x01, 0x20).frame(TypeSREQ, SubsystemSYS, 0x01),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var parser Parser
			frames, errs := parser.Feed(tc.seq.in)
			require.Len(t, frames, len(tc.seq.frames))
			for n, f := range frames {
				expect := tc.seq.frames[n]
				require.Equalf(t, expect.Type, f.Type, "frames[%d] type", n)
				require.Equalf(t, expect.Subsystem, f.Subsystem, "frames[%d] subsystem", n)
				require.Equalf(t, expect.Command, f.Command, "frames[%d] command", n)
				if len(expect.Payload) == 0 {
					require.Emptyf(t, f.Payload, "frames[%d] payload", n)
				} else {
					require.Equalf(t, expect.Payload, f.Payload, "frames[%d] payload", n)
				}
			}
			require.Len(t, errs, len(tc.seq.errs))
			for n, err := range errs {
				require.ErrorIsf(t, err, tc.seq.errs[n], "errs[%d]", n)
				var fe *FramingError
				require.ErrorAs(t, err, &fe)
			}
			require.False(t, parser.InFrame())
		})
	}
}

func TestParserStepwise(t *testing.T) {
	var parser Parser
	in := []byte{0xfe, 0x01, 0x41, 0x00, 0x01}
	for i, b := range in {
		pr := parser.Parse(b)
		require.Nilf(t, pr.Frame, "byte[%d]", i)
		require.NoErrorf(t, pr.Err, "byte[%d]", i)
		require.Truef(t, parser.InFrame(), "byte[%d]", i)
	}
	pr := parser.Parse(0x41)
	require.NoError(t, pr.Err)
	require.NotNil(t, pr.Frame)
	require.Equal(t, []byte{0x01}, pr.Frame.Payload)
}

func TestParserReset(t *testing.T) {
	var parser Parser
	parser.Feed([]byte{0xfe, 0x05, 0x41})
	require.True(t, parser.InFrame())
	parser.Reset()
	require.False(t, parser.InFrame())
	frames, errs := parser.Feed([]byte{0xfe, 0x00, 0x21, 0x01, 0x20})
	require.Len(t, frames, 1)
	require.Empty(t, errs)
}
