package af

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/rpc/rpctest"
)

func incomingPayload(srcAddr uint16, cluster uint16, data ...byte) []byte {
	return mt.NewPayloadWriter(17+len(data)).
		U16(0).U16(cluster).U16(srcAddr).U8(1).U8(1).U8(0).U8(0x80).U8(0).
		U32(0x01020304).U8(9).U8(byte(len(data))).Raw(data).Bytes()
}

func TestClientRequests(t *testing.T) {
	ctx := context.Background()
	caller := rpctest.New().
		Reply(mt.SubsystemAF, CmdRegister, 0x00).
		Reply(mt.SubsystemAF, CmdDataRequest, 0x00)
	c := NewClient(caller)

	require.NoError(t, c.Register(ctx, &Endpoint{
		EndPoint:    1,
		AppProfID:   ProfileHomeAutomation,
		AppDeviceID: 0x0100,
		AppDevVer:   1,
		InClusters:  []uint16{ClusterOnOff},
	}))
	require.NoError(t, c.DataRequest(ctx, &DataRequest{
		DstAddr:     0x1234,
		DstEndpoint: 1,
		SrcEndpoint: 1,
		ClusterID:   ClusterOnOff,
		TransID:     5,
		Radius:      DefaultRadius,
		Data:        []byte("hi"),
	}))

	reqs := caller.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, []byte{0x01, 0x04, 0x01, 0x00, 0x01, 0x01, 0x00, 0x01, 0x06, 0x00, 0x00}, reqs[0].Payload)
	require.Equal(t, []byte{0x34, 0x12, 0x01, 0x01, 0x06, 0x00, 0x05, 0x00, 0xee, 0x02, 'h', 'i'}, reqs[1].Payload)

	err := c.DataRequest(ctx, &DataRequest{Data: make([]byte, MaxDataLen+1)})
	require.ErrorIs(t, err, mt.ErrPayloadTooLarge)
	require.Len(t, caller.Requests(), 2)
}

func TestDecodeIncomingMsg(t *testing.T) {
	m, err := DecodeIncomingMsg(incomingPayload(0xabcd, ClusterOnOff, 'o', 'k'))
	require.NoError(t, err)
	require.Equal(t, uint16(0xabcd), m.SrcAddr)
	require.Equal(t, ClusterOnOff, m.ClusterID)
	require.Equal(t, byte(0x80), m.LinkQuality)
	require.Equal(t, uint32(0x01020304), m.TimeStamp)
	require.Equal(t, byte(9), m.TransSeqNumber)
	require.Equal(t, []byte("ok"), m.Data)

	m, err = DecodeIncomingMsg(incomingPayload(0xabcd, ClusterOnOff))
	require.NoError(t, err)
	require.Empty(t, m.Data)

	p := incomingPayload(0xabcd, ClusterOnOff, 'o', 'k')
	_, err = DecodeIncomingMsg(p[:len(p)-1])
	require.ErrorIs(t, err, mt.ErrShortPayload)
}

func TestCallbacks(t *testing.T) {
	var confirms []*DataConfirm
	var msgs []*IncomingMsg
	cb := &Callbacks{
		DataConfirm: func(ctx context.Context, c *DataConfirm) mt.Status {
			confirms = append(confirms, c)
			return c.Status
		},
		IncomingMsg: func(ctx context.Context, m *IncomingMsg) mt.Status {
			msgs = append(msgs, m)
			return mt.StatusSuccess
		},
	}
	reg := registry.New()
	require.NoError(t, reg.Register(mt.SubsystemAF, cb.Table()))

	status, routed := reg.Dispatch(context.Background(), &mt.Frame{
		Type: mt.TypeAREQ, Subsystem: mt.SubsystemAF, Command: CmdDataConfirm, Payload: []byte{0xcd, 0x01, 0x05},
	})
	require.True(t, routed)
	require.Equal(t, mt.Status(0xcd), status)
	require.Equal(t, &DataConfirm{Status: 0xcd, Endpoint: 1, TransID: 5}, confirms[0])

	reg.Dispatch(context.Background(), &mt.Frame{
		Type: mt.TypeAREQ, Subsystem: mt.SubsystemAF, Command: CmdIncomingMsg,
		Payload: incomingPayload(0x0001, ClusterOnOff, 7),
	})
	require.Len(t, msgs, 1)
	require.Equal(t, []byte{7}, msgs[0].Data)
}
