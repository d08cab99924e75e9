package zdo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
	"github.com/robotalks/znp.go/pkg/znp/rpc/rpctest"
)

func lqiEntry(nwkAddr uint16, devType, relation byte) []byte {
	return mt.NewPayloadWriter(22).
		U64(0xdddddddddddddddd).
		U64(0x00124b0000000000 | uint64(nwkAddr)).
		U16(nwkAddr).
		U8(devType | 0x04 | relation<<4).
		U8(0x02).U8(0x01).U8(0xff).
		Bytes()
}

func TestDecodeMgmtLqiRsp(t *testing.T) {
	p := mt.NewPayloadWriter(64).U16(0x0000).U8(0x00).U8(2).U8(0).U8(2).
		Raw(lqiEntry(0x1234, NeighborRouter, RelationChild)).
		Raw(lqiEntry(0x5678, NeighborEndDevice, RelationSibling)).
		Bytes()
	rsp, err := DecodeMgmtLqiRsp(p)
	require.NoError(t, err)
	require.Equal(t, uint16(0), rsp.SrcAddr)
	require.Equal(t, byte(2), rsp.NeighborTableEntries)
	require.Len(t, rsp.Neighbors, 2)
	n := rsp.Neighbors[0]
	require.Equal(t, uint16(0x1234), n.NetworkAddress)
	require.Equal(t, uint64(0x00124b0000001234), n.ExtendedAddress)
	require.Equal(t, NeighborRouter, n.DeviceType())
	require.Equal(t, RelationChild, n.Relation())
	require.True(t, n.IsChild())
	require.Equal(t, byte(0xff), n.LQI)
	require.False(t, rsp.Neighbors[1].IsChild())

	_, err = DecodeMgmtLqiRsp(p[:len(p)-1])
	require.ErrorIs(t, err, mt.ErrShortPayload)
}

func TestDecodeEvents(t *testing.T) {
	ep, err := DecodeActiveEpRsp([]byte{0x34, 0x12, 0x00, 0x34, 0x12, 0x02, 0x01, 0x08})
	require.NoError(t, err)
	require.Equal(t, &ActiveEpRsp{SrcAddr: 0x1234, NwkAddr: 0x1234, Endpoints: []byte{0x01, 0x08}}, ep)

	_, err = DecodeActiveEpRsp([]byte{0x34, 0x12, 0x00, 0x34, 0x12, 0x02, 0x01})
	require.ErrorIs(t, err, mt.ErrShortPayload)

	annce, err := DecodeEndDeviceAnnceInd([]byte{0x00, 0x00, 0xcd, 0xab, 8, 7, 6, 5, 4, 3, 2, 1, 0x8e})
	require.NoError(t, err)
	require.Equal(t, uint16(0xabcd), annce.NwkAddr)
	require.Equal(t, uint64(0x0102030405060708), annce.IEEEAddr)
	require.Equal(t, byte(0x8e), annce.Capabilities)
}

func TestClientRequests(t *testing.T) {
	ctx := context.Background()
	caller := rpctest.New().
		Reply(mt.SubsystemZDO, CmdActiveEpReq, 0x00).
		Reply(mt.SubsystemZDO, CmdMgmtLqiReq, 0x02).
		Reply(mt.SubsystemZDO, CmdStartupFromApp, byte(NewNetwork))
	c := NewClient(caller)

	require.NoError(t, c.ActiveEpReq(ctx, 0x1234, 0x1234))
	var statusErr *rpc.StatusError
	require.ErrorAs(t, c.MgmtLqiReq(ctx, 0x0000, 0), &statusErr)
	result, err := c.StartupFromApp(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, NewNetwork, result)

	reqs := caller.Requests()
	require.Len(t, reqs, 3)
	require.Equal(t, []byte{0x34, 0x12, 0x34, 0x12}, reqs[0].Payload)
	require.Equal(t, []byte{0x00, 0x00, 0x00}, reqs[1].Payload)
	require.Equal(t, []byte{0x00, 0x00}, reqs[2].Payload)
}

func TestCallbacksTable(t *testing.T) {
	var states []DeviceState
	var annces []uint16
	cb := &Callbacks{
		StateChangeInd: func(ctx context.Context, s DeviceState) mt.Status {
			states = append(states, s)
			return mt.StatusSuccess
		},
		EndDeviceAnnceInd: func(ctx context.Context, ind *EndDeviceAnnceInd) mt.Status {
			annces = append(annces, ind.NwkAddr)
			return mt.StatusSuccess
		},
	}
	table := cb.Table()
	require.Len(t, table, 2)
	reg := registry.New()
	require.NoError(t, reg.Register(mt.SubsystemZDO, table))

	frames := []*mt.Frame{
		{Type: mt.TypeAREQ, Subsystem: mt.SubsystemZDO, Command: CmdStateChangeInd, Payload: []byte{byte(DevNwkDisc)}},
		{Type: mt.TypeAREQ, Subsystem: mt.SubsystemZDO, Command: CmdStateChangeInd, Payload: []byte{byte(DevZBCoord)}},
		{Type: mt.TypeAREQ, Subsystem: mt.SubsystemZDO, Command: CmdEndDeviceAnnceInd,
			Payload: []byte{0x00, 0x00, 0x01, 0x00, 8, 7, 6, 5, 4, 3, 2, 1, 0x80}},
		{Type: mt.TypeAREQ, Subsystem: mt.SubsystemZDO, Command: CmdStateChangeInd},
	}
	var statuses []mt.Status
	for _, f := range frames {
		status, routed := reg.Dispatch(context.Background(), f)
		require.True(t, routed)
		statuses = append(statuses, status)
	}
	require.Equal(t, []DeviceState{DevNwkDisc, DevZBCoord}, states)
	require.Equal(t, []uint16{0x0001}, annces)
	require.Equal(t, mt.StatusFailure, statuses[3])
}

func TestDeviceState(t *testing.T) {
	require.Equal(t, "DEV_ZB_COORD", DevZBCoord.String())
	require.Equal(t, "DEV_STATE(20)", DeviceState(20).String())
	require.True(t, DevRouter.Joined())
	require.False(t, DevCoordStarting.Joined())
	require.Equal(t, "started as coordinator", DevZBCoord.Description())
}
