// Package zdo implements the ZDO subsystem: network startup, discovery and
// device announcements.
package zdo

import (
	"context"
	"time"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
)

// Command IDs.
const (
	CmdActiveEpReq       byte = 0x05
	CmdMgmtLqiReq        byte = 0x31
	CmdStartupFromApp    byte = 0x40
	CmdActiveEpRsp       byte = 0x85
	CmdMgmtLqiRsp        byte = 0xb1
	CmdStateChangeInd    byte = 0xc0
	CmdEndDeviceAnnceInd byte = 0xc1
)

// StartupResult is the status of StartupFromApp.
type StartupResult byte

// Startup results.
const (
	RestoredNetwork StartupResult = 0x00
	NewNetwork      StartupResult = 0x01
	LeaveNotStarted StartupResult = 0x02
)

func (r StartupResult) String() string {
	switch r {
	case RestoredNetwork:
		return "restored network"
	case NewNetwork:
		return "new network"
	case LeaveNotStarted:
		return "leave and not started"
	}
	return "unknown"
}

// Neighbor device types and relations in a MgmtLqiRsp entry.
const (
	NeighborCoordinator byte = 0x00
	NeighborRouter      byte = 0x01
	NeighborEndDevice   byte = 0x02

	RelationParent    byte = 0x00
	RelationChild     byte = 0x01
	RelationSibling   byte = 0x02
	RelationNone      byte = 0x03
	RelationPrevChild byte = 0x04
)

// Neighbor is one entry of the neighbor table.
type Neighbor struct {
	ExtendedPanID   uint64
	ExtendedAddress uint64
	NetworkAddress  uint16
	// DevTypRxOnWhenIdleRelat packs device type (bits 0-1), rx-on-when-idle
	// (bits 2-3) and relationship (bits 4-6).
	DevTypRxOnWhenIdleRelat byte
	PermitJoining           byte
	Depth                   byte
	LQI                     byte
}

// DeviceType extracts the device type.
func (n *Neighbor) DeviceType() byte {
	return n.DevTypRxOnWhenIdleRelat & 0x03
}

// Relation extracts the relationship to the reporting node.
func (n *Neighbor) Relation() byte {
	return (n.DevTypRxOnWhenIdleRelat >> 4) & 0x07
}

// IsChild tells whether the neighbor is to be walked as a child of the
// reporting node. Stacks report unauthenticated children as RelationNone.
func (n *Neighbor) IsChild() bool {
	rel := n.Relation()
	return rel == RelationChild || rel == RelationNone
}

// MgmtLqiRsp carries a slice of the neighbor table of SrcAddr.
type MgmtLqiRsp struct {
	SrcAddr              uint16
	Status               mt.Status
	NeighborTableEntries byte
	StartIndex           byte
	Neighbors            []Neighbor
}

// DecodeMgmtLqiRsp decodes a MgmtLqiRsp payload.
func DecodeMgmtLqiRsp(p []byte) (*MgmtLqiRsp, error) {
	r := mt.NewPayloadReader(p)
	rsp := &MgmtLqiRsp{
		SrcAddr:              r.U16(),
		Status:               mt.Status(r.U8()),
		NeighborTableEntries: r.U8(),
		StartIndex:           r.U8(),
	}
	count := int(r.U8())
	for i := 0; i < count && r.Err() == nil; i++ {
		rsp.Neighbors = append(rsp.Neighbors, Neighbor{
			ExtendedPanID:           r.U64(),
			ExtendedAddress:         r.U64(),
			NetworkAddress:          r.U16(),
			DevTypRxOnWhenIdleRelat: r.U8(),
			PermitJoining:           r.U8(),
			Depth:                   r.U8(),
			LQI:                     r.U8(),
		})
	}
	return rsp, r.Err()
}

// ActiveEpRsp lists active endpoints of NwkAddr.
type ActiveEpRsp struct {
	SrcAddr   uint16
	Status    mt.Status
	NwkAddr   uint16
	Endpoints []byte
}

// DecodeActiveEpRsp decodes an ActiveEpRsp payload.
func DecodeActiveEpRsp(p []byte) (*ActiveEpRsp, error) {
	r := mt.NewPayloadReader(p)
	rsp := &ActiveEpRsp{
		SrcAddr: r.U16(),
		Status:  mt.Status(r.U8()),
		NwkAddr: r.U16(),
	}
	rsp.Endpoints = r.Raw(int(r.U8()))
	return rsp, r.Err()
}

// EndDeviceAnnceInd announces a device joining the network.
type EndDeviceAnnceInd struct {
	SrcAddr      uint16
	NwkAddr      uint16
	IEEEAddr     uint64
	Capabilities byte
}

// DecodeEndDeviceAnnceInd decodes an EndDeviceAnnceInd payload.
func DecodeEndDeviceAnnceInd(p []byte) (*EndDeviceAnnceInd, error) {
	r := mt.NewPayloadReader(p)
	ind := &EndDeviceAnnceInd{
		SrcAddr:      r.U16(),
		NwkAddr:      r.U16(),
		IEEEAddr:     r.U64(),
		Capabilities: r.U8(),
	}
	return ind, r.Err()
}

// Client issues ZDO requests.
type Client struct {
	Caller rpc.Caller
	// StartupTimeout bounds StartupFromApp, which replies after NV init.
	StartupTimeout time.Duration
}

// NewClient creates a ZDO client.
func NewClient(caller rpc.Caller) *Client {
	return &Client{Caller: caller, StartupTimeout: 5 * time.Second}
}

func (c *Client) statusCall(ctx context.Context, cmd byte, payload []byte, timeout time.Duration) error {
	reply, err := c.Caller.Call(ctx, mt.SubsystemZDO, cmd, payload, timeout)
	if err != nil {
		return err
	}
	return rpc.CheckStatus(reply)
}

// ActiveEpReq requests the active endpoints; the answer is ActiveEpRsp.
func (c *Client) ActiveEpReq(ctx context.Context, dstAddr, nwkAddrOfInterest uint16) error {
	return c.statusCall(ctx, CmdActiveEpReq, mt.NewPayloadWriter(4).U16(dstAddr).U16(nwkAddrOfInterest).Bytes(), 0)
}

// MgmtLqiReq requests the neighbor table of dstAddr; the answer is MgmtLqiRsp.
func (c *Client) MgmtLqiReq(ctx context.Context, dstAddr uint16, startIndex byte) error {
	return c.statusCall(ctx, CmdMgmtLqiReq, mt.NewPayloadWriter(3).U16(dstAddr).U8(startIndex).Bytes(), 0)
}

// StartupFromApp starts the network stack after startDelay milliseconds.
func (c *Client) StartupFromApp(ctx context.Context, startDelay uint16) (StartupResult, error) {
	reply, err := c.Caller.Call(ctx, mt.SubsystemZDO, CmdStartupFromApp,
		mt.NewPayloadWriter(2).U16(startDelay).Bytes(), c.StartupTimeout)
	if err != nil {
		return 0, err
	}
	if len(reply.Payload) < 1 {
		return 0, &rpc.ShortReplyError{Subsystem: mt.SubsystemZDO, Command: CmdStartupFromApp, Want: 1}
	}
	return StartupResult(reply.Payload[0]), nil
}

// Callbacks are ZDO event handlers, nil ones are not registered.
type Callbacks struct {
	StateChangeInd    func(context.Context, DeviceState) mt.Status
	EndDeviceAnnceInd func(context.Context, *EndDeviceAnnceInd) mt.Status
	ActiveEpRsp       func(context.Context, *ActiveEpRsp) mt.Status
	MgmtLqiRsp        func(context.Context, *MgmtLqiRsp) mt.Status
}

// Table builds the registry table.
func (cb *Callbacks) Table() registry.Table {
	t := make(registry.Table)
	if fn := cb.StateChangeInd; fn != nil {
		t[CmdStateChangeInd] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			if len(f.Payload) < 1 {
				return registry.DecodeFailed(f, mt.ErrShortPayload)
			}
			return fn(ctx, DeviceState(f.Payload[0]))
		})
	}
	if fn := cb.EndDeviceAnnceInd; fn != nil {
		t[CmdEndDeviceAnnceInd] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			ind, err := DecodeEndDeviceAnnceInd(f.Payload)
			if err != nil {
				return registry.DecodeFailed(f, err)
			}
			return fn(ctx, ind)
		})
	}
	if fn := cb.ActiveEpRsp; fn != nil {
		t[CmdActiveEpRsp] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			rsp, err := DecodeActiveEpRsp(f.Payload)
			if err != nil {
				return registry.DecodeFailed(f, err)
			}
			return fn(ctx, rsp)
		})
	}
	if fn := cb.MgmtLqiRsp; fn != nil {
		t[CmdMgmtLqiRsp] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			rsp, err := DecodeMgmtLqiRsp(f.Payload)
			if err != nil {
				return registry.DecodeFailed(f, err)
			}
			return fn(ctx, rsp)
		})
	}
	return t
}
