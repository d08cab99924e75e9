// Package sys implements the SYS subsystem: reset, version and NV access.
package sys

import (
	"context"
	"fmt"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
)

// Command IDs.
const (
	CmdResetReq    byte = 0x00
	CmdPing        byte = 0x01
	CmdVersion     byte = 0x02
	CmdGetExtAddr  byte = 0x04
	CmdOsalNvRead  byte = 0x08
	CmdOsalNvWrite byte = 0x09
	CmdResetInd    byte = 0x80
)

// Reset types.
const (
	ResetHard byte = 0x00
	ResetSoft byte = 0x01
)

// NV item IDs used by network startup.
const (
	NvStartupOption uint16 = 0x0003
	NvPanID         uint16 = 0x0083
	NvChanList      uint16 = 0x0084
	NvLogicalType   uint16 = 0x0087
	NvZdoDirectCB   uint16 = 0x008f
)

// Startup option bits for NvStartupOption.
const (
	StartOptClearConfig byte = 0x01
	StartOptClearState  byte = 0x02
)

// Logical device types for NvLogicalType.
const (
	DeviceCoordinator byte = 0x00
	DeviceRouter      byte = 0x01
	DeviceEndDevice   byte = 0x02
)

// Version is the reply of CmdVersion.
type Version struct {
	TransportRev byte
	Product      byte
	MajorRel     byte
	MinorRel     byte
	MaintRel     byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d (product %d, transport %d)",
		v.MajorRel, v.MinorRel, v.MaintRel, v.Product, v.TransportRev)
}

// ResetInd is sent by the coprocessor after reset.
type ResetInd struct {
	Reason       byte
	TransportRev byte
	ProductID    byte
	MajorRel     byte
	MinorRel     byte
	HwRev        byte
}

// DecodeResetInd decodes a ResetInd payload.
func DecodeResetInd(p []byte) (*ResetInd, error) {
	r := mt.NewPayloadReader(p)
	ind := &ResetInd{
		Reason:       r.U8(),
		TransportRev: r.U8(),
		ProductID:    r.U8(),
		MajorRel:     r.U8(),
		MinorRel:     r.U8(),
		HwRev:        r.U8(),
	}
	return ind, r.Err()
}

// Client issues SYS requests.
type Client struct {
	Caller rpc.Caller
}

// NewClient creates a SYS client.
func NewClient(caller rpc.Caller) *Client {
	return &Client{Caller: caller}
}

func (c *Client) call(ctx context.Context, cmd byte, payload []byte, min int) (*mt.Frame, error) {
	reply, err := c.Caller.Call(ctx, mt.SubsystemSYS, cmd, payload, 0)
	if err != nil {
		return nil, err
	}
	if len(reply.Payload) < min {
		return nil, &rpc.ShortReplyError{Subsystem: mt.SubsystemSYS, Command: cmd, Want: min, Got: len(reply.Payload)}
	}
	return reply, nil
}

// ResetReq requests a reset. The coprocessor answers with ResetInd.
func (c *Client) ResetReq(ctx context.Context, resetType byte) error {
	return c.Caller.Send(ctx, mt.SubsystemSYS, CmdResetReq, []byte{resetType})
}

// Ping returns the capability bitmap.
func (c *Client) Ping(ctx context.Context) (uint16, error) {
	reply, err := c.call(ctx, CmdPing, nil, 2)
	if err != nil {
		return 0, err
	}
	return mt.NewPayloadReader(reply.Payload).U16(), nil
}

// Version queries software version.
func (c *Client) Version(ctx context.Context) (*Version, error) {
	reply, err := c.call(ctx, CmdVersion, nil, 5)
	if err != nil {
		return nil, err
	}
	p := reply.Payload
	return &Version{TransportRev: p[0], Product: p[1], MajorRel: p[2], MinorRel: p[3], MaintRel: p[4]}, nil
}

// GetExtAddr returns the IEEE address.
func (c *Client) GetExtAddr(ctx context.Context) (uint64, error) {
	reply, err := c.call(ctx, CmdGetExtAddr, nil, 8)
	if err != nil {
		return 0, err
	}
	return mt.NewPayloadReader(reply.Payload).U64(), nil
}

// OsalNvRead reads an NV item from offset.
func (c *Client) OsalNvRead(ctx context.Context, id uint16, offset byte) ([]byte, error) {
	req := mt.NewPayloadWriter(3).U16(id).U8(offset).Bytes()
	reply, err := c.call(ctx, CmdOsalNvRead, req, 2)
	if err != nil {
		return nil, err
	}
	if err = rpc.CheckStatus(reply); err != nil {
		return nil, err
	}
	r := mt.NewPayloadReader(reply.Payload[1:])
	value := r.Raw(int(r.U8()))
	if err = r.Err(); err != nil {
		return nil, err
	}
	return value, nil
}

// OsalNvWrite writes raw value bytes to an NV item.
func (c *Client) OsalNvWrite(ctx context.Context, id uint16, offset byte, value []byte) error {
	if len(value) > mt.MaxPayloadLen-4 {
		return mt.ErrPayloadTooLarge
	}
	req := mt.NewPayloadWriter(4 + len(value)).U16(id).U8(offset).U8(byte(len(value))).Raw(value).Bytes()
	reply, err := c.call(ctx, CmdOsalNvWrite, req, 1)
	if err != nil {
		return err
	}
	return rpc.CheckStatus(reply)
}

// SetStartupOption writes NvStartupOption.
func (c *Client) SetStartupOption(ctx context.Context, opt byte) error {
	return c.OsalNvWrite(ctx, NvStartupOption, 0, []byte{opt})
}

// SetLogicalType writes NvLogicalType.
func (c *Client) SetLogicalType(ctx context.Context, devType byte) error {
	return c.OsalNvWrite(ctx, NvLogicalType, 0, []byte{devType})
}

// SetPanID writes NvPanID, 0xffff selects a random PAN on a coordinator
// and joins any PAN otherwise.
func (c *Client) SetPanID(ctx context.Context, panID uint16) error {
	return c.OsalNvWrite(ctx, NvPanID, 0, mt.NewPayloadWriter(2).U16(panID).Bytes())
}

// SetChanList writes NvChanList.
func (c *Client) SetChanList(ctx context.Context, mask uint32) error {
	return c.OsalNvWrite(ctx, NvChanList, 0, mt.NewPayloadWriter(4).U32(mask).Bytes())
}

// SetZdoDirectCB writes NvZdoDirectCB, enabling ZDO responses as callbacks.
func (c *Client) SetZdoDirectCB(ctx context.Context, enable bool) error {
	var v byte
	if enable {
		v = 1
	}
	return c.OsalNvWrite(ctx, NvZdoDirectCB, 0, []byte{v})
}

// Callbacks are SYS event handlers, nil ones are not registered.
type Callbacks struct {
	ResetInd func(context.Context, *ResetInd) mt.Status
}

// Table builds the registry table.
func (cb *Callbacks) Table() registry.Table {
	t := make(registry.Table)
	if fn := cb.ResetInd; fn != nil {
		t[CmdResetInd] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			ind, err := DecodeResetInd(f.Payload)
			if err != nil {
				return registry.DecodeFailed(f, err)
			}
			return fn(ctx, ind)
		})
	}
	return t
}
