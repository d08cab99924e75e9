// Package util implements the UTIL subsystem.
package util

import (
	"context"
	"fmt"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

// CmdGetDeviceInfo queries addresses and state of the coprocessor.
const CmdGetDeviceInfo byte = 0x00

// DeviceInfo is the reply of CmdGetDeviceInfo.
type DeviceInfo struct {
	IEEEAddr     uint64
	ShortAddr    uint16
	DeviceType   byte
	DeviceState  zdo.DeviceState
	AssocDevices []uint16
}

func (i *DeviceInfo) String() string {
	return fmt.Sprintf("ieee=%016x nwk=%04x type=%02x state=%s assoc=%d",
		i.IEEEAddr, i.ShortAddr, i.DeviceType, i.DeviceState, len(i.AssocDevices))
}

// DecodeDeviceInfo decodes the reply payload, status byte included.
func DecodeDeviceInfo(p []byte) (*DeviceInfo, error) {
	r := mt.NewPayloadReader(p)
	if status := mt.Status(r.U8()); status != mt.StatusSuccess {
		return nil, &rpc.StatusError{Subsystem: mt.SubsystemUTIL, Command: CmdGetDeviceInfo, Status: status}
	}
	info := &DeviceInfo{
		IEEEAddr:    r.U64(),
		ShortAddr:   r.U16(),
		DeviceType:  r.U8(),
		DeviceState: zdo.DeviceState(r.U8()),
	}
	count := int(r.U8())
	for i := 0; i < count && r.Err() == nil; i++ {
		info.AssocDevices = append(info.AssocDevices, r.U16())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

// Client issues UTIL requests.
type Client struct {
	Caller rpc.Caller
}

// NewClient creates a UTIL client.
func NewClient(caller rpc.Caller) *Client {
	return &Client{Caller: caller}
}

// GetDeviceInfo queries the device info.
func (c *Client) GetDeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	reply, err := c.Caller.Call(ctx, mt.SubsystemUTIL, CmdGetDeviceInfo, nil, 0)
	if err != nil {
		return nil, err
	}
	return DecodeDeviceInfo(reply.Payload)
}
