// Package af implements the application framework subsystem: endpoint
// registration and data transfer.
package af

import (
	"context"
	"fmt"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
)

// Command IDs.
const (
	CmdRegister    byte = 0x00
	CmdDataRequest byte = 0x01
	CmdDataConfirm byte = 0x80
	CmdIncomingMsg byte = 0x81
)

// Defaults used by the sample applications.
const (
	ProfileHomeAutomation uint16 = 0x0104
	ClusterOnOff          uint16 = 0x0006
	DefaultRadius         byte   = 0xee
)

const dataRequestHeaderLen = 10

// MaxDataLen is the largest Data of a DataRequest.
const MaxDataLen = mt.MaxPayloadLen - dataRequestHeaderLen

// Endpoint describes a simple descriptor to register.
type Endpoint struct {
	EndPoint    byte
	AppProfID   uint16
	AppDeviceID uint16
	AppDevVer   byte
	LatencyReq  byte
	InClusters  []uint16
	OutClusters []uint16
}

func (e *Endpoint) encode() ([]byte, error) {
	n := 9 + 2*(len(e.InClusters)+len(e.OutClusters))
	if n > mt.MaxPayloadLen {
		return nil, mt.ErrPayloadTooLarge
	}
	w := mt.NewPayloadWriter(n).
		U8(e.EndPoint).U16(e.AppProfID).U16(e.AppDeviceID).U8(e.AppDevVer).U8(e.LatencyReq).
		U8(byte(len(e.InClusters)))
	for _, c := range e.InClusters {
		w.U16(c)
	}
	w.U8(byte(len(e.OutClusters)))
	for _, c := range e.OutClusters {
		w.U16(c)
	}
	return w.Bytes(), nil
}

// DataRequest sends Data to an endpoint on a remote node.
type DataRequest struct {
	DstAddr     uint16
	DstEndpoint byte
	SrcEndpoint byte
	ClusterID   uint16
	TransID     byte
	Options     byte
	Radius      byte
	Data        []byte
}

func (r *DataRequest) encode() ([]byte, error) {
	if len(r.Data) > MaxDataLen {
		return nil, mt.ErrPayloadTooLarge
	}
	return mt.NewPayloadWriter(dataRequestHeaderLen+len(r.Data)).
		U16(r.DstAddr).U8(r.DstEndpoint).U8(r.SrcEndpoint).U16(r.ClusterID).
		U8(r.TransID).U8(r.Options).U8(r.Radius).U8(byte(len(r.Data))).Raw(r.Data).
		Bytes(), nil
}

// DataConfirm reports the delivery result of a DataRequest.
type DataConfirm struct {
	Status   mt.Status
	Endpoint byte
	TransID  byte
}

// DecodeDataConfirm decodes a DataConfirm payload.
func DecodeDataConfirm(p []byte) (*DataConfirm, error) {
	r := mt.NewPayloadReader(p)
	c := &DataConfirm{Status: mt.Status(r.U8()), Endpoint: r.U8(), TransID: r.U8()}
	return c, r.Err()
}

// IncomingMsg is data received on a registered endpoint.
type IncomingMsg struct {
	GroupID        uint16
	ClusterID      uint16
	SrcAddr        uint16
	SrcEndpoint    byte
	DstEndpoint    byte
	WasBroadcast   byte
	LinkQuality    byte
	SecurityUse    byte
	TimeStamp      uint32
	TransSeqNumber byte
	Data           []byte
}

func (m *IncomingMsg) String() string {
	return fmt.Sprintf("from %04x:%d cluster %04x lqi %d: %q",
		m.SrcAddr, m.SrcEndpoint, m.ClusterID, m.LinkQuality, m.Data)
}

// DecodeIncomingMsg decodes an IncomingMsg payload.
func DecodeIncomingMsg(p []byte) (*IncomingMsg, error) {
	r := mt.NewPayloadReader(p)
	m := &IncomingMsg{
		GroupID:        r.U16(),
		ClusterID:      r.U16(),
		SrcAddr:        r.U16(),
		SrcEndpoint:    r.U8(),
		DstEndpoint:    r.U8(),
		WasBroadcast:   r.U8(),
		LinkQuality:    r.U8(),
		SecurityUse:    r.U8(),
		TimeStamp:      r.U32(),
		TransSeqNumber: r.U8(),
	}
	m.Data = r.Raw(int(r.U8()))
	if m.Data == nil && r.Err() == nil {
		m.Data = []byte{}
	}
	return m, r.Err()
}

// Client issues AF requests.
type Client struct {
	Caller rpc.Caller
}

// NewClient creates an AF client.
func NewClient(caller rpc.Caller) *Client {
	return &Client{Caller: caller}
}

func (c *Client) statusCall(ctx context.Context, cmd byte, payload []byte) error {
	reply, err := c.Caller.Call(ctx, mt.SubsystemAF, cmd, payload, 0)
	if err != nil {
		return err
	}
	return rpc.CheckStatus(reply)
}

// Register registers an application endpoint.
func (c *Client) Register(ctx context.Context, ep *Endpoint) error {
	payload, err := ep.encode()
	if err != nil {
		return err
	}
	return c.statusCall(ctx, CmdRegister, payload)
}

// DataRequest queues data for transmission, delivery is reported by DataConfirm.
func (c *Client) DataRequest(ctx context.Context, req *DataRequest) error {
	payload, err := req.encode()
	if err != nil {
		return err
	}
	return c.statusCall(ctx, CmdDataRequest, payload)
}

// Callbacks are AF event handlers, nil ones are not registered.
type Callbacks struct {
	DataConfirm func(context.Context, *DataConfirm) mt.Status
	IncomingMsg func(context.Context, *IncomingMsg) mt.Status
}

// Table builds the registry table.
func (cb *Callbacks) Table() registry.Table {
	t := make(registry.Table)
	if fn := cb.DataConfirm; fn != nil {
		t[CmdDataConfirm] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			c, err := DecodeDataConfirm(f.Payload)
			if err != nil {
				return registry.DecodeFailed(f, err)
			}
			return fn(ctx, c)
		})
	}
	if fn := cb.IncomingMsg; fn != nil {
		t[CmdIncomingMsg] = registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			m, err := DecodeIncomingMsg(f.Payload)
			if err != nil {
				return registry.DecodeFailed(f, err)
			}
			return fn(ctx, m)
		})
	}
	return t
}
