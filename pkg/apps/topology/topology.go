// Package topology discovers the network by walking neighbor tables from
// the coordinator.
package topology

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/mailbox"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

// DefaultQuiet ends a discovery phase when no response arrives for it.
const DefaultQuiet = time.Second

// CoordinatorAddr is the network address of the coordinator.
const CoordinatorAddr uint16 = 0x0000

// Node is a discovered device.
type Node struct {
	NwkAddr   uint16  `json:"nwk_addr"`
	IEEEAddr  uint64  `json:"ieee_addr,omitempty"`
	Type      byte    `json:"type"`
	LQI       byte    `json:"lqi,omitempty"`
	Depth     byte    `json:"depth,omitempty"`
	Endpoints []byte  `json:"endpoints,omitempty"`
	Children  []*Node `json:"children,omitempty"`
}

// TypeName returns coordinator, router or end-device.
func (n *Node) TypeName() string {
	switch n.Type {
	case zdo.NeighborCoordinator:
		return "coordinator"
	case zdo.NeighborRouter:
		return "router"
	case zdo.NeighborEndDevice:
		return "end-device"
	}
	return fmt.Sprintf("type(%d)", n.Type)
}

// Topology is the walk result. Nodes are the devices which answered a
// neighbor table request, in answer order.
type Topology struct {
	Nodes []*Node `json:"nodes"`

	byAddr map[uint16]*Node
	order  []uint16
}

func newTopology() *Topology {
	return &Topology{byAddr: make(map[uint16]*Node)}
}

// Lookup finds a node by network address.
func (t *Topology) Lookup(addr uint16) *Node {
	return t.byAddr[addr]
}

func (t *Topology) node(addr uint16, typ byte) *Node {
	n := t.byAddr[addr]
	if n == nil {
		n = &Node{NwkAddr: addr, Type: typ}
		t.byAddr[addr] = n
		t.order = append(t.order, addr)
	}
	return n
}

// WriteTo renders the topology as text.
func (t *Topology) WriteTo(w io.Writer) (int64, error) {
	var total int64
	printf := func(format string, args ...interface{}) error {
		n, err := fmt.Fprintf(w, format, args...)
		total += int64(n)
		return err
	}
	for _, n := range t.Nodes {
		if err := printf("%s 0x%04x endpoints %v\n", n.TypeName(), n.NwkAddr, n.Endpoints); err != nil {
			return total, err
		}
		for _, c := range n.Children {
			if err := printf("  %s 0x%04x %016x lqi %d endpoints %v\n",
				c.TypeName(), c.NwkAddr, c.IEEEAddr, c.LQI, c.Endpoints); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Walker collects MgmtLqiRsp and ActiveEpRsp events. Its table must be
// registered before the link starts.
type Walker struct {
	ZDO   *zdo.Client
	Quiet time.Duration

	events *mailbox.Queue
}

// NewWalker creates a Walker and registers its handlers on the link.
func NewWalker(l *host.Link) (*Walker, error) {
	w := &Walker{ZDO: l.ZDO, Quiet: DefaultQuiet, events: mailbox.New()}
	if err := l.Register(mt.SubsystemZDO, w.Table()); err != nil {
		return nil, err
	}
	return w, nil
}

// Table returns the ZDO handlers queuing responses for Walk.
func (w *Walker) Table() registry.Table {
	enqueue := registry.HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
		w.events.Push(f.Bytes(), false)
		return mt.StatusSuccess
	})
	return registry.Table{
		zdo.CmdMgmtLqiRsp:  enqueue,
		zdo.CmdActiveEpRsp: enqueue,
	}
}

// Walk requests the coordinator neighbor table, recursing into routers, then
// queries the active endpoints of every device found.
func (w *Walker) Walk(ctx context.Context) (*Topology, error) {
	w.events.Flush()
	topo := newTopology()
	visited := map[uint16]bool{CoordinatorAddr: true}
	if err := w.ZDO.MgmtLqiReq(ctx, CoordinatorAddr, 0); err != nil {
		return nil, fmt.Errorf("mgmt lqi request: %w", err)
	}
	err := w.drain(ctx, func(f *mt.Frame) {
		switch f.Command {
		case zdo.CmdMgmtLqiRsp:
			w.neighbors(ctx, topo, f, visited)
		case zdo.CmdActiveEpRsp:
			w.endpoints(topo, f)
		}
	})
	if err != nil {
		return nil, err
	}

	for _, addr := range topo.order {
		if err := w.ZDO.ActiveEpReq(ctx, addr, addr); err != nil {
			glog.Warningf("active endpoints request 0x%04x: %v", addr, err)
		}
	}
	err = w.drain(ctx, func(f *mt.Frame) {
		if f.Command == zdo.CmdActiveEpRsp {
			w.endpoints(topo, f)
		}
	})
	if err != nil {
		return nil, err
	}
	return topo, nil
}

func (w *Walker) drain(ctx context.Context, fn func(*mt.Frame)) error {
	quiet := w.Quiet
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := w.events.Pop(quiet)
		if err == mailbox.ErrTimeout {
			return nil
		}
		if err != nil {
			return err
		}
		f, err := mt.Decode(msg)
		if err != nil {
			glog.Warningf("topology: %v", err)
			continue
		}
		fn(f)
	}
}

func (w *Walker) neighbors(ctx context.Context, topo *Topology, f *mt.Frame, visited map[uint16]bool) {
	rsp, err := zdo.DecodeMgmtLqiRsp(f.Payload)
	if err != nil {
		glog.Warningf("topology: mgmt lqi response: %v", err)
		return
	}
	if rsp.Status != mt.StatusSuccess {
		glog.Warningf("topology: mgmt lqi 0x%04x status 0x%02x", rsp.SrcAddr, rsp.Status)
		return
	}
	typ := zdo.NeighborRouter
	if rsp.SrcAddr == CoordinatorAddr {
		typ = zdo.NeighborCoordinator
	}
	node := topo.node(rsp.SrcAddr, typ)
	if rsp.StartIndex == 0 {
		topo.Nodes = append(topo.Nodes, node)
	}
	for i := range rsp.Neighbors {
		nb := &rsp.Neighbors[i]
		if nb.IsChild() {
			child := topo.node(nb.NetworkAddress, nb.DeviceType())
			child.IEEEAddr, child.LQI, child.Depth = nb.ExtendedAddress, nb.LQI, nb.Depth
			node.Children = append(node.Children, child)
		}
		if nb.DeviceType() == zdo.NeighborRouter && !visited[nb.NetworkAddress] {
			visited[nb.NetworkAddress] = true
			if err := w.ZDO.MgmtLqiReq(ctx, nb.NetworkAddress, 0); err != nil {
				glog.Warningf("topology: mgmt lqi request 0x%04x: %v", nb.NetworkAddress, err)
			}
		}
	}
	// the table is reported in slices.
	if next := int(rsp.StartIndex) + len(rsp.Neighbors); len(rsp.Neighbors) > 0 && next < int(rsp.NeighborTableEntries) {
		if err := w.ZDO.MgmtLqiReq(ctx, rsp.SrcAddr, byte(next)); err != nil {
			glog.Warningf("topology: mgmt lqi request 0x%04x from %d: %v", rsp.SrcAddr, next, err)
		}
	}
}

func (w *Walker) endpoints(topo *Topology, f *mt.Frame) {
	rsp, err := zdo.DecodeActiveEpRsp(f.Payload)
	if err != nil {
		glog.Warningf("topology: active endpoints response: %v", err)
		return
	}
	if rsp.Status != mt.StatusSuccess {
		glog.V(2).Infof("topology: active endpoints 0x%04x status 0x%02x", rsp.NwkAddr, rsp.Status)
		return
	}
	if n := topo.Lookup(rsp.NwkAddr); n != nil {
		n.Endpoints = rsp.Endpoints
	}
}
