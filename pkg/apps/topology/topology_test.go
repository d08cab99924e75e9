package topology

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/host/hosttest"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

type neighbor struct {
	addr uint16
	ieee uint64
	typ  byte
	rel  byte
}

func lqiRsp(src uint16, total, start byte, nbs ...neighbor) *mt.Frame {
	w := mt.NewPayloadWriter(5 + 22*len(nbs)).U16(src).U8(0).U8(total).U8(start).U8(byte(len(nbs)))
	for _, nb := range nbs {
		w.U64(0xdddddddddddddddd).U64(nb.ieee).U16(nb.addr).U8(nb.rel<<4 | nb.typ).U8(0).U8(1).U8(200)
	}
	return hosttest.AREQ(mt.SubsystemZDO, zdo.CmdMgmtLqiRsp, w.Bytes()...)
}

type network map[uint16][]neighbor

func (n network) serve(cop *hosttest.Coprocessor, pageSize int) {
	cop.Handle(mt.SubsystemZDO, zdo.CmdMgmtLqiReq, func(req *mt.Frame) []*mt.Frame {
		r := mt.NewPayloadReader(req.Payload)
		dst, start := r.U16(), int(r.U8())
		nbs := n[dst]
		end := start + pageSize
		if end > len(nbs) {
			end = len(nbs)
		}
		return []*mt.Frame{
			hosttest.SRSP(mt.SubsystemZDO, zdo.CmdMgmtLqiReq, 0x00),
			lqiRsp(dst, byte(len(nbs)), byte(start), nbs[start:end]...),
		}
	})
	cop.Handle(mt.SubsystemZDO, zdo.CmdActiveEpReq, func(req *mt.Frame) []*mt.Frame {
		r := mt.NewPayloadReader(req.Payload)
		r.U16()
		nwk := r.U16()
		rsp := mt.NewPayloadWriter(7).U16(nwk).U8(0).U16(nwk).U8(1).U8(1).Bytes()
		return []*mt.Frame{
			hosttest.SRSP(mt.SubsystemZDO, zdo.CmdActiveEpReq, 0x00),
			hosttest.AREQ(mt.SubsystemZDO, zdo.CmdActiveEpRsp, rsp...),
		}
	})
}

var testNetwork = network{
	0x0000: {
		{addr: 0x1111, ieee: 0x11, typ: zdo.NeighborRouter, rel: zdo.RelationChild},
		{addr: 0x2222, ieee: 0x22, typ: zdo.NeighborEndDevice, rel: zdo.RelationChild},
	},
	0x1111: {
		{addr: 0x0000, ieee: 0x01, typ: zdo.NeighborCoordinator, rel: zdo.RelationParent},
		{addr: 0x3333, ieee: 0x33, typ: zdo.NeighborEndDevice, rel: zdo.RelationNone},
	},
}

func walk(t *testing.T, net network, pageSize int) (*Topology, *hosttest.Coprocessor) {
	cop, rw := hosttest.New()
	net.serve(cop, pageSize)
	l := host.New(rw)
	w, err := NewWalker(l)
	require.NoError(t, err)
	w.Quiet = 50 * time.Millisecond
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() {
		l.Close()
		cop.Close()
	})
	topo, err := w.Walk(context.Background())
	require.NoError(t, err)
	return topo, cop
}

func childAddrs(n *Node) (addrs []uint16) {
	for _, c := range n.Children {
		addrs = append(addrs, c.NwkAddr)
	}
	return
}

func TestWalk(t *testing.T) {
	testCases := []struct {
		name     string
		pageSize int
	}{
		{"whole table", 8},
		{"paged table", 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			topo, cop := walk(t, testNetwork, tc.pageSize)
			require.Len(t, topo.Nodes, 2)
			coord, router := topo.Nodes[0], topo.Nodes[1]
			require.Equal(t, "coordinator", coord.TypeName())
			require.Equal(t, []uint16{0x1111, 0x2222}, childAddrs(coord))
			require.Equal(t, uint16(0x1111), router.NwkAddr)
			require.Equal(t, "router", router.TypeName())
			require.Equal(t, []uint16{0x3333}, childAddrs(router))
			require.Equal(t, uint64(0x33), topo.Lookup(0x3333).IEEEAddr)

			for _, addr := range []uint16{0x0000, 0x1111, 0x2222, 0x3333} {
				require.Equal(t, []byte{1}, topo.Lookup(addr).Endpoints, "0x%04x", addr)
			}
			require.Len(t, cop.Find(mt.SubsystemZDO, zdo.CmdActiveEpReq), 4)

			var buf bytes.Buffer
			_, err := topo.WriteTo(&buf)
			require.NoError(t, err)
			require.Contains(t, buf.String(), "router 0x1111")
			require.Contains(t, buf.String(), "  end-device 0x3333")
		})
	}
}

func TestWalkNoAnswer(t *testing.T) {
	cop, rw := hosttest.New()
	cop.Reply(mt.SubsystemZDO, zdo.CmdMgmtLqiReq, 0x00)
	l := host.New(rw)
	w, err := NewWalker(l)
	require.NoError(t, err)
	w.Quiet = 20 * time.Millisecond
	require.NoError(t, l.Start(context.Background()))
	defer cop.Close()
	defer l.Close()

	topo, err := w.Walk(context.Background())
	require.NoError(t, err)
	require.Empty(t, topo.Nodes)
}
