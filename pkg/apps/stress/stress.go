// Package stress runs the sequence echo test between a coordinator and the
// devices joining it.
package stress

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/config"
	"github.com/robotalks/znp.go/pkg/znp/af"
	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

// Test parameters.
const (
	DefaultMaxNodes = 10
	DefaultInterval = 500 * time.Millisecond

	TestEndpoint byte   = 1
	TestCluster  uint16 = af.ClusterOnOff
	TestRadius   byte   = 16
)

// Endpoint is the endpoint test nodes register.
func Endpoint() *af.Endpoint {
	return &af.Endpoint{
		EndPoint:    TestEndpoint,
		AppProfID:   af.ProfileHomeAutomation,
		AppDeviceID: 0x0100,
		AppDevVer:   1,
		InClusters:  []uint16{TestCluster},
		OutClusters: []uint16{TestCluster},
	}
}

// NodeStats is the test state of one node.
type NodeStats struct {
	NwkAddr uint16 `json:"nwk_addr"`
	TxSeq   byte   `json:"tx_seq"`
	RxSeq   byte   `json:"rx_seq"`
	Pass    uint32 `json:"pass"`
	Errors  uint32 `json:"errors"`
}

type echo struct {
	addr uint16
	seq  byte
}

// Tester is either the coordinator probing nodes, or a node echoing
// test packets back.
type Tester struct {
	AF          *af.Client
	Coordinator bool
	Interval    time.Duration
	MaxNodes    int

	lock    sync.Mutex
	nodes   []*NodeStats
	transID byte
	echoes  chan echo
}

// New creates a Tester from the options.
func New(client *af.Client, coordinator bool, conf config.StressConfig) *Tester {
	t := &Tester{
		AF:          client,
		Coordinator: coordinator,
		Interval:    conf.Interval.Duration,
		MaxNodes:    conf.MaxNodes,
		echoes:      make(chan echo, 16),
	}
	if t.Interval <= 0 {
		t.Interval = DefaultInterval
	}
	if t.MaxNodes <= 0 {
		t.MaxNodes = DefaultMaxNodes
	}
	return t
}

// Attach creates a Tester on a link and registers its handlers.
func Attach(l *host.Link, coordinator bool, conf config.StressConfig) (*Tester, error) {
	t := New(l.AF, coordinator, conf)
	if err := l.Register(mt.SubsystemZDO, t.ZDOCallbacks().Table()); err != nil {
		return nil, err
	}
	if err := l.Register(mt.SubsystemAF, t.AFCallbacks().Table()); err != nil {
		return nil, err
	}
	return t, nil
}

// ZDOCallbacks adds announced devices as test nodes.
func (t *Tester) ZDOCallbacks() *zdo.Callbacks {
	return &zdo.Callbacks{
		EndDeviceAnnceInd: func(ctx context.Context, ind *zdo.EndDeviceAnnceInd) mt.Status {
			if t.Coordinator {
				t.addNode(ind.NwkAddr)
			}
			return mt.StatusSuccess
		},
	}
}

// AFCallbacks track acknowledged sequences on the coordinator and queue
// echoes on nodes.
func (t *Tester) AFCallbacks() *af.Callbacks {
	return &af.Callbacks{
		DataConfirm: func(ctx context.Context, c *af.DataConfirm) mt.Status {
			if c.Status != mt.StatusSuccess {
				glog.Warningf("test message %d not delivered: status 0x%02x", c.TransID, c.Status)
			}
			return c.Status
		},
		IncomingMsg: func(ctx context.Context, m *af.IncomingMsg) mt.Status {
			if m.ClusterID != TestCluster || len(m.Data) != 1 {
				return mt.StatusSuccess
			}
			if t.Coordinator {
				t.acknowledge(m.SrcAddr, m.Data[0])
				return mt.StatusSuccess
			}
			select {
			case t.echoes <- echo{addr: m.SrcAddr, seq: m.Data[0]}:
			default:
				glog.Warningf("echo to %04x dropped", m.SrcAddr)
			}
			return mt.StatusSuccess
		},
	}
}

func (t *Tester) addNode(addr uint16) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, n := range t.nodes {
		if n.NwkAddr == addr {
			n.TxSeq, n.RxSeq = 0, 0
			return
		}
	}
	if len(t.nodes) >= t.MaxNodes {
		glog.Warningf("test node %04x ignored, already %d nodes", addr, len(t.nodes))
		return
	}
	t.nodes = append(t.nodes, &NodeStats{NwkAddr: addr})
	glog.Infof("found new test node: %04x", addr)
}

func (t *Tester) acknowledge(addr uint16, seq byte) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, n := range t.nodes {
		if n.NwkAddr == addr {
			n.RxSeq = seq
			glog.V(2).Infof("test ack from %04x seq %d", addr, seq)
			return
		}
	}
}

// Stats returns a snapshot of all test nodes.
func (t *Tester) Stats() []NodeStats {
	t.lock.Lock()
	defer t.lock.Unlock()
	stats := make([]NodeStats, len(t.nodes))
	for i, n := range t.nodes {
		stats[i] = *n
	}
	return stats
}

func (t *Tester) addrs() []uint16 {
	t.lock.Lock()
	defer t.lock.Unlock()
	addrs := make([]uint16, len(t.nodes))
	for i, n := range t.nodes {
		addrs[i] = n.NwkAddr
	}
	return addrs
}

// probe scores the last round of a node, where the echoed sequence must
// match the one sent, and sends the next sequence.
func (t *Tester) probe(ctx context.Context, addr uint16) error {
	t.lock.Lock()
	var node *NodeStats
	for _, n := range t.nodes {
		if n.NwkAddr == addr {
			node = n
			break
		}
	}
	if node == nil {
		t.lock.Unlock()
		return nil
	}
	if node.TxSeq != node.RxSeq {
		glog.Warningf("node %04x sequence numbers not matching %d:%d", addr, node.TxSeq, node.RxSeq)
		node.TxSeq, node.RxSeq = 0, 0
		node.Errors++
	} else {
		node.Pass++
	}
	node.TxSeq++
	seq := node.TxSeq
	glog.Infof("node %04x: pass count %d, error count %d", addr, node.Pass, node.Errors)
	t.lock.Unlock()
	return t.send(ctx, addr, seq)
}

func (t *Tester) send(ctx context.Context, addr uint16, seq byte) error {
	t.lock.Lock()
	transID := t.transID
	t.transID++
	t.lock.Unlock()
	return t.AF.DataRequest(ctx, &af.DataRequest{
		DstAddr:     addr,
		DstEndpoint: TestEndpoint,
		SrcEndpoint: TestEndpoint,
		ClusterID:   TestCluster,
		TransID:     transID,
		Radius:      TestRadius,
		Data:        []byte{seq},
	})
}

// Run probes nodes every Interval on the coordinator, or echoes test
// packets on other devices, until ctx is done.
func (t *Tester) Run(ctx context.Context) error {
	if !t.Coordinator {
		return t.runEcho(ctx)
	}
	glog.Info("waiting for test nodes to join the network")
	for {
		addrs := t.addrs()
		if len(addrs) == 0 {
			if err := t.sleep(ctx); err != nil {
				return err
			}
		}
		for _, addr := range addrs {
			if err := t.probe(ctx, addr); err != nil {
				glog.Warningf("send test message to %04x: %v", addr, err)
			}
			if err := t.sleep(ctx); err != nil {
				return err
			}
		}
	}
}

func (t *Tester) runEcho(ctx context.Context) error {
	for {
		select {
		case e := <-t.echoes:
			glog.V(2).Infof("echo test packet to %04x seq %d", e.addr, e.seq)
			if err := t.send(ctx, e.addr, e.seq); err != nil {
				glog.Warningf("echo to %04x: %v", e.addr, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Tester) sleep(ctx context.Context) error {
	timer := time.NewTimer(t.Interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
