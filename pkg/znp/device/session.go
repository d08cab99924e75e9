// Package device tracks the coprocessor state as reported by events.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/sys"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

// Node is a device announced on the network.
type Node struct {
	NwkAddr      uint16    `json:"nwk_addr"`
	IEEEAddr     uint64    `json:"ieee_addr"`
	Capabilities byte      `json:"capabilities"`
	SeenAt       time.Time `json:"seen_at"`
}

// Session owns the device state of one link. The state changes only on
// ZDO StateChangeInd, delivered in arrival order by the receive path.
type Session struct {
	lock      sync.RWMutex
	state     zdo.DeviceState
	changed   chan struct{}
	lastReset *sys.ResetInd
	resets    int
	nodes     []Node
}

// NewSession creates a Session in DevHold.
func NewSession() *Session {
	return &Session{state: zdo.DevHold, changed: make(chan struct{})}
}

// State returns the current device state.
func (s *Session) State() zdo.DeviceState {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.state
}

// LastReset returns the latest ResetInd, nil if none received.
func (s *Session) LastReset() *sys.ResetInd {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastReset
}

// Nodes returns announced devices in announcement order.
func (s *Session) Nodes() []Node {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]Node(nil), s.nodes...)
}

// SetState forces the state, e.g. back to DevHold before a restart.
func (s *Session) SetState(state zdo.DeviceState) {
	s.lock.Lock()
	prev := s.state
	s.state = state
	s.notifyLocked()
	s.lock.Unlock()
	if prev != state {
		glog.Infof("device state %s: %s", state, state.Description())
	}
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Resets returns how many ResetInd were received.
func (s *Session) Resets() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.resets
}

// WaitReset blocks until more than after ResetInd were received.
func (s *Session) WaitReset(ctx context.Context, after int) (*sys.ResetInd, error) {
	for {
		s.lock.RLock()
		ind, count, changed := s.lastReset, s.resets, s.changed
		s.lock.RUnlock()
		if count > after {
			return ind, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitState blocks until pred accepts the current state or ctx is done.
func (s *Session) WaitState(ctx context.Context, pred func(zdo.DeviceState) bool) (zdo.DeviceState, error) {
	for {
		s.lock.RLock()
		state, changed := s.state, s.changed
		s.lock.RUnlock()
		if pred(state) {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// StateIs is a WaitState predicate matching any of states.
func StateIs(states ...zdo.DeviceState) func(zdo.DeviceState) bool {
	return func(s zdo.DeviceState) bool {
		for _, state := range states {
			if s == state {
				return true
			}
		}
		return false
	}
}

// ZDOCallbacks returns the ZDO handlers maintaining the session.
func (s *Session) ZDOCallbacks() *zdo.Callbacks {
	return &zdo.Callbacks{
		StateChangeInd: func(ctx context.Context, state zdo.DeviceState) mt.Status {
			s.SetState(state)
			return mt.StatusSuccess
		},
		EndDeviceAnnceInd: func(ctx context.Context, ind *zdo.EndDeviceAnnceInd) mt.Status {
			s.announce(ind)
			return mt.StatusSuccess
		},
	}
}

// SYSCallbacks returns the SYS handlers maintaining the session.
func (s *Session) SYSCallbacks() *sys.Callbacks {
	return &sys.Callbacks{
		ResetInd: func(ctx context.Context, ind *sys.ResetInd) mt.Status {
			s.lock.Lock()
			s.lastReset = ind
			s.resets++
			s.notifyLocked()
			s.lock.Unlock()
			glog.Infof("coprocessor reset: reason %d, release %d.%d, hw rev %d",
				ind.Reason, ind.MajorRel, ind.MinorRel, ind.HwRev)
			return mt.StatusSuccess
		},
	}
}

func (s *Session) announce(ind *zdo.EndDeviceAnnceInd) {
	node := Node{NwkAddr: ind.NwkAddr, IEEEAddr: ind.IEEEAddr, Capabilities: ind.Capabilities, SeenAt: time.Now()}
	s.lock.Lock()
	defer s.lock.Unlock()
	for n := range s.nodes {
		if s.nodes[n].IEEEAddr == ind.IEEEAddr {
			s.nodes[n] = node
			glog.V(2).Infof("device %016x rejoined as %04x", ind.IEEEAddr, ind.NwkAddr)
			return
		}
	}
	s.nodes = append(s.nodes, node)
	glog.Infof("new device joined: %04x (%016x)", ind.NwkAddr, ind.IEEEAddr)
}
