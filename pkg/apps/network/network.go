// Package network starts or joins a network on a linked coprocessor.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/config"
	"github.com/robotalks/znp.go/pkg/znp/af"
	"github.com/robotalks/znp.go/pkg/znp/device"
	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/sys"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

// DefaultResetTimeout bounds the wait for ResetInd.
const DefaultResetTimeout = 5 * time.Second

var (
	// ErrDeviceType is returned for an unknown configured device type.
	ErrDeviceType = errors.New("unknown device type")
	// ErrNotStarted is returned when the stack refuses to start.
	ErrNotStarted = errors.New("network not started")
)

// Role maps a configured device type to the logical type written to NV and
// the state reached once started.
type Role struct {
	LogicalType byte
	Target      zdo.DeviceState
}

// RoleOf returns the Role of a config device type.
func RoleOf(deviceType string) (Role, error) {
	switch deviceType {
	case config.Coordinator, "":
		return Role{LogicalType: sys.DeviceCoordinator, Target: zdo.DevZBCoord}, nil
	case config.Router:
		return Role{LogicalType: sys.DeviceRouter, Target: zdo.DevRouter}, nil
	case config.EndDevice:
		return Role{LogicalType: sys.DeviceEndDevice, Target: zdo.DevEndDevice}, nil
	}
	return Role{}, fmt.Errorf("%w: %q", ErrDeviceType, deviceType)
}

// HAEndpoint is a Home Automation on/off endpoint.
func HAEndpoint(ep byte) *af.Endpoint {
	return &af.Endpoint{
		EndPoint:    ep,
		AppProfID:   af.ProfileHomeAutomation,
		AppDeviceID: 0x0100,
		AppDevVer:   1,
		InClusters:  []uint16{af.ClusterOnOff},
	}
}

// Result describes a started network.
type Result struct {
	State    zdo.DeviceState
	Startup  zdo.StartupResult
	IEEEAddr uint64
	Reset    *sys.ResetInd
}

// Starter runs the start flow.
type Starter struct {
	SYS     *sys.Client
	ZDO     *zdo.Client
	AF      *af.Client
	Session *device.Session

	Config       config.NetworkConfig
	ResetTimeout time.Duration
	// Endpoint is registered before starting, HAEndpoint by default.
	Endpoint *af.Endpoint
}

// NewStarter creates a Starter on a link.
func NewStarter(l *host.Link, conf config.NetworkConfig) *Starter {
	return &Starter{
		SYS:          l.SYS,
		ZDO:          l.ZDO,
		AF:           l.AF,
		Session:      l.Session,
		Config:       conf,
		ResetTimeout: DefaultResetTimeout,
	}
}

// Start resets the coprocessor, applies the network settings, registers the
// endpoint and waits until the device reaches its role's state.
func (s *Starter) Start(ctx context.Context) (*Result, error) {
	role, err := RoleOf(s.Config.DeviceType)
	if err != nil {
		return nil, err
	}

	var opt byte
	if s.Config.NewNetwork {
		opt = sys.StartOptClearState | sys.StartOptClearConfig
	}
	if err := s.SYS.SetStartupOption(ctx, opt); err != nil {
		return nil, fmt.Errorf("set startup option: %w", err)
	}

	res := &Result{}
	if res.Reset, err = s.reset(ctx); err != nil {
		return nil, err
	}

	if s.Config.NewNetwork {
		if err := s.SYS.SetLogicalType(ctx, role.LogicalType); err != nil {
			return nil, fmt.Errorf("set logical type: %w", err)
		}
		if err := s.SYS.SetPanID(ctx, s.Config.PanID); err != nil {
			return nil, fmt.Errorf("set pan id: %w", err)
		}
		if err := s.SYS.SetChanList(ctx, s.Config.ChanMask()); err != nil {
			return nil, fmt.Errorf("set channel list: %w", err)
		}
	}

	ep := s.Endpoint
	if ep == nil {
		ep = HAEndpoint(s.Config.Endpoint)
	}
	if err := s.AF.Register(ctx, ep); err != nil {
		return nil, fmt.Errorf("register endpoint %d: %w", ep.EndPoint, err)
	}

	if res.Startup, err = s.ZDO.StartupFromApp(ctx, 0); err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	if res.Startup == zdo.LeaveNotStarted {
		return nil, ErrNotStarted
	}
	glog.Infof("network startup: %s", res.Startup)

	waitCtx := ctx
	if timeout := s.Config.StartTimeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res.State, err = s.Session.WaitState(waitCtx, device.StateIs(role.Target))
	if err != nil {
		return nil, fmt.Errorf("%w: state %s: %v", ErrNotStarted, res.State, err)
	}

	// later resets restore the network instead of clearing it again.
	if err := s.SYS.SetStartupOption(ctx, 0); err != nil {
		return nil, fmt.Errorf("clear startup option: %w", err)
	}
	if res.IEEEAddr, err = s.SYS.GetExtAddr(ctx); err != nil {
		return nil, fmt.Errorf("get ext addr: %w", err)
	}
	if err := s.SYS.SetZdoDirectCB(ctx, true); err != nil {
		return nil, fmt.Errorf("enable zdo callbacks: %w", err)
	}
	glog.Infof("network started as %s, ieee %016x", res.State, res.IEEEAddr)
	return res, nil
}

func (s *Starter) reset(ctx context.Context) (*sys.ResetInd, error) {
	after := s.Session.Resets()
	if err := s.SYS.ResetReq(ctx, sys.ResetSoft); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	s.Session.SetState(zdo.DevHold)
	timeout := s.ResetTimeout
	if timeout <= 0 {
		timeout = DefaultResetTimeout
	}
	resetCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ind, err := s.Session.WaitReset(resetCtx, after)
	if err != nil {
		return nil, fmt.Errorf("wait reset: %w", err)
	}
	return ind, nil
}
