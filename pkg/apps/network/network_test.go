package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/znp.go/pkg/config"
	"github.com/robotalks/znp.go/pkg/znp/af"
	"github.com/robotalks/znp.go/pkg/znp/host"
	"github.com/robotalks/znp.go/pkg/znp/host/hosttest"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/sys"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

func newCoprocessor(t *testing.T, startup zdo.StartupResult, states ...zdo.DeviceState) (*host.Link, *hosttest.Coprocessor) {
	cop, rw := hosttest.New()
	cop.Reply(mt.SubsystemSYS, sys.CmdOsalNvWrite, 0x00).
		Reply(mt.SubsystemSYS, sys.CmdGetExtAddr, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01).
		Reply(mt.SubsystemAF, af.CmdRegister, 0x00).
		Handle(mt.SubsystemSYS, sys.CmdResetReq, func(*mt.Frame) []*mt.Frame {
			return []*mt.Frame{hosttest.AREQ(mt.SubsystemSYS, sys.CmdResetInd, 0x02, 0x02, 0x00, 0x02, 0x06, 0x03)}
		}).
		Handle(mt.SubsystemZDO, zdo.CmdStartupFromApp, func(*mt.Frame) []*mt.Frame {
			out := []*mt.Frame{hosttest.SRSP(mt.SubsystemZDO, zdo.CmdStartupFromApp, byte(startup))}
			for _, state := range states {
				out = append(out, hosttest.AREQ(mt.SubsystemZDO, zdo.CmdStateChangeInd, byte(state)))
			}
			return out
		})
	l := host.New(rw)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() {
		l.Close()
		cop.Close()
	})
	return l, cop
}

func nvWrites(cop *hosttest.Coprocessor) (ids []uint16, values [][]byte) {
	for _, f := range cop.Find(mt.SubsystemSYS, sys.CmdOsalNvWrite) {
		r := mt.NewPayloadReader(f.Payload)
		ids = append(ids, r.U16())
		r.U8()
		values = append(values, r.Raw(int(r.U8())))
	}
	return
}

func TestRoleOf(t *testing.T) {
	testCases := []struct {
		deviceType string
		role       Role
	}{
		{config.Coordinator, Role{LogicalType: sys.DeviceCoordinator, Target: zdo.DevZBCoord}},
		{"", Role{LogicalType: sys.DeviceCoordinator, Target: zdo.DevZBCoord}},
		{config.Router, Role{LogicalType: sys.DeviceRouter, Target: zdo.DevRouter}},
		{config.EndDevice, Role{LogicalType: sys.DeviceEndDevice, Target: zdo.DevEndDevice}},
	}
	for _, tc := range testCases {
		t.Run(tc.deviceType, func(t *testing.T) {
			role, err := RoleOf(tc.deviceType)
			require.NoError(t, err)
			require.Equal(t, tc.role, role)
		})
	}
	_, err := RoleOf("gateway")
	require.ErrorIs(t, err, ErrDeviceType)
}

func TestStartNewNetwork(t *testing.T) {
	l, cop := newCoprocessor(t, zdo.NewNetwork, zdo.DevInit, zdo.DevCoordStarting, zdo.DevZBCoord)
	conf := config.Default().Network
	conf.NewNetwork = true
	conf.Channel = 15
	res, err := NewStarter(l, conf).Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, zdo.DevZBCoord, res.State)
	require.Equal(t, zdo.NewNetwork, res.Startup)
	require.Equal(t, uint64(0x0102030405060708), res.IEEEAddr)
	require.NotNil(t, res.Reset)

	ids, values := nvWrites(cop)
	require.Equal(t, []uint16{
		sys.NvStartupOption, sys.NvLogicalType, sys.NvPanID, sys.NvChanList,
		sys.NvStartupOption, sys.NvZdoDirectCB,
	}, ids)
	require.Equal(t, []byte{sys.StartOptClearState | sys.StartOptClearConfig}, values[0])
	require.Equal(t, []byte{sys.DeviceCoordinator}, values[1])
	require.Equal(t, []byte{0xff, 0xff}, values[2])
	require.Equal(t, []byte{0x00, 0x80, 0x00, 0x00}, values[3])
	require.Equal(t, []byte{0x00}, values[4])
	require.Equal(t, []byte{0x01}, values[5])

	regs := cop.Find(mt.SubsystemAF, af.CmdRegister)
	require.Len(t, regs, 1)
	require.Equal(t, byte(1), regs[0].Payload[0])
}

func TestStartRestoredNetwork(t *testing.T) {
	l, cop := newCoprocessor(t, zdo.RestoredNetwork, zdo.DevRouter)
	conf := config.Default().Network
	conf.DeviceType = config.Router
	res, err := NewStarter(l, conf).Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, zdo.DevRouter, res.State)

	ids, _ := nvWrites(cop)
	require.Equal(t, []uint16{sys.NvStartupOption, sys.NvStartupOption, sys.NvZdoDirectCB}, ids)
}

func TestStartFailures(t *testing.T) {
	t.Run("state not reached", func(t *testing.T) {
		l, _ := newCoprocessor(t, zdo.NewNetwork, zdo.DevNwkDisc)
		conf := config.Default().Network
		conf.StartTimeout.Duration = 50 * time.Millisecond
		_, err := NewStarter(l, conf).Start(context.Background())
		require.ErrorIs(t, err, ErrNotStarted)
	})
	t.Run("leave not started", func(t *testing.T) {
		l, _ := newCoprocessor(t, zdo.LeaveNotStarted)
		_, err := NewStarter(l, config.Default().Network).Start(context.Background())
		require.ErrorIs(t, err, ErrNotStarted)
	})
	t.Run("no reset", func(t *testing.T) {
		l, cop := newCoprocessor(t, zdo.NewNetwork)
		cop.Handle(mt.SubsystemSYS, sys.CmdResetReq, func(*mt.Frame) []*mt.Frame { return nil })
		s := NewStarter(l, config.Default().Network)
		s.ResetTimeout = 50 * time.Millisecond
		_, err := s.Start(context.Background())
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
