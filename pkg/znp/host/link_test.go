package host

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/znp.go/pkg/znp/host/hosttest"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/sys"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

func startLink(t *testing.T, setup func(*Link)) (*Link, *hosttest.Coprocessor) {
	cop, rw := hosttest.New()
	l := New(rw)
	if setup != nil {
		setup(l)
	}
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() {
		l.Close()
		cop.Close()
	})
	return l, cop
}

func TestLinkCall(t *testing.T) {
	l, cop := startLink(t, nil)
	cop.Reply(mt.SubsystemSYS, sys.CmdPing, 0x79, 0x01)
	caps, err := l.SYS.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint16(0x0179), caps)
	require.Len(t, cop.Find(mt.SubsystemSYS, sys.CmdPing), 1)
}

func TestLinkSessionState(t *testing.T) {
	var seen atomic.Int32
	l, cop := startLink(t, func(l *Link) {
		extra := &zdo.Callbacks{
			StateChangeInd: func(context.Context, zdo.DeviceState) mt.Status {
				seen.Add(1)
				return mt.StatusSuccess
			},
		}
		require.NoError(t, l.Register(mt.SubsystemZDO, extra.Table()))
	})
	require.NoError(t, cop.Emit(hosttest.AREQ(mt.SubsystemZDO, zdo.CmdStateChangeInd, byte(zdo.DevZBCoord))))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := l.Session.WaitState(ctx, zdo.DeviceState.Joined)
	require.NoError(t, err)
	require.Equal(t, zdo.DevZBCoord, state)
	require.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestLinkRegisterAfterStart(t *testing.T) {
	l, _ := startLink(t, nil)
	require.ErrorIs(t, l.Register(mt.SubsystemAF, registry.Table{}), ErrStarted)
	require.ErrorIs(t, l.Start(context.Background()), ErrStarted)
}

func TestLinkClose(t *testing.T) {
	l, _ := startLink(t, nil)
	require.NoError(t, l.Close())
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link not stopped")
	}
	require.NoError(t, l.Err())
}

func TestLinkTransportLost(t *testing.T) {
	l, cop := startLink(t, nil)
	require.NoError(t, cop.Close())
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link not stopped")
	}
	require.Error(t, l.Err())
}

func TestLinkCloseUnstarted(t *testing.T) {
	cop, rw := hosttest.New()
	defer cop.Close()
	l := New(rw)
	require.NoError(t, l.Close())
}
