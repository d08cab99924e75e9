package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/znp.go/pkg/znp/mt"
)

func TestRegistryDispatch(t *testing.T) {
	var calls []string
	r := New()
	require.NoError(t, r.Register(mt.SubsystemZDO, Table{
		0x05: HandlerFunc(func(ctx context.Context, f *mt.Frame) mt.Status {
			calls = append(calls, string(f.Payload))
			return mt.StatusSuccess
		}),
		0x07: nil,
	}))
	r.Seal()

	status, routed := r.Dispatch(context.Background(), &mt.Frame{
		Type: mt.TypeAREQ, Subsystem: mt.SubsystemZDO, Command: 0x05, Payload: []byte("ep"),
	})
	require.True(t, routed)
	require.Equal(t, mt.StatusSuccess, status)
	require.Equal(t, []string{"ep"}, calls)

	testCases := []struct {
		name string
		sub  mt.Subsystem
		cmd  byte
	}{
		{"unregistered command", mt.SubsystemZDO, 0x06},
		{"nil handler", mt.SubsystemZDO, 0x07},
		{"unregistered subsystem", mt.SubsystemAF, 0x05},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, routed := r.Dispatch(context.Background(), &mt.Frame{
				Type: mt.TypeAREQ, Subsystem: tc.sub, Command: tc.cmd,
			})
			require.False(t, routed)
			require.Equal(t, mt.StatusSuccess, status)
		})
	}
	require.Len(t, calls, 1)
}

func TestRegistryRegisterErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(mt.SubsystemSYS, Table{}))

	err := r.Register(mt.SubsystemSYS, Table{})
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, mt.SubsystemSYS, dup.Subsystem)

	require.ErrorIs(t, r.Register(mt.Subsystem(0x1f), Table{}), mt.ErrSubsystem)

	r.Seal()
	require.True(t, r.Sealed())
	require.Equal(t, ErrSealed, r.Register(mt.SubsystemAF, Table{}))
}

func TestRegistryMerge(t *testing.T) {
	var order []int
	handler := func(n int, status mt.Status) Handler {
		return HandlerFunc(func(context.Context, *mt.Frame) mt.Status {
			order = append(order, n)
			return status
		})
	}
	r := New()
	require.NoError(t, r.Merge(mt.SubsystemZDO,
		Table{0xc0: handler(1, mt.StatusSuccess)},
		Table{0xc0: handler(2, mt.Status(0x10)), 0xc1: handler(3, mt.StatusSuccess)},
		Table{0xc0: handler(4, mt.StatusSuccess)},
	))
	status, routed := r.Dispatch(context.Background(), &mt.Frame{Subsystem: mt.SubsystemZDO, Command: 0xc0})
	require.True(t, routed)
	require.Equal(t, mt.Status(0x10), status)
	require.Equal(t, []int{1, 2, 4}, order)
}
