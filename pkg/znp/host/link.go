// Package host assembles a link to one coprocessor.
package host

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/config"
	fx "github.com/robotalks/znp.go/pkg/framework"
	"github.com/robotalks/znp.go/pkg/znp/af"
	"github.com/robotalks/znp.go/pkg/znp/device"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
	"github.com/robotalks/znp.go/pkg/znp/sys"
	"github.com/robotalks/znp.go/pkg/znp/transport"
	"github.com/robotalks/znp.go/pkg/znp/util"
	"github.com/robotalks/znp.go/pkg/znp/zdo"
)

var (
	// ErrStarted is returned when registering or starting a started link.
	ErrStarted = errors.New("link already started")
)

// Link is a transport, a registry and a dispatcher for one coprocessor,
// plus typed clients and the session state.
type Link struct {
	Dispatcher *rpc.Dispatcher
	Session    *device.Session

	SYS  *sys.Client
	ZDO  *zdo.Client
	AF   *af.Client
	UTIL *util.Client

	rw      io.ReadWriteCloser
	tables  map[mt.Subsystem][]registry.Table
	lock    sync.Mutex
	started bool
	runner  *fx.Runner
	done    chan struct{}
	err     error
}

// Options configures a Link.
type Options struct {
	Target      string
	Transport   transport.Options
	CallTimeout time.Duration
	DeferEvents bool
	Observer    rpc.Observer
}

// OptionsFrom derives Options from the configuration.
func OptionsFrom(conf *config.Config) Options {
	return Options{
		Target:      conf.Device,
		Transport:   transport.Options{Baud: conf.Baud},
		CallTimeout: conf.CallTimeout.Duration,
	}
}

// Open opens the transport and creates a Link.
func Open(opts Options) (*Link, error) {
	rw, err := transport.OpenWith(opts.Target, opts.Transport)
	if err != nil {
		return nil, err
	}
	l := New(rw)
	if opts.CallTimeout > 0 {
		l.Dispatcher.CallTimeout = opts.CallTimeout
	}
	l.Dispatcher.DeferEvents = opts.DeferEvents
	if opts.Observer != nil {
		l.AddObserver(opts.Observer)
	}
	return l, nil
}

// New creates a Link over an opened stream. The Link owns rw.
func New(rw io.ReadWriteCloser) *Link {
	d := rpc.New(rw, registry.New())
	l := &Link{
		Dispatcher: d,
		Session:    device.NewSession(),
		SYS:        sys.NewClient(d),
		ZDO:        zdo.NewClient(d),
		AF:         af.NewClient(d),
		UTIL:       util.NewClient(d),
		rw:         rw,
		tables:     make(map[mt.Subsystem][]registry.Table),
		done:       make(chan struct{}),
	}
	l.Register(mt.SubsystemZDO, l.Session.ZDOCallbacks().Table())
	l.Register(mt.SubsystemSYS, l.Session.SYSCallbacks().Table())
	return l
}

// Register adds handlers for a subsystem. Tables of the same subsystem
// are merged, all handlers of a command are invoked in registration order.
func (l *Link) Register(sub mt.Subsystem, table registry.Table) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.started {
		return ErrStarted
	}
	l.tables[sub] = append(l.tables[sub], table)
	return nil
}

// AddObserver adds a frame observer, before Start.
func (l *Link) AddObserver(obs rpc.Observer) {
	switch cur := l.Dispatcher.Observer.(type) {
	case nil:
		l.Dispatcher.Observer = obs
	case rpc.Observers:
		l.Dispatcher.Observer = append(cur, obs)
	default:
		l.Dispatcher.Observer = rpc.Observers{cur, obs}
	}
}

// Start seals registrations and runs the receive path until ctx is done,
// Close is called or the transport fails.
func (l *Link) Start(ctx context.Context) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.started {
		return ErrStarted
	}
	for sub, tables := range l.tables {
		if err := l.Dispatcher.Registry.Merge(sub, tables...); err != nil {
			return err
		}
	}
	l.started = true
	l.runner = fx.NewRunnerWith(ctx)
	l.runner.Go(fx.NamedRun("znp-rx", fx.RunFunc(func(ctx context.Context) error {
		return fx.RunWithContextCloser(ctx, l.rw, func() error {
			return l.Dispatcher.Run(ctx)
		})
	})))
	go func() {
		l.err = l.runner.Wait()
		if l.err != nil {
			glog.Errorf("link stopped: %v", l.err)
		}
		close(l.done)
	}()
	return nil
}

// Done is closed when the receive path stopped.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns why the receive path stopped, after Done is closed.
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Close stops the receive path and closes the transport.
func (l *Link) Close() error {
	l.lock.Lock()
	runner := l.runner
	l.lock.Unlock()
	if runner == nil {
		return l.rw.Close()
	}
	runner.Stop()
	<-l.done
	return nil
}
