// Package rpc correlates synchronous requests with their replies and fans
// out asynchronous frames to the callback registry.
package rpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robotalks/znp.go/pkg/observability"
	"github.com/robotalks/znp.go/pkg/znp/mailbox"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/registry"
)

// DefaultCallTimeout is used when neither Call nor the Dispatcher sets one.
const DefaultCallTimeout = time.Second

const (
	tracerName  = "github.com/robotalks/znp.go/pkg/znp/rpc"
	readBufSize = 256
)

// Direction of a frame relative to the host.
type Direction int

// Directions.
const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "tx"
	}
	return "rx"
}

// Observer is notified of every valid frame crossing the link.
// It runs inline with the sender or the receive path.
type Observer interface {
	ObserveFrame(Direction, *mt.Frame)
}

// ObserveFunc is the func form of Observer.
type ObserveFunc func(Direction, *mt.Frame)

// ObserveFrame implements Observer.
func (f ObserveFunc) ObserveFrame(dir Direction, frame *mt.Frame) {
	f(dir, frame)
}

// Observers fans out to multiple observers.
type Observers []Observer

// ObserveFrame implements Observer.
func (o Observers) ObserveFrame(dir Direction, frame *mt.Frame) {
	for _, obs := range o {
		obs.ObserveFrame(dir, frame)
	}
}

// Caller is what subsystem clients need from the link.
type Caller interface {
	Call(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte, timeout time.Duration) (*mt.Frame, error)
	Send(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte) error
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	FramesIn      uint64 `json:"frames_in"`
	FramesOut     uint64 `json:"frames_out"`
	FramingErrors uint64 `json:"framing_errors"`
	Events        uint64 `json:"events"`
	Unrouted      uint64 `json:"unrouted"`
	StaleReplies  uint64 `json:"stale_replies"`
	Calls         uint64 `json:"calls"`
	Timeouts      uint64 `json:"timeouts"`
}

// Dispatcher is the receive path and the synchronous call path of a link.
type Dispatcher struct {
	Transport io.ReadWriter
	Registry  *registry.Registry
	// Mailbox receives SRSP frames for the caller in flight.
	Mailbox *mailbox.Queue
	// Events receives AREQ frames when DeferEvents is set, they are
	// dispatched by WaitEvent/DrainEvents on the caller's goroutine.
	Events      *mailbox.Queue
	DeferEvents bool
	CallTimeout time.Duration
	Observer    Observer
	Tracer      trace.Tracer

	// callSem holds one token, the call in flight owns it.
	callSem   chan struct{}
	writeLock sync.Mutex
	parser    mt.Parser

	stopLock sync.Mutex
	stopErr  error

	framesIn, framesOut, framingErrors atomic.Uint64
	events, unrouted, stale            atomic.Uint64
	calls, timeouts                    atomic.Uint64
}

// New creates a Dispatcher over rw.
func New(rw io.ReadWriter, reg *registry.Registry) *Dispatcher {
	if reg == nil {
		reg = registry.New()
	}
	return &Dispatcher{
		Transport:   rw,
		Registry:    reg,
		Mailbox:     mailbox.New(),
		Events:      mailbox.New(),
		CallTimeout: DefaultCallTimeout,
		callSem:     make(chan struct{}, 1),
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		FramesIn:      d.framesIn.Load(),
		FramesOut:     d.framesOut.Load(),
		FramingErrors: d.framingErrors.Load(),
		Events:        d.events.Load(),
		Unrouted:      d.unrouted.Load(),
		StaleReplies:  d.stale.Load(),
		Calls:         d.calls.Load(),
		Timeouts:      d.timeouts.Load(),
	}
}

// Run is the receive path. It seals the registry, then decodes frames until
// ctx is done or the transport fails. Pending and later calls fail once it
// returns.
func (d *Dispatcher) Run(ctx context.Context) (err error) {
	if d.Registry != nil {
		d.Registry.Seal()
	}
	d.parser.Reset()
	defer func() {
		d.stop(err)
	}()

	dataCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.readLoop(subCtx, dataCh, errCh)
	for {
		select {
		case data := <-dataCh:
			for _, b := range data {
				d.applyParseResult(ctx, d.parser.Parse(b))
			}
		case err := <-errCh:
			return &TransportError{Op: "read", Err: err}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) readLoop(ctx context.Context, dataCh chan []byte, errCh chan error) {
	buf := make([]byte, readBufSize)
	for {
		n, err := d.Transport.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case dataCh <- data:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

func (d *Dispatcher) stop(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		err = ErrStopped
	}
	d.stopLock.Lock()
	if d.stopErr == nil {
		d.stopErr = err
	}
	d.stopLock.Unlock()
	d.Mailbox.Close()
	if d.Events != nil {
		d.Events.Close()
	}
	glog.V(4).Infof("receive path stopped: %v", err)
}

func (d *Dispatcher) stopped() error {
	d.stopLock.Lock()
	defer d.stopLock.Unlock()
	if d.stopErr == nil {
		return ErrStopped
	}
	return d.stopErr
}

func (d *Dispatcher) applyParseResult(ctx context.Context, pr mt.ParseResult) {
	if pr.Err != nil {
		d.framingErrors.Add(1)
		observability.RecordFramingError(framingReason(pr.Err))
		glog.V(2).Infof("drop frame: %v", pr.Err)
		return
	}
	if pr.Frame != nil {
		d.HandleFrame(ctx, pr.Frame)
	}
}

func framingReason(err error) string {
	switch {
	case errors.Is(err, mt.ErrChecksum):
		return "checksum"
	case errors.Is(err, mt.ErrLength):
		return "length"
	case errors.Is(err, mt.ErrSubsystem):
		return "subsystem"
	}
	return "other"
}

// HandleFrame classifies a decoded inbound frame: AREQ goes to the registry
// (or the Events mailbox when deferred), SRSP goes to the Mailbox.
func (d *Dispatcher) HandleFrame(ctx context.Context, f *mt.Frame) {
	d.framesIn.Add(1)
	observability.RecordFrame(Inbound.String(), f.Type.String(), f.Subsystem.String())
	if glog.V(2) {
		glog.Infof("rx %s", f)
	}
	if d.Observer != nil {
		d.Observer.ObserveFrame(Inbound, f)
	}
	switch f.Type {
	case mt.TypeAREQ:
		if d.DeferEvents && d.Events != nil {
			d.Events.Push(mailbox.Message(f.Bytes()), false)
			observability.SetMailboxDepth("events", d.Events.Len())
			return
		}
		d.dispatchEvent(ctx, f)
	case mt.TypeSRSP:
		d.Mailbox.Push(mailbox.Message(f.Bytes()), false)
		observability.SetMailboxDepth("replies", d.Mailbox.Len())
	default:
		glog.Warningf("unexpected %s from coprocessor, dropped", f)
	}
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, f *mt.Frame) {
	d.events.Add(1)
	var status mt.Status
	var routed bool
	if d.Registry != nil {
		status, routed = d.Registry.Dispatch(ctx, f)
	}
	if !routed {
		d.unrouted.Add(1)
	}
	observability.RecordEvent(f.Subsystem.String(), routed)
	if status != mt.StatusSuccess {
		glog.V(2).Infof("handler %s/%02x returned status %02x", f.Subsystem, f.Command, byte(status))
	}
}

// Send writes an AREQ. Nothing is awaited.
func (d *Dispatcher) Send(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte) error {
	return d.write(&mt.Frame{Type: mt.TypeAREQ, Subsystem: sub, Command: cmd, Payload: payload})
}

func (d *Dispatcher) write(f *mt.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	d.writeLock.Lock()
	_, err := f.WriteTo(d.Transport)
	d.writeLock.Unlock()
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	d.framesOut.Add(1)
	observability.RecordFrame(Outbound.String(), f.Type.String(), f.Subsystem.String())
	if glog.V(2) {
		glog.Infof("tx %s", f)
	}
	if d.Observer != nil {
		d.Observer.ObserveFrame(Outbound, f)
	}
	return nil
}

// Call writes an SREQ and waits for the SRSP of the same (sub, cmd), or an
// RPC error reply. Calls on one Dispatcher are serialized. A zero timeout
// uses CallTimeout.
func (d *Dispatcher) Call(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte, timeout time.Duration) (*mt.Frame, error) {
	if timeout <= 0 {
		if timeout = d.CallTimeout; timeout <= 0 {
			timeout = DefaultCallTimeout
		}
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "znp.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("znp.subsystem", sub.String()),
			attribute.Int("znp.command", int(cmd)),
			attribute.Int("znp.payload_len", len(payload)),
		))
	defer span.End()

	start := time.Now()
	reply, err := d.call(ctx, sub, cmd, payload, timeout)
	observability.RecordCall(sub.String(), callResult(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return reply, err
}

func callResult(err error) string {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return observability.ResultOK
	case errors.Is(err, ErrTimeout):
		return observability.ResultTimeout
	case errors.As(err, &rpcErr):
		return observability.ResultRPCError
	}
	return observability.ResultTransport
}

func (d *Dispatcher) call(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte, timeout time.Duration) (*mt.Frame, error) {
	req := &mt.Frame{Type: mt.TypeSREQ, Subsystem: sub, Command: cmd, Payload: payload}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// the timeout covers waiting behind the call in flight.
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case d.callSem <- struct{}{}:
	case <-waitCtx.Done():
		return nil, d.waitFailed(ctx, sub, cmd, timeout)
	}
	defer func() { <-d.callSem }()
	if waitCtx.Err() != nil {
		return nil, d.waitFailed(ctx, sub, cmd, timeout)
	}
	d.calls.Add(1)

	if n := d.Mailbox.Flush(); n > 0 {
		d.stale.Add(uint64(n))
		glog.V(2).Infof("flushed %d stale replies before %s/%02x", n, sub, cmd)
	}
	if err := d.write(req); err != nil {
		return nil, err
	}

	for {
		msg, err := d.Mailbox.PopContext(waitCtx)
		switch {
		case err == mailbox.ErrClosed:
			return nil, &TransportError{Op: "read", Err: d.stopped()}
		case err != nil:
			return nil, d.waitFailed(ctx, sub, cmd, timeout)
		}
		reply, err := mt.Decode(msg)
		if err != nil {
			glog.Errorf("corrupted mailbox message: %v", err)
			continue
		}
		if reply.Subsystem == mt.SubsystemRPCError && reply.Command == 0 && len(reply.Payload) >= 3 {
			return nil, &RPCError{Code: reply.Payload[0], Cmd0: reply.Payload[1], Cmd1: reply.Payload[2]}
		}
		if reply.Subsystem == sub && reply.Command == cmd {
			return reply, nil
		}
		d.stale.Add(1)
		observability.RecordStaleReply()
		glog.Warningf("stale reply %s while waiting for %s/%02x", reply, sub, cmd)
	}
}

func (d *Dispatcher) waitFailed(ctx context.Context, sub mt.Subsystem, cmd byte, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.timeouts.Add(1)
	return &TimeoutError{Subsystem: sub, Command: cmd, Timeout: timeout}
}

// WaitEvent waits up to timeout for one deferred event and dispatches it on
// the calling goroutine. It returns false if none arrived.
func (d *Dispatcher) WaitEvent(ctx context.Context, timeout time.Duration) (bool, error) {
	if d.Events == nil {
		return false, errors.New("rpc: no event mailbox")
	}
	msg, err := d.Events.Pop(timeout)
	switch {
	case err == mailbox.ErrTimeout:
		return false, nil
	case err == mailbox.ErrClosed:
		return false, &TransportError{Op: "read", Err: d.stopped()}
	case err != nil:
		return false, err
	}
	f, err := mt.Decode(msg)
	if err != nil {
		return false, err
	}
	d.dispatchEvent(ctx, f)
	return true, nil
}

// DrainEvents dispatches deferred events until none arrives within quiet,
// and returns how many were dispatched.
func (d *Dispatcher) DrainEvents(ctx context.Context, quiet time.Duration) (int, error) {
	var count int
	for ctx.Err() == nil {
		ok, err := d.WaitEvent(ctx, quiet)
		if err != nil || !ok {
			return count, err
		}
		count++
	}
	return count, ctx.Err()
}
