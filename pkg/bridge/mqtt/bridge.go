// Package mqtt bridges a coprocessor link to an MQTT broker. Received
// frames are published as envelopes, and envelopes published to the tx
// topic are sent to the coprocessor.
package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/config"
	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
)

// Publisher is the part of Queue used by Bridge.
type Publisher interface {
	Pub(topic string, payload []byte) paho.Token
}

// Bridge publishes inbound frames and forwards requests. It implements
// rpc.Observer.
type Bridge struct {
	Queue  *Queue
	Caller rpc.Caller
	HostID string
	// CallTimeout applies to forwarded SREQ, 0 uses the dispatcher default.
	CallTimeout time.Duration

	pub      Publisher
	requests chan *Envelope
}

// HostID returns the configured host id, or the machine id.
func HostID(conf config.MQTTConfig) (string, error) {
	if conf.HostID != "" {
		return conf.HostID, nil
	}
	return machineid.ID()
}

// New creates a Bridge from the MQTT configuration.
func New(conf config.MQTTConfig, caller rpc.Caller) (*Bridge, error) {
	hostID, err := HostID(conf)
	if err != nil {
		return nil, fmt.Errorf("host id: %w", err)
	}
	opts, prefix, err := ClientOptionsFromURL(conf.URL)
	if err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.SetClientID("znp:" + hostID)
	}
	q := NewQueue(opts, prefix)
	return newBridge(q, q, caller, hostID), nil
}

func newBridge(q *Queue, pub Publisher, caller rpc.Caller, hostID string) *Bridge {
	return &Bridge{
		Queue:    q,
		Caller:   caller,
		HostID:   hostID,
		pub:      pub,
		requests: make(chan *Envelope, 16),
	}
}

// RxTopic is where a received frame is published.
func (b *Bridge) RxTopic(f *mt.Frame) string {
	return fmt.Sprintf("%s/rx/%s/%02x", b.HostID, f.Subsystem, f.Command)
}

// TxTopic accepts envelopes to send.
func (b *Bridge) TxTopic() string {
	return b.HostID + "/tx"
}

// ReplyTopic is where SRSP of forwarded requests are published.
func (b *Bridge) ReplyTopic() string {
	return b.HostID + "/reply"
}

// ObserveFrame implements rpc.Observer. It runs on the receive path and
// does not wait for the broker.
func (b *Bridge) ObserveFrame(dir rpc.Direction, f *mt.Frame) {
	if dir != rpc.Inbound || (f.Type != mt.TypeAREQ && f.Type != mt.TypeSRSP) {
		return
	}
	b.publish(b.RxTopic(f), EnvelopeOf(f, time.Now()))
}

func (b *Bridge) publish(topic string, e *Envelope) {
	data, err := e.Marshal()
	if err != nil {
		glog.Errorf("bridge: encode %s: %v", topic, err)
		return
	}
	b.pub.Pub(topic, data)
}

func (b *Bridge) onRequest(_ string, payload []byte) {
	e, err := UnmarshalEnvelope(payload)
	if err != nil {
		glog.Warningf("bridge: drop request: %v", err)
		return
	}
	select {
	case b.requests <- e:
	default:
		glog.Warningf("bridge: drop request %s/%02x, too many pending", e.Subsystem, e.Command)
	}
}

// Run connects to the broker and forwards requests until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer b.Queue.Close()
	sub := b.Queue.Sub(b.TxTopic(), b.onRequest)
	defer sub.Close()
	return b.serve(ctx)
}

func (b *Bridge) serve(ctx context.Context) error {
	for {
		select {
		case e := <-b.requests:
			b.forward(ctx, e)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) forward(ctx context.Context, e *Envelope) {
	switch e.Type {
	case mt.TypeAREQ:
		if err := b.Caller.Send(ctx, e.Subsystem, e.Command, e.Payload); err != nil {
			glog.Warningf("bridge: send %s/%02x: %v", e.Subsystem, e.Command, err)
		}
	case mt.TypeSREQ:
		reply, err := b.Caller.Call(ctx, e.Subsystem, e.Command, e.Payload, b.CallTimeout)
		out := &Envelope{Type: mt.TypeSRSP, Subsystem: e.Subsystem, Command: e.Command, Timestamp: time.Now()}
		if err != nil {
			out.Error = err.Error()
		} else {
			out.Payload = reply.Payload
		}
		b.publish(b.ReplyTopic(), out)
	default:
		glog.Warningf("bridge: drop request of type %s", e.Type)
	}
}
