// Package rpctest provides a scripted rpc.Caller for tests.
package rpctest

import (
	"context"
	"sync"
	"time"

	"github.com/robotalks/znp.go/pkg/znp/mt"
	"github.com/robotalks/znp.go/pkg/znp/rpc"
)

// Request is a recorded Call or Send.
type Request struct {
	Type      mt.Type
	Subsystem mt.Subsystem
	Command   byte
	Payload   []byte
}

type key struct {
	sub mt.Subsystem
	cmd byte
}

type reply struct {
	payload []byte
	err     error
}

// Caller answers calls from scripted replies. Replies queued for the same
// (sub, cmd) are consumed in order and the last one repeats. Calls without
// any script time out.
type Caller struct {
	// OnRequest is invoked after a request is recorded, e.g. to emit events.
	OnRequest func(Request)
	SendErr   error

	lock     sync.Mutex
	requests []Request
	replies  map[key][]reply
}

// New creates a Caller.
func New() *Caller {
	return &Caller{replies: make(map[key][]reply)}
}

// Reply queues a reply payload for (sub, cmd).
func (c *Caller) Reply(sub mt.Subsystem, cmd byte, payload ...byte) *Caller {
	return c.add(sub, cmd, reply{payload: payload})
}

// Fail queues an error for (sub, cmd).
func (c *Caller) Fail(sub mt.Subsystem, cmd byte, err error) *Caller {
	return c.add(sub, cmd, reply{err: err})
}

func (c *Caller) add(sub mt.Subsystem, cmd byte, r reply) *Caller {
	c.lock.Lock()
	defer c.lock.Unlock()
	k := key{sub: sub, cmd: cmd}
	c.replies[k] = append(c.replies[k], r)
	return c
}

// Requests returns a copy of the recorded requests.
func (c *Caller) Requests() []Request {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]Request(nil), c.requests...)
}

// Find returns recorded requests of (sub, cmd).
func (c *Caller) Find(sub mt.Subsystem, cmd byte) (found []Request) {
	for _, req := range c.Requests() {
		if req.Subsystem == sub && req.Command == cmd {
			found = append(found, req)
		}
	}
	return
}

func (c *Caller) record(req Request) {
	c.lock.Lock()
	c.requests = append(c.requests, req)
	c.lock.Unlock()
	if c.OnRequest != nil {
		c.OnRequest(req)
	}
}

// Call implements rpc.Caller.
func (c *Caller) Call(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte, timeout time.Duration) (*mt.Frame, error) {
	c.record(Request{Type: mt.TypeSREQ, Subsystem: sub, Command: cmd, Payload: append([]byte(nil), payload...)})
	c.lock.Lock()
	k := key{sub: sub, cmd: cmd}
	queue := c.replies[k]
	var r reply
	switch len(queue) {
	case 0:
		c.lock.Unlock()
		return nil, &rpc.TimeoutError{Subsystem: sub, Command: cmd, Timeout: timeout}
	case 1:
		r = queue[0]
	default:
		r, c.replies[k] = queue[0], queue[1:]
	}
	c.lock.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &mt.Frame{Type: mt.TypeSRSP, Subsystem: sub, Command: cmd, Payload: r.payload}, nil
}

// Send implements rpc.Caller.
func (c *Caller) Send(ctx context.Context, sub mt.Subsystem, cmd byte, payload []byte) error {
	c.record(Request{Type: mt.TypeAREQ, Subsystem: sub, Command: cmd, Payload: append([]byte(nil), payload...)})
	return c.SendErr
}
