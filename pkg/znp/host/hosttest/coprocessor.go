// Package hosttest emulates a coprocessor on the far end of a link.
package hosttest

import (
	"io"
	"net"
	"sync"

	"github.com/robotalks/znp.go/pkg/znp/mt"
)

// Responder answers a request with frames to emit, typically an SRSP
// followed by events.
type Responder func(req *mt.Frame) []*mt.Frame

type key struct {
	sub mt.Subsystem
	cmd byte
}

// Coprocessor serves requests on one end of an in-memory pipe.
type Coprocessor struct {
	conn net.Conn

	lock       sync.Mutex
	responders map[key]Responder
	requests   []*mt.Frame
	writeLock  sync.Mutex
	done       chan struct{}
}

// New creates a Coprocessor and returns the host end of the pipe.
func New() (*Coprocessor, io.ReadWriteCloser) {
	hostEnd, devEnd := net.Pipe()
	c := &Coprocessor{
		conn:       devEnd,
		responders: make(map[key]Responder),
		done:       make(chan struct{}),
	}
	go c.serve()
	return c, hostEnd
}

// Handle installs the responder of (sub, cmd).
func (c *Coprocessor) Handle(sub mt.Subsystem, cmd byte, r Responder) *Coprocessor {
	c.lock.Lock()
	c.responders[key{sub: sub, cmd: cmd}] = r
	c.lock.Unlock()
	return c
}

// Reply installs a fixed SRSP payload for (sub, cmd).
func (c *Coprocessor) Reply(sub mt.Subsystem, cmd byte, payload ...byte) *Coprocessor {
	return c.Handle(sub, cmd, func(req *mt.Frame) []*mt.Frame {
		return []*mt.Frame{SRSP(sub, cmd, payload...)}
	})
}

// Requests returns the frames received so far.
func (c *Coprocessor) Requests() []*mt.Frame {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*mt.Frame(nil), c.requests...)
}

// Find returns received frames of (sub, cmd).
func (c *Coprocessor) Find(sub mt.Subsystem, cmd byte) (found []*mt.Frame) {
	for _, f := range c.Requests() {
		if f.Subsystem == sub && f.Command == cmd {
			found = append(found, f)
		}
	}
	return
}

// Emit writes frames to the host.
func (c *Coprocessor) Emit(frames ...*mt.Frame) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	for _, f := range frames {
		if _, err := f.WriteTo(c.conn); err != nil {
			return err
		}
	}
	return nil
}

// Close disconnects the pipe.
func (c *Coprocessor) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Coprocessor) serve() {
	defer close(c.done)
	var parser mt.Parser
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		frames, _ := parser.Feed(buf[:n])
		for _, f := range frames {
			c.lock.Lock()
			c.requests = append(c.requests, f)
			r := c.responders[key{sub: f.Subsystem, cmd: f.Command}]
			c.lock.Unlock()
			if r == nil {
				continue
			}
			// emit asynchronously, net.Pipe writes block until read.
			if out := r(f); len(out) > 0 {
				go c.Emit(out...)
			}
		}
	}
}

// SRSP builds a reply frame.
func SRSP(sub mt.Subsystem, cmd byte, payload ...byte) *mt.Frame {
	return &mt.Frame{Type: mt.TypeSRSP, Subsystem: sub, Command: cmd, Payload: payload}
}

// AREQ builds an event frame.
func AREQ(sub mt.Subsystem, cmd byte, payload ...byte) *mt.Frame {
	return &mt.Frame{Type: mt.TypeAREQ, Subsystem: sub, Command: cmd, Payload: payload}
}
