// Package registry routes asynchronous frames to per-subsystem handlers.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/robotalks/znp.go/pkg/znp/mt"
)

var (
	// ErrSealed is returned when registering after the receive path started.
	ErrSealed = errors.New("registry: sealed")
)

// Handler processes an event frame of a single (subsystem, command).
// It runs on the receive path and must not block indefinitely.
type Handler interface {
	HandleFrame(context.Context, *mt.Frame) mt.Status
}

// HandlerFunc is the func form of Handler.
type HandlerFunc func(context.Context, *mt.Frame) mt.Status

// HandleFrame implements Handler.
func (f HandlerFunc) HandleFrame(ctx context.Context, frame *mt.Frame) mt.Status {
	return f(ctx, frame)
}

// Table maps a command ID to its handler. A missing or nil entry means
// the event is accepted without action.
type Table map[byte]Handler

// DuplicateError reports a second registration for the same subsystem.
type DuplicateError struct {
	Subsystem mt.Subsystem
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("registry: %s already registered", e.Subsystem)
}

// Registry is the routing table. Registration must complete before Seal,
// afterwards it is read-only and safe for concurrent lookups.
type Registry struct {
	tables map[mt.Subsystem]Table
	sealed bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tables: make(map[mt.Subsystem]Table)}
}

// Register installs the table for a subsystem, once.
func (r *Registry) Register(sub mt.Subsystem, table Table) error {
	if r.sealed {
		return ErrSealed
	}
	if !sub.IsValid() {
		return fmt.Errorf("registry: %w", mt.ErrSubsystem)
	}
	if _, exist := r.tables[sub]; exist {
		return &DuplicateError{Subsystem: sub}
	}
	copied := make(Table, len(table))
	for cmd, h := range table {
		if h != nil {
			copied[cmd] = h
		}
	}
	r.tables[sub] = copied
	return nil
}

// Merge registers several tables for the same subsystem as one. A command
// present in more than one table gets all handlers called in order, the
// last non-success status wins.
func (r *Registry) Merge(sub mt.Subsystem, tables ...Table) error {
	merged := make(Table)
	for _, table := range tables {
		for cmd, h := range table {
			if h == nil {
				continue
			}
			if prev, ok := merged[cmd]; ok {
				merged[cmd] = chain{prev, h}
			} else {
				merged[cmd] = h
			}
		}
	}
	return r.Register(sub, merged)
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed tells whether Seal was called.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup finds the handler for (sub, cmd).
func (r *Registry) Lookup(sub mt.Subsystem, cmd byte) (Handler, bool) {
	if table := r.tables[sub]; table != nil {
		h, ok := table[cmd]
		return h, ok
	}
	return nil, false
}

// Dispatch invokes the handler for frame if one exists. When there is none
// the frame is consumed with StatusSuccess and routed is false.
func (r *Registry) Dispatch(ctx context.Context, frame *mt.Frame) (status mt.Status, routed bool) {
	h, ok := r.Lookup(frame.Subsystem, frame.Command)
	if !ok {
		return mt.StatusSuccess, false
	}
	return h.HandleFrame(ctx, frame), true
}

type chain []Handler

func (c chain) HandleFrame(ctx context.Context, frame *mt.Frame) mt.Status {
	status := mt.StatusSuccess
	for _, h := range c {
		if s := h.HandleFrame(ctx, frame); s != mt.StatusSuccess {
			status = s
		}
	}
	return status
}

// DecodeFailed logs an event whose payload can't be decoded and returns
// StatusFailure.
func DecodeFailed(frame *mt.Frame, err error) mt.Status {
	glog.Warningf("malformed %s: %v", frame, err)
	return mt.StatusFailure
}
