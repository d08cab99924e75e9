// Package mailbox provides the blocking hand-off queue between the receive
// path and goroutines waiting for replies.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout indicates no message arrived before the timeout.
	ErrTimeout = errors.New("mailbox: timeout")
	// ErrClosed indicates the queue is closed and drained.
	ErrClosed = errors.New("mailbox: closed")
)

// Message is an opaque buffer. Push transfers ownership to the queue and a
// successful Pop transfers it to the caller, the queue keeps no reference.
type Message []byte

type item struct {
	msg  Message
	next *item
}

// Queue is an unbounded FIFO with priority insert and timed dequeue.
// It is safe for concurrent use by multiple producers and consumers.
type Queue struct {
	lock   sync.Mutex
	head   *item
	tail   *item
	size   int
	closed bool

	// notEmpty holds a token whenever a waiter may find a message.
	notEmpty chan struct{}
	done     chan struct{}
}

// New creates a Queue.
func New() *Queue {
	return &Queue{
		notEmpty: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends msg to the tail, or to the head if priority is set.
// Pushing to a closed queue drops the message.
func (q *Queue) Push(msg Message, priority bool) {
	it := &item{msg: msg}
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return
	}
	switch {
	case q.head == nil:
		q.head, q.tail = it, it
	case priority:
		it.next, q.head = q.head, it
	default:
		q.tail.next, q.tail = it, it
	}
	q.size++
	q.lock.Unlock()
	q.signal()
}

// Pop waits up to timeout for a message. A negative timeout waits forever,
// zero doesn't wait.
func (q *Queue) Pop(timeout time.Duration) (Message, error) {
	if msg, ok, err := q.take(); ok || err != nil {
		return msg, err
	}
	if timeout == 0 {
		return nil, ErrTimeout
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case <-q.notEmpty:
		case <-q.done:
		case <-expired:
			// a message may have raced with the timer.
			if msg, ok, err := q.take(); ok || err != nil {
				return msg, err
			}
			return nil, ErrTimeout
		}
		if msg, ok, err := q.take(); ok || err != nil {
			return msg, err
		}
	}
}

// PopNoWait is Pop(0).
func (q *Queue) PopNoWait() (Message, error) {
	return q.Pop(0)
}

// PopContext waits for a message until ctx is done.
func (q *Queue) PopContext(ctx context.Context) (Message, error) {
	for {
		if msg, ok, err := q.take(); ok || err != nil {
			return msg, err
		}
		select {
		case <-q.notEmpty:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Flush drops all queued messages and returns the count.
func (q *Queue) Flush() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	n := q.size
	q.head, q.tail, q.size = nil, nil, 0
	return n
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.size
}

// Close rejects further pushes and wakes all waiters. Messages already
// queued can still be popped, after that Pop returns ErrClosed.
func (q *Queue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *Queue) take() (Message, bool, error) {
	q.lock.Lock()
	it := q.head
	if it == nil {
		closed := q.closed
		q.lock.Unlock()
		if closed {
			return nil, false, ErrClosed
		}
		return nil, false, nil
	}
	if q.head = it.next; q.head == nil {
		q.tail = nil
	}
	q.size--
	remains := q.size > 0
	q.lock.Unlock()
	if remains {
		// pass the wake-up on to the next waiter.
		q.signal()
	}
	return it.msg, true, nil
}

func (q *Queue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}
