package tlmbox

import (
	"context"
)

// EventQueue is a bounded FIFO of event handles between the interrupt
// dispatcher and application tasks.
type EventQueue struct {
	name string
	ch   chan *EvtBox
}

func newEventQueue(name string, capacity int) *EventQueue {
	return &EventQueue{name: name, ch: make(chan *EvtBox, capacity)}
}

// Name returns the queue name.
func (q *EventQueue) Name() string { return q.name }

// tryPush never blocks. It reports false when the queue is full.
func (q *EventQueue) tryPush(e *EvtBox) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// Recv returns the oldest event, blocking until one arrives or ctx is done.
// The caller owns the handle and must Close it.
func (q *EventQueue) Recv(ctx context.Context) (*EvtBox, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryRecv returns the oldest event if one is queued.
func (q *EventQueue) TryRecv() (*EvtBox, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return nil, false
	}
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int { return cap(q.ch) }

// drain releases every queued handle.
func (q *EventQueue) drain() int {
	n := 0
	for {
		e, ok := q.TryRecv()
		if !ok {
			return n
		}
		e.Close()
		n++
	}
}
