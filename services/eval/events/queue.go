// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Send after Close, and by Recv once a
// closed queue is drained.
var ErrQueueClosed = errors.New("event queue closed")

// Sender is the sending half of a queue, handed to background runs.
type Sender interface {
	Send(ev Event) error
}

// Queue is an unbounded FIFO of events.
//
// Description:
//
//	Send never blocks, so a background run can never stall on a slow
//	renderer. Receivers block in Recv or poll with TryRecv. Events are
//	delivered in Send order.
//
// Thread Safety: Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	ready  chan struct{}
}

// NewQueue creates an empty, open queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Send appends ev.
//
// Outputs:
//   - error: ErrQueueClosed if Close was called.
func (q *Queue) Send(ev Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Recv blocks until an event is available, the queue is closed and
// drained, or ctx is done.
func (q *Queue) Recv(ctx context.Context) (Event, error) {
	for {
		if ev, ok, err := q.pop(); ok || err != nil {
			return ev, err
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// TryRecv returns the next event without blocking.
func (q *Queue) TryRecv() (Event, bool) {
	ev, ok, _ := q.pop()
	return ev, ok
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further sends. Pending events can still be received.
// Calling Close more than once is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) pop() (Event, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		if len(q.items) > 0 {
			// Keep other receivers awake while events remain.
			q.signal()
		}
		return ev, true, nil
	}
	if q.closed {
		// Wake any other blocked receiver so it also observes the close.
		q.signal()
		return Event{}, false, ErrQueueClosed
	}
	return Event{}, false, nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

var _ Sender = (*Queue)(nil)
