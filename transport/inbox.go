// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"context"
	"sync"
)

// inbox is an unbounded packet queue shared by every implementation.
// Network goroutines push; the engine's goroutine pops.
type inbox struct {
	mu      sync.Mutex
	packets []Packet
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *inbox) push(p Packet) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.packets = append(q.packets, p)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// pop returns the next packet, waiting until one arrives, ctx is done or
// the inbox closes. Packets queued before close are still delivered.
func (q *inbox) pop(ctx context.Context) (Packet, error) {
	for {
		q.mu.Lock()
		if len(q.packets) > 0 {
			p := q.packets[0]
			q.packets[0] = Packet{}
			q.packets = q.packets[1:]
			q.mu.Unlock()
			return p, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Packet{}, ErrClosed
		}
		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
