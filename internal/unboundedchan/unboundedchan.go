// Package unboundedchan provides a queue of unbounded depth with channel
// endpoints. The persistence path uses it where dropping is forbidden: a
// slow disk may let the queue grow, but every element sent is eventually
// received, in order.
package unboundedchan

import "sync/atomic"

// UnboundedChannel carries values of type T from In() to Out() with an
// elastic buffer between them. Prefer small T; use pointers for big values.
type UnboundedChannel[T any] struct {
	in      chan T
	out     chan T
	pending []T
	depth   atomic.Int64
}

// NewUnboundedChannel creates the channel pair and starts the shuttle
// goroutine. Closing In() drains everything to Out(), then closes Out().
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.shuttle()
	return uc
}

// In returns the send endpoint. Sends never block for long: the shuttle
// absorbs them into the pending buffer.
func (uc *UnboundedChannel[T]) In() chan<- T { return uc.in }

// Out returns the receive endpoint.
func (uc *UnboundedChannel[T]) Out() <-chan T { return uc.out }

// Depth reports how many elements are buffered or in flight. Approximate;
// useful for status reporting only.
func (uc *UnboundedChannel[T]) Depth() int { return int(uc.depth.Load()) }

func (uc *UnboundedChannel[T]) shuttle() {
	for {
		if len(uc.pending) == 0 {
			val, ok := <-uc.in
			if !ok {
				close(uc.out)
				return
			}
			uc.pending = append(uc.pending, val)
			uc.depth.Add(1)
			continue
		}
		select {
		case uc.out <- uc.pending[0]:
			uc.pending = uc.pending[1:]
			uc.depth.Add(-1)
		case val, ok := <-uc.in:
			if !ok {
				// Input closed: drain what's left, then close the output.
				for _, v := range uc.pending {
					uc.out <- v
					uc.depth.Add(-1)
				}
				close(uc.out)
				return
			}
			uc.pending = append(uc.pending, val)
			uc.depth.Add(1)
		}
	}
}
