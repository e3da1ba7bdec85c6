package fetchkit

import (
	"context"
	"sync"
)

// Dispatcher is the execution context callbacks are delivered on.
// Dispatched functions must run one at a time, in the order they were dispatched.
type Dispatcher interface {
	Dispatch(fn func())
}

// Queue is an unbounded FIFO of callbacks, pumped by whoever owns it.
// Use Run from a main loop, or Drain to run what is pending right now.
// Only one goroutine may pump a queue at a time.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	notify  chan struct{}
}

var _ Dispatcher = (*Queue)(nil)

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Dispatch enqueues fn. It never blocks.
func (q *Queue) Dispatch(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain runs pending callbacks, including ones they enqueue, until the queue is empty.
// It returns how many callbacks ran.
func (q *Queue) Drain() int {
	ran := 0
	for {
		q.mu.Lock()
		fns := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return ran
		}
		for _, fn := range fns {
			fn()
			ran++
		}
	}
}

// Run pumps the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		q.Drain()
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
	}
}

// SerialQueue is a Queue pumped by its own goroutine.
type SerialQueue struct {
	*Queue
	stop context.CancelFunc
	done chan struct{}
}

// NewSerialQueue starts the queue goroutine. Close stops it.
func NewSerialQueue() *SerialQueue {
	ctx, stop := context.WithCancel(context.Background())
	s := &SerialQueue{
		Queue: NewQueue(),
		stop:  stop,
		done:  make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	return s
}

// Close stops the goroutine after running what is already queued.
func (s *SerialQueue) Close() {
	s.stop()
	<-s.done
	s.Drain()
}
