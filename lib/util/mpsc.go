package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is a single element of the queue
type mpscNode[T any] struct {
	value T
	next  atomic.Pointer[mpscNode[T]]
}

// MPSCQueue is an unbounded lock-free multi-producer single-consumer queue.
// Values are delivered in the order in which their Push completed
type MPSCQueue[T any] struct {
	head    atomic.Pointer[mpscNode[T]] // sentinel, only touched by the consumer goroutine
	tail    atomic.Pointer[mpscNode[T]]
	out     chan T
	closed  atomic.Bool
	pushers atomic.Int32 // producers between their closed check and the end of their append
	done    chan struct{}

	mu   sync.Mutex
	cond *sync.Cond
}

// NewMPSCQueue creates a queue and starts its consumer goroutine
func NewMPSCQueue[T any]() *MPSCQueue[T] {
	sentinel := &mpscNode[T]{}

	q := &MPSCQueue[T]{
		out:  make(chan T),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push appends value to the queue. It returns false if the queue is closed, a value for which Push
// returned true is always delivered. Push is safe for concurrent use
func (q *MPSCQueue[T]) Push(value T) bool {
	q.pushers.Add(1)
	defer func() {
		q.pushers.Add(-1)
		q.wake()
	}()

	if q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	var spins uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// a failed swap means another producer already advanced the tail
				q.tail.CompareAndSwap(tail, n)
				return true
			}
		} else {
			q.tail.CompareAndSwap(tail, next)
		}

		// spin shortly, then yield
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Recv returns the channel the consumer goroutine delivers values on.
// The channel is closed once the queue is closed and drained
func (q *MPSCQueue[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting new values. Values pushed before are still delivered
func (q *MPSCQueue[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// IsClosed reports whether Close was called
func (q *MPSCQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Done is closed once the consumer goroutine has delivered every value and exited
func (q *MPSCQueue[T]) Done() <-chan struct{} {
	return q.done
}

// Len counts the values that have not been handed to the channel yet. O(n), debugging only
func (q *MPSCQueue[T]) Len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// wake signals the consumer while holding the mutex, so a wakeup can not fall between the
// consumer's emptiness check and its Wait
func (q *MPSCQueue[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the list to the output channel until the queue is closed and empty
func (q *MPSCQueue[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	var zero T
	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			next.value = zero
			q.out <- value
			continue
		}

		// a producer that passed its closed check before Close may still be appending
		if q.closed.Load() && q.pushers.Load() == 0 {
			if q.head.Load().next.Load() == nil {
				return
			}
			continue
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !(q.closed.Load() && q.pushers.Load() == 0) {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}
