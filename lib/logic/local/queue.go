package local

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ValentinKolb/memcon/lib/memory"
)

const (
	headOffset = 0
	tailOffset = 64
)

// Queue is a single-producer single-consumer ring of slot indices placed in shared memory.
//
// Layout: head counter (bytes 0-7), tail counter (bytes 64-71), entries from byte
// memory.QueueHeaderSize on. Counters grow monotonically, an entry lives at counter % capacity.
// Only the producer writes tail, only the consumer writes head
type Queue struct {
	head     *uint64
	tail     *uint64
	entries  []uint32
	capacity uint64
}

// NewQueue creates a view on the queue stored in region. A zeroed region is an empty queue
func NewQueue(region []byte, config memory.QueueConfiguration) (*Queue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	n := int(config.NumberOfElements)
	if len(region) < memory.QueueHeaderSize+n*memory.QueueElementSize {
		return nil, fmt.Errorf("queue region too small: %d bytes for %d elements", len(region), n)
	}

	base := unsafe.Pointer(&region[0])
	if uintptr(base)%8 != 0 {
		return nil, fmt.Errorf("queue region is not 8 byte aligned")
	}

	return &Queue{
		head:     (*uint64)(unsafe.Add(base, headOffset)),
		tail:     (*uint64)(unsafe.Add(base, tailOffset)),
		entries:  unsafe.Slice((*uint32)(unsafe.Add(base, memory.QueueHeaderSize)), n),
		capacity: uint64(n),
	}, nil
}

// Push appends index. It returns false if the queue is full. Producer only
func (q *Queue) Push(index uint32) bool {
	tail := atomic.LoadUint64(q.tail)
	if tail-atomic.LoadUint64(q.head) >= q.capacity {
		return false
	}
	atomic.StoreUint32(&q.entries[tail%q.capacity], index)
	atomic.StoreUint64(q.tail, tail+1)
	return true
}

// Pop removes the oldest index. ok is false if the queue is empty. Consumer only
func (q *Queue) Pop() (index uint32, ok bool) {
	head := atomic.LoadUint64(q.head)
	if head == atomic.LoadUint64(q.tail) {
		return 0, false
	}
	index = atomic.LoadUint32(&q.entries[head%q.capacity])
	atomic.StoreUint64(q.head, head+1)
	return index, true
}

// Len returns the number of queued indices
func (q *Queue) Len() int {
	n := atomic.LoadUint64(q.tail) - atomic.LoadUint64(q.head)
	if n > q.capacity {
		// counters corrupted by the peer
		return int(q.capacity)
	}
	return int(n)
}

// Capacity returns the maximum number of queued indices
func (q *Queue) Capacity() int {
	return int(q.capacity)
}
