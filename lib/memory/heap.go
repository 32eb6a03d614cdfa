package memory

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// NewHeapManager creates a memory manager that allocates regions on the process heap.
// limit caps the total number of allocated bytes, 0 means unlimited.
// Heap regions can only be mapped through the manager that allocated them
func NewHeapManager(limit int) IMemoryManager {
	return &heapManager{
		limit:   int64(limit),
		regions: xsync.NewMapOf[uint64, []byte](),
	}
}

// heapManager implements IMemoryManager using plain byte slices
type heapManager struct {
	limit     int64
	allocated atomic.Int64
	nextID    atomic.Uint64
	regions   *xsync.MapOf[uint64, []byte]
}

// heapRegion is a region allocated by (owner) or mapped from a heapManager
type heapRegion struct {
	manager *heapManager
	id      uint64
	name    string
	data    []byte
	owner   bool
	once    sync.Once
}

// heapHandle refers to a heap region by its id
type heapHandle struct {
	manager *heapManager
	id      uint64
}

// --------------------------------------------------------------------------
// Interface Methods (docu see memory.IMemoryManager)
// --------------------------------------------------------------------------

func (m *heapManager) Allocate(name string, size int) (IRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}
	if total := m.allocated.Add(int64(size)); m.limit > 0 && total > m.limit {
		m.allocated.Add(-int64(size))
		return nil, fmt.Errorf("failed to allocate region %s: heap limit of %d bytes reached", name, m.limit)
	}

	id := m.nextID.Add(1)
	data := make([]byte, size)
	m.regions.Store(id, data)

	return &heapRegion{manager: m, id: id, name: name, data: data, owner: true}, nil
}

func (m *heapManager) Map(handle IExchangeHandle, size int, _ bool) (IRegion, error) {
	h, ok := handle.(*heapHandle)
	if !ok || h.manager != m {
		return nil, fmt.Errorf("exchange handle was not created by this heap manager")
	}

	data, ok := m.regions.Load(h.id)
	if !ok {
		return nil, fmt.Errorf("heap region %d does not exist", h.id)
	}
	if len(data) < size {
		return nil, fmt.Errorf("heap region too small: %d bytes, expected at least %d", len(data), size)
	}

	return &heapRegion{manager: m, id: h.id, data: data[:size]}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see memory.IRegion)
// --------------------------------------------------------------------------

func (r *heapRegion) Name() string {
	return r.name
}

func (r *heapRegion) Bytes() []byte {
	return r.data
}

func (r *heapRegion) ExchangeHandle() (IExchangeHandle, error) {
	if _, ok := r.manager.regions.Load(r.id); !ok {
		return nil, fmt.Errorf("heap region %d is closed", r.id)
	}
	return &heapHandle{manager: r.manager, id: r.id}, nil
}

func (r *heapRegion) Close() error {
	r.once.Do(func() {
		if r.owner {
			r.manager.regions.Delete(r.id)
			r.manager.allocated.Add(-int64(len(r.data)))
		}
	})
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see memory.IExchangeHandle)
// --------------------------------------------------------------------------

func (h *heapHandle) Fd() int {
	return -1
}

func (h *heapHandle) Close() error {
	return nil
}
