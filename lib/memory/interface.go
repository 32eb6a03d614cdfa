package memory

// IExchangeHandle is a transferable reference to a memory region.
// The owner of a handle must close it once it is no longer needed, mapping does not consume it.
type IExchangeHandle interface {
	// Fd returns the file descriptor behind the handle or -1 if the handle can not cross process boundaries
	Fd() int
	// Close releases the handle. Closing twice is a no-op
	Close() error
}

// IRegion is a block of memory that can be shared with other processes
type IRegion interface {
	// Name returns the name the region was allocated with (empty for mapped regions)
	Name() string
	// Bytes returns the memory of the region. The slice is valid until Close is called
	Bytes() []byte
	// ExchangeHandle returns a new handle for the region, owned by the caller
	ExchangeHandle() (IExchangeHandle, error)
	// Close unmaps the region and releases all resources held by it
	Close() error
}

// IMemoryManager allocates and maps memory regions
type IMemoryManager interface {
	// Allocate creates a new zeroed region with at least size bytes
	Allocate(name string, size int) (IRegion, error)
	// Map maps the region referred to by handle. The handle stays owned by the caller.
	// size is the number of bytes the caller expects, mapping fails if the region is smaller
	Map(handle IExchangeHandle, size int, readOnly bool) (IRegion, error)
}
