// Package memory provides the shared memory primitives used by the MemCon server and its receivers.
//
// A memory region is a contiguous block of bytes that can be shared between processes. The server
// allocates the slot region (all message slots) and one delivery queue per receiver, receivers
// allocate their own return queue. Regions are exchanged over the side channel using an exchange
// handle, which the peer passes to Map to get its own view of the same memory.
//
// Key Components:
//
//   - SlotConfiguration / QueueConfiguration: describe the layout of a region and compute its size.
//     Both are sent as part of the handshake so the peer can validate the region before mapping it.
//
//   - IRegion: an allocated or mapped region. ExchangeHandle returns a new handle that refers to the
//     region and is owned by the caller.
//
//   - IExchangeHandle: a transferable descriptor. For memfd regions this is a file descriptor which the
//     unix transport sends as SCM_RIGHTS ancillary data.
//
//   - IMemoryManager: allocates and maps regions. Two implementations exist:
//
//   - NewMemfdManager: anonymous memory files (memfd_create + mmap), linux only.
//
//   - NewHeapManager: process local heap buffers, used by tests and on platforms without memfd.
//     Heap handles can only be mapped by the manager that created them.
//
// Thread Safety:
//
//	Managers are safe for concurrent use. A region must not be used after Close.
package memory
