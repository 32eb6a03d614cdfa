package logic

import "github.com/ValentinKolb/memcon/lib/memory"

// ILogicServer is the server side of a logic engine.
// Implementations do not need to be safe for concurrent use, the MemCon server serializes all calls
type ILogicServer interface {
	// ClassHandle returns the handle of the class with the given name
	ClassHandle(name string) (ClassHandle, error)
	// ClassCount returns the number of configured classes
	ClassCount() int

	// RegisterReceiver adds a receiver of the given class that communicates through queues.
	// The engine does not take ownership of the queue regions
	RegisterReceiver(class ClassHandle, queues ReceiverQueues) (ReceiverHandle, error)
	// DeregisterReceiver removes a receiver. All slots it still holds count as returned
	DeregisterReceiver(handle ReceiverHandle) error
	// SuspendReceiver stops all deliveries to a receiver. Slots it still holds count as returned and
	// its class no longer counts it. The receiver stays registered until DeregisterReceiver
	SuspendReceiver(handle ReceiverHandle) error
	// DetectCorruption reports whether the receiver violated the shared memory protocol
	DetectCorruption(handle ReceiverHandle) bool

	// AcquireSlot takes a slot from the free pool. ok is false if the pool is empty
	AcquireSlot() (token SlotToken, ok bool)
	// AccessSlotContent returns the content of the slot the token refers to
	AccessSlotContent(token SlotToken) ([]byte, error)
	// SendSlot delivers the slot to all registered receivers whose class is below its limit and
	// consumes the token. dropped is reset and filled with the classes that did not get the slot
	SendSlot(token SlotToken, dropped *DroppedInformation) error
	// UnacquireSlot puts the slot back into the free pool and consumes the token
	UnacquireSlot(token SlotToken) error
	// ReclaimSlots processes returned slots and frees every slot no receiver holds anymore
	ReclaimSlots() error
	// OutstandingTokens returns the number of acquired but not yet consumed tokens
	OutstandingTokens() int

	// Stats returns per class counters
	Stats() []ClassStats
}

// Factory creates an engine that manages the slots in the given region
type Factory func(slots memory.IRegion, config Configuration) (ILogicServer, error)
