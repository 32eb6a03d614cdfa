package logic

import (
	"fmt"
	"math/bits"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidToken is returned when a slot token is not (or no longer) valid
	ErrInvalidToken = errors.New("invalid slot token")
	// ErrUnknownClass is returned for class handles or names the engine does not know
	ErrUnknownClass = errors.New("unknown receiver class")
	// ErrUnknownReceiver is returned for receiver handles the engine does not know
	ErrUnknownReceiver = errors.New("unknown receiver handle")
	// ErrCapacity is returned when no further receiver can be registered
	ErrCapacity = errors.New("receiver capacity exhausted")
)

// --------------------------------------------------------------------------
// Handles
// --------------------------------------------------------------------------

// ClassHandle identifies a receiver class of an engine
type ClassHandle uint32

// ReceiverHandle identifies a registered receiver. Handles are never reused by an engine
type ReceiverHandle uint64

// SlotToken grants exclusive access to the content of one slot. A token is consumed by SendSlot or
// UnacquireSlot, using it afterwards fails with ErrInvalidToken
type SlotToken struct {
	index      uint32
	generation uint64
}

// NewSlotToken creates a token. Only engine implementations should call this
func NewSlotToken(index uint32, generation uint64) SlotToken {
	return SlotToken{index: index, generation: generation}
}

// Index returns the index of the slot the token refers to
func (t SlotToken) Index() uint32 {
	return t.index
}

// Generation returns the acquisition generation of the token
func (t SlotToken) Generation() uint64 {
	return t.generation
}

func (t SlotToken) String() string {
	return fmt.Sprintf("slot %d (gen %d)", t.index, t.generation)
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// ClassConfiguration configures one receiver class
type ClassConfiguration struct {
	Name string
	// SlotLimit is the maximum number of slots the receivers of the class may hold at the same time
	SlotLimit uint32
}

// Configuration is passed to the engine factory
type Configuration struct {
	Slots        memory.SlotConfiguration
	Queue        memory.QueueConfiguration
	Classes      []ClassConfiguration
	MaxReceivers int
}

// ReceiverQueues are the shared memory queues of one receiver
type ReceiverQueues struct {
	// Delivery is written by the server and read by the receiver
	Delivery memory.IRegion
	// Return is written by the receiver and read by the server
	Return memory.IRegion
}

// ClassStats is a snapshot of the delivery counters of one class
type ClassStats struct {
	Name      string `json:"name"`
	Receivers int    `json:"receivers"`
	InFlight  uint32 `json:"in_flight"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
}

// --------------------------------------------------------------------------
// Dropped Information
// --------------------------------------------------------------------------

// DroppedInformation is the set of classes a sent slot was not delivered to
type DroppedInformation struct {
	words    []uint64
	capacity int
}

// NewDroppedInformation creates an empty set that can hold classCount classes
func NewDroppedInformation(classCount int) *DroppedInformation {
	return &DroppedInformation{
		words:    make([]uint64, (classCount+63)/64),
		capacity: classCount,
	}
}

// Capacity returns the number of classes the set can hold
func (d *DroppedInformation) Capacity() int {
	return d.capacity
}

// Reset removes all classes
func (d *DroppedInformation) Reset() {
	clear(d.words)
}

// Add inserts a class. Classes beyond the capacity are ignored
func (d *DroppedInformation) Add(class ClassHandle) {
	if int(class) >= d.capacity {
		return
	}
	d.words[class/64] |= 1 << (class % 64)
}

// Contains reports whether class is part of the set
func (d *DroppedInformation) Contains(class ClassHandle) bool {
	if int(class) >= d.capacity {
		return false
	}
	return d.words[class/64]&(1<<(class%64)) != 0
}

// Len returns the number of classes in the set
func (d *DroppedInformation) Len() int {
	n := 0
	for _, w := range d.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Classes returns the classes of the set in ascending order
func (d *DroppedInformation) Classes() []ClassHandle {
	classes := make([]ClassHandle, 0, d.Len())
	for i := 0; i < d.capacity; i++ {
		if d.Contains(ClassHandle(i)) {
			classes = append(classes, ClassHandle(i))
		}
	}
	return classes
}
