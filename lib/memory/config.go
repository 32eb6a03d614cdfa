package memory

import (
	"fmt"
	"os"
)

const (
	// QueueHeaderSize is the number of bytes in front of the queue entries (head and tail counter,
	// each on its own cache line)
	QueueHeaderSize = 128
	// QueueElementSize is the size of a single queue entry (a slot index)
	QueueElementSize = 4
	// DefaultSlotAlignment is used when SlotConfiguration.Alignment is zero
	DefaultSlotAlignment = 8
)

// --------------------------------------------------------------------------
// Slot memory
// --------------------------------------------------------------------------

// SlotConfiguration describes the slot region: NumberOfSlots slots with SlotContentSize usable bytes
// each. Every slot starts at a multiple of Alignment.
type SlotConfiguration struct {
	NumberOfSlots   uint32 `json:"number_of_slots"`
	SlotContentSize uint32 `json:"slot_content_size"`
	Alignment       uint32 `json:"alignment,omitempty"`
}

// Validate checks that the configuration describes a usable region
func (c SlotConfiguration) Validate() error {
	if c.NumberOfSlots == 0 {
		return fmt.Errorf("number of slots must be greater than zero")
	}
	if c.SlotContentSize == 0 {
		return fmt.Errorf("slot content size must be greater than zero")
	}
	if a := c.Alignment; a != 0 && a&(a-1) != 0 {
		return fmt.Errorf("slot alignment %d is not a power of two", a)
	}
	return nil
}

// Stride returns the distance in bytes between the start of two consecutive slots
func (c SlotConfiguration) Stride() int {
	alignment := int(c.Alignment)
	if alignment == 0 {
		alignment = DefaultSlotAlignment
	}
	return alignUp(int(c.SlotContentSize), alignment)
}

// Offset returns the offset of the slot with the given index inside the slot region
func (c SlotConfiguration) Offset(index uint32) int {
	return int(index) * c.Stride()
}

// Size returns the size of the slot region rounded up to the page size
func (c SlotConfiguration) Size() int {
	return alignUp(int(c.NumberOfSlots)*c.Stride(), os.Getpagesize())
}

// --------------------------------------------------------------------------
// Queue memory
// --------------------------------------------------------------------------

// QueueConfiguration describes a slot index queue with NumberOfElements entries
type QueueConfiguration struct {
	NumberOfElements uint32 `json:"number_of_elements"`
}

// Validate checks that the configuration describes a usable queue
func (c QueueConfiguration) Validate() error {
	if c.NumberOfElements == 0 {
		return fmt.Errorf("number of queue elements must be greater than zero")
	}
	return nil
}

// Size returns the size of the queue region rounded up to the page size
func (c QueueConfiguration) Size() int {
	return alignUp(QueueHeaderSize+int(c.NumberOfElements)*QueueElementSize, os.Getpagesize())
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func alignUp(value, alignment int) int {
	return (value + alignment - 1) &^ (alignment - 1)
}
