package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and size
func NewBinarySerializer() IMessageSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IMessageSerializer using a custom binary format:
//
//	byte 0: message type
//	byte 1: flags (which optional fields follow)
//	slots:  number of slots, content size, alignment (3 x uint32)
//	queue:  number of elements (uint32)
//	reason: length (uint32) + bytes
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasSlots  byte = 1 << 0
	hasQueue  byte = 1 << 1
	hasReason byte = 1 << 2

	slotsSize = 12
	queueSize = 4
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IMessageSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	pos := 2

	if msg.Slots != nil {
		flags |= hasSlots
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.Slots.NumberOfSlots)
		binary.BigEndian.PutUint32(result[pos+4:pos+8], msg.Slots.SlotContentSize)
		binary.BigEndian.PutUint32(result[pos+8:pos+12], msg.Slots.Alignment)
		pos += slotsSize
	}

	if msg.Queue != nil {
		flags |= hasQueue
		binary.BigEndian.PutUint32(result[pos:pos+4], msg.Queue.NumberOfElements)
		pos += queueSize
	}

	if msg.Reason != "" {
		flags |= hasReason
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(msg.Reason)))
		pos += 4
		copy(result[pos:], msg.Reason)
	}

	result[1] = flags
	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// MsgType + flags
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	pos := 2

	if flags&^(hasSlots|hasQueue|hasReason) != 0 {
		return fmt.Errorf("unknown flags 0x%02x", flags)
	}

	if flags&hasSlots != 0 {
		if pos+slotsSize > len(data) {
			return fmt.Errorf("data too short for slot configuration")
		}
		msg.Slots = &memory.SlotConfiguration{
			NumberOfSlots:   binary.BigEndian.Uint32(data[pos : pos+4]),
			SlotContentSize: binary.BigEndian.Uint32(data[pos+4 : pos+8]),
			Alignment:       binary.BigEndian.Uint32(data[pos+8 : pos+12]),
		}
		pos += slotsSize
	} else {
		msg.Slots = nil
	}

	if flags&hasQueue != 0 {
		if pos+queueSize > len(data) {
			return fmt.Errorf("data too short for queue configuration")
		}
		msg.Queue = &memory.QueueConfiguration{
			NumberOfElements: binary.BigEndian.Uint32(data[pos : pos+4]),
		}
		pos += queueSize
	} else {
		msg.Queue = nil
	}

	if flags&hasReason != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for reason length")
		}
		reasonLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4

		if pos+reasonLen > len(data) {
			return fmt.Errorf("data too short for reason")
		}
		msg.Reason = string(data[pos : pos+reasonLen])
		pos += reasonLen
	} else {
		msg.Reason = ""
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2
	if msg.Slots != nil {
		size += slotsSize
	}
	if msg.Queue != nil {
		size += queueSize
	}
	if msg.Reason != "" {
		size += 4 + len(msg.Reason)
	}
	return size
}

func errUnknownSerializer(name string) error {
	return fmt.Errorf("invalid serializer %s (expected one of: binary, json, gob)", name)
}
