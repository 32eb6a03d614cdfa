package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/memcon/lib/memory"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is a single side-channel message. Which fields are used depends on the type of message.
// Exchange handles are not part of the message, the transport sends them alongside
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Slots describes the slot region, used for: ConnectionRequestSlot
	Slots *memory.SlotConfiguration `json:"slots,omitempty"`
	// Queue describes a queue region, used for: ConnectionRequestQueue, AckConnection
	Queue *memory.QueueConfiguration `json:"queue,omitempty"`
	// Reason is a human readable explanation, used for: Termination
	Reason string `json:"reason,omitempty"`
}

func (m Message) String() string {
	switch {
	case m.Slots != nil:
		return fmt.Sprintf("%s(slots=%d, size=%d)", m.MsgType, m.Slots.NumberOfSlots, m.Slots.SlotContentSize)
	case m.Queue != nil:
		return fmt.Sprintf("%s(elements=%d)", m.MsgType, m.Queue.NumberOfElements)
	case m.Reason != "":
		return fmt.Sprintf("%s(%s)", m.MsgType, m.Reason)
	default:
		return m.MsgType.String()
	}
}

// CarriesHandle reports whether a message of this type is sent together with an exchange handle
func (t MessageType) CarriesHandle() bool {
	return t == MsgTConnectionRequestSlot || t == MsgTConnectionRequestQueue || t == MsgTAckConnection
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewConnectionRequestSlot creates the slot half of a connection request
func NewConnectionRequestSlot(config memory.SlotConfiguration) *Message {
	return &Message{MsgType: MsgTConnectionRequestSlot, Slots: &config}
}

// NewConnectionRequestQueue creates the queue half of a connection request
func NewConnectionRequestQueue(config memory.QueueConfiguration) *Message {
	return &Message{MsgType: MsgTConnectionRequestQueue, Queue: &config}
}

// NewAckConnection creates the receiver's answer to a connection request
func NewAckConnection(config memory.QueueConfiguration) *Message {
	return &Message{MsgType: MsgTAckConnection, Queue: &config}
}

// NewAckQueueInitialization creates the server's confirmation that the receiver queue is mapped
func NewAckQueueInitialization() *Message {
	return &Message{MsgType: MsgTAckQueueInitialization}
}

// NewStartListening creates a request to be notified about new slots
func NewStartListening() *Message {
	return &Message{MsgType: MsgTStartListening}
}

// NewStopListening creates a request to stop notifications
func NewStopListening() *Message {
	return &Message{MsgType: MsgTStopListening}
}

// NewNotification creates a new slot notification
func NewNotification() *Message {
	return &Message{MsgType: MsgTNotification}
}

// NewShutdown creates an orderly shutdown message
func NewShutdown() *Message {
	return &Message{MsgType: MsgTShutdown}
}

// NewTermination creates a forceful termination message
func NewTermination(reason string) *Message {
	return &Message{MsgType: MsgTTermination, Reason: reason}
}

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType defines the type of side-channel message.
type MessageType uint8

const (
	MsgTUnknown MessageType = iota

	// handshake
	MsgTConnectionRequestSlot  // server -> receiver: slot configuration + slot memory handle
	MsgTConnectionRequestQueue // server -> receiver: queue configuration + delivery queue handle
	MsgTAckConnection          // receiver -> server: queue configuration + return queue handle
	MsgTAckQueueInitialization // server -> receiver: return queue mapped, receiver registered

	// listening control
	MsgTStartListening // receiver -> server
	MsgTStopListening  // receiver -> server
	MsgTNotification   // server -> receiver: new slot available

	// teardown
	MsgTShutdown    // both directions: orderly disconnect
	MsgTTermination // both directions: forceful disconnect

	msgTCount
)

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTConnectionRequestSlot:
		return "ConnectionRequestSlot"
	case MsgTConnectionRequestQueue:
		return "ConnectionRequestQueue"
	case MsgTAckConnection:
		return "AckConnection"
	case MsgTAckQueueInitialization:
		return "AckQueueInitialization"
	case MsgTStartListening:
		return "StartListening"
	case MsgTStopListening:
		return "StopListening"
	case MsgTNotification:
		return "Notification"
	case MsgTShutdown:
		return "Shutdown"
	case MsgTTermination:
		return "Termination"
	default:
		return "Unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for candidate := MsgTUnknown + 1; candidate < msgTCount; candidate++ {
		if candidate.String() == s {
			*t = candidate
			return nil
		}
	}
	*t = MsgTUnknown
	return nil
}
