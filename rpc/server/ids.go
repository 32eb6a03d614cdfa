package server

import (
	"fmt"

	"github.com/ValentinKolb/memcon/lib/logic"
)

// ReceiverId identifies a receiver of one server. Index is the receiver's place in the server's
// receiver table, ID increases with every AddReceiver so that ids of removed receivers stay invalid
// when their place is reused
type ReceiverId struct {
	Group uint32
	ID    uint64
	Index int
}

func (id ReceiverId) String() string {
	return fmt.Sprintf("%d/%d@%d", id.Group, id.ID, id.Index)
}

// --------------------------------------------------------------------------
// States
// --------------------------------------------------------------------------

// ReceiverState is the protocol state of a receiver
type ReceiverState uint8

const (
	ReceiverConnecting ReceiverState = iota
	ReceiverConnected
	ReceiverDisconnected
	ReceiverCorrupted
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverConnecting:
		return "Connecting"
	case ReceiverConnected:
		return "Connected"
	case ReceiverDisconnected:
		return "Disconnected"
	case ReceiverCorrupted:
		return "Corrupted"
	default:
		return fmt.Sprintf("ReceiverState(%d)", uint8(s))
	}
}

// ServerState is the protocol state of the server
type ServerState uint8

const (
	ServerConnected ServerState = iota
	ServerDisconnected
)

func (s ServerState) String() string {
	switch s {
	case ServerConnected:
		return "Connected"
	case ServerDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("ServerState(%d)", uint8(s))
	}
}

// ReceiverStatus is a snapshot of a receiver's state. Cause is set for Corrupted receivers and for
// Disconnected receivers that were corrupted before
type ReceiverStatus struct {
	State ReceiverState
	Cause error
}

func (s ReceiverStatus) String() string {
	if s.Cause == nil {
		return s.State.String()
	}
	return fmt.Sprintf("%s (%v)", s.State, s.Cause)
}

// OnReceiverStateTransitionCallback is called after a receiver changed its state because of a message
// or error from its peer. It is called without the server lock held, from the transport's reactor goroutine
type OnReceiverStateTransitionCallback func(id ReceiverId, state ReceiverState, cause error)

// Stats is a snapshot of the server
type Stats struct {
	State             ServerState
	Receivers         map[ReceiverState]int
	OutstandingTokens int
	Classes           []logic.ClassStats
}
