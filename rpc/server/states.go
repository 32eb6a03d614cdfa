package server

import (
	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/memory"
)

// receiverState is implemented by exactly the four state structs below. Every event handler of the
// receiver switches over all of them
type receiverState interface {
	kind() ReceiverState
}

// registration is what a receiver holds while it is known to the logic engine
type registration struct {
	handle      logic.ReceiverHandle
	returnQueue memory.IRegion
}

type stateConnecting struct {
	// requested is set once the connection request was sent
	requested bool
}

type stateConnected struct {
	reg *registration
	// notified is true between StartListening and StopListening
	notified bool
}

type stateCorrupted struct {
	cause error
	// reg is nil if the receiver was never registered
	reg *registration
}

type stateDisconnected struct {
	cause error
}

func (stateConnecting) kind() ReceiverState { return ReceiverConnecting }
func (stateConnected) kind() ReceiverState { return ReceiverConnected }
func (stateCorrupted) kind() ReceiverState { return ReceiverCorrupted }
func (stateDisconnected) kind() ReceiverState { return ReceiverDisconnected }
