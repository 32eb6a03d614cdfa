// Package server implements the MemCon server: the session layer that publishes
// fixed-size slots of a shared memory region to many receiver processes without
// copying their content.
//
// The package focuses on:
//   - The per-receiver protocol state machine (Connecting, Connected, Corrupted, Disconnected)
//   - The receiver table with generation checked ReceiverIds
//   - The slot token contract (AcquireSlot, AccessSlotContent, SendSlot, UnacquireSlot, ReclaimSlots)
//   - Forwarding slot notifications to listening receivers while respecting class limits
//
// Key Components:
//
//   - Server: Owns the slot memory, the receivers and their delivery queues. All methods
//     are serialized by one mutex. The logic engine (lib/logic) decides which receivers
//     get a slot, the server only drives the protocol.
//
//   - receiver: The state machine of one receiver. Its state is a closed sum type
//     (stateConnecting, stateConnected, stateCorrupted, stateDisconnected) and every
//     event handler switches over all four states.
//
//   - OnReceiverStateTransitionCallback: Called after a peer triggered state change,
//     outside of the server lock so that it may call back into the server.
//
// Usage Example:
//
//	s, err := server.NewServer(config, memory.NewMemfdManager(), local.New, serializer.NewBinarySerializer(), nil)
//	if err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
//	class, _ := s.ReceiverClass("default")
//	id, _ := s.AddReceiver(class, conn)
//	_ = s.ConnectReceiver(id)
//
//	token, ok, _ := s.AcquireSlot()
//	if ok {
//	  content, _ := s.AccessSlotContent(token)
//	  copy(content, payload)
//	  _ = s.SendSlot(token, logic.NewDroppedInformation(len(config.ReceiverClasses)))
//	}
//
// Teardown:
//
//	Receivers are destroyed in two steps: once Disconnected, IsReceiverInUse
//	reports whether a side-channel callback can still run. RemoveReceiver and
//	Close refuse to release memory while that is the case.
package server
