// Package sidechannel implements the server end of the per-receiver side
// channel. A ServerSideChannel encodes outgoing protocol messages with an
// IMessageSerializer, attaches exchange handles where the protocol requires
// them and decodes inbound messages into typed callbacks.
//
// The channel adds two things on top of the transport:
//
//   - an open/closed flag, so that sends fail fast and inbound dispatch stops
//     as soon as the server closed the channel
//
//   - an in-use counter covering callbacks in flight, which the server uses
//     to decide when a receiver can be destroyed
//
// Messages a receiver is never allowed to send, and messages that can not be
// decoded, are reported through OnError as common.ErrProtocol.
package sidechannel
