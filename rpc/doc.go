// Package rpc provides the side channel of MemCon: everything that happens
// between the process publishing slots from shared memory and the processes
// receiving them, except for the shared memory itself.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the side channel,
//     including the Message protocol, error kinds, configuration structures and logging.
//
//   - transport: Point-to-point message transport that can carry shared memory
//     handles (unix SOCK_SEQPACKET sockets).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - sidechannel: The per receiver message dispatcher of the server.
//
//   - server: The receiver state machine and the Server, which owns the receivers,
//     arbitrates the slot tokens and notifies listening receivers.
//
//   - client: The receiver side of the connection handshake.
package rpc
