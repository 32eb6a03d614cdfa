// Package common provides the data structures and utilities shared by the MemCon server, its
// receivers and the side-channel transport.
//
// The package focuses on:
//   - Message protocol definition for the side channel
//   - The error taxonomy of the system
//   - Configuration structures for server and receiver processes
//   - Logging integrated with Dragonboat's logger registry
//
// Key Components:
//
//   - Message: the single data structure exchanged over the side channel. Which fields are set
//     depends on the MessageType. Factory functions exist for every message kind.
//
//   - MessageType: enumeration of all side-channel message kinds (handshake, listening control,
//     notifications and teardown).
//
//   - Errors: sentinel errors for every failure class (protocol, peer lifecycle, resource,
//     precondition, aggregated). ErrorCode maps them to compact numeric codes used in logs and metrics.
//
//   - ServerConfig / ReceiverConfig: configuration of the daemon and of a receiver process.
//
//   - Logger: dragonboat logger.ILogger implementation backed by logrus, installed with InitLoggers.
package common
