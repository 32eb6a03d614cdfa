// Package unix implements the side channel using Unix domain sockets of type
// SOCK_SEQPACKET. It provides the listening server transport, Dial for
// receivers and Pair for two endpoints connected without a listener.
//
// Key Components:
//
//   - serverConnector: Creates Unix socket listeners (stale socket files are removed)
//
//   - Dial / Pair: Create client side connections with their own reactor
//
// Characteristics:
//
//   - Packet boundaries are kept by the kernel, no stream reassembly is needed
//   - Shared memory handles (memfd descriptors) are passed as SCM_RIGHTS
//   - A send blocks at most for the configured send timeout
package unix
