// Package transport defines the side-channel transport contracts of MemCon.
//
// The side channel carries the control protocol between the server and each receiver: the handshake
// (which transfers shared memory exchange handles), listening control, slot notifications and teardown.
// Payload never travels over it.
//
// Key Components:
//
//   - IConnection: one point-to-point, message oriented connection. Sending is non-blocking, a send
//     that would have to wait for the peer fails with ErrWouldBlock. Receiving is push based: the
//     transport calls the ReceiveFunc from its reactor goroutine.
//
//   - IServerTransport: accepts connections and hands them to an AcceptFunc.
//
// Implementations live in the sub packages: base (connector independent packet connection and
// reactor) and unix (SOCK_SEQPACKET sockets with SCM_RIGHTS handle passing).
package transport
