// Package base implements the side-channel transport on top of packet sockets,
// independent of how the sockets are created. Protocol specific packages (unix)
// only provide an IServerConnector or a connected socket.
//
// Framing:
//
//	Every message is one packet: an 8 byte header (magic, version, flags,
//	payload length) followed by the payload. An exchange handle travels as
//	SCM_RIGHTS ancillary data of the same packet and is announced by a header
//	flag. Packets whose header, length or descriptor count disagree are
//	reported as common.ErrProtocol.
//
// Dispatch:
//
//	Each connection has one reader goroutine. Readers push events into a
//	lock-free MPSC queue (lib/util) drained by a single reactor goroutine, so
//	all callbacks of a transport run sequentially. The server transport
//	shares one reactor across all accepted connections, a client connection
//	owns its reactor.
//
// Sending:
//
//	Sends are serialized per connection and bounded by the configured send
//	timeout. A send that would have to wait longer for the peer fails with
//	transport.ErrWouldBlock.
package base
