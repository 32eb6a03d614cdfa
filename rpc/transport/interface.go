package transport

import (
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/pkg/errors"
)

// ErrWouldBlock is returned by Send when the message could not be written without waiting for the peer
var ErrWouldBlock = errors.New("send would block")

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// ReceiveFunc is called by the transport for every inbound message.
// Either msg (plus an optional exchange handle, owned by the callee) or err is set.
// After an error no further calls happen. All calls of one transport instance are made from a single
// reactor goroutine
type ReceiveFunc func(msg []byte, handle memory.IExchangeHandle, err error)

// IConnection is a reliable, message oriented point-to-point side channel.
// Send errors are ErrWouldBlock, common.ErrPeerDisconnected, common.ErrPeerCrashed or common.ErrProtocol
type IConnection interface {
	// Send sends msg and, if handle is not nil, a duplicate of the handle. Send never waits for the
	// peer to read. The handle stays owned by the caller
	Send(msg []byte, handle memory.IExchangeHandle) error
	// SetReceiveCallback sets the receive callback and starts receiving. Must be called at most once
	SetReceiveCallback(fn ReceiveFunc)
	// Close closes the connection. No callback is started after Close returns, one that is already
	// running may still finish (see IsInUse)
	Close() error
	// IsInUse reports whether a receive callback is running or can still be started
	IsInUse() bool
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// AcceptFunc is called for every new inbound connection
type AcceptFunc func(conn IConnection)

// IServerTransport accepts side-channel connections
type IServerTransport interface {
	// RegisterAcceptHandler registers the handler for new connections. Must be called before Listen
	RegisterAcceptHandler(handler AcceptFunc)
	// Listen accepts connections until Close is called. It returns nil after Close
	Listen(config common.ServerConfig) error
	// Close stops listening and closes all connections accepted by the transport
	Close() error
}
