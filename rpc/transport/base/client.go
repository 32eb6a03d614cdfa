//go:build unix

package base

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/memcon/rpc/transport"
)

var clientIDs atomic.Uint64

// NewClientConnection wraps a connected packet socket. The connection owns its reactor, which stops
// when the connection stops reading
func NewClientConnection(conn PacketConn, sendTimeout time.Duration) transport.IConnection {
	return newConnection(clientIDs.Add(1), conn, newReactor(), true, sendTimeout, nil)
}
