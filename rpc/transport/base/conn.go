//go:build unix

package base

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/pkg/errors"
)

// connection implements transport.IConnection on top of a packet socket.
// One reader goroutine per connection feeds the reactor of the owning transport
type connection struct {
	id          uint64
	conn        PacketConn
	reactor     *reactor
	ownReactor  bool // the reactor belongs to this connection alone (client side)
	sendTimeout time.Duration
	onClose     func(c *connection)

	writeMu  sync.Mutex
	callback transport.ReceiveFunc

	started atomic.Bool
	closed  atomic.Bool
	reading atomic.Bool
	pending atomic.Int32 // events pushed but not yet dispatched
}

func newConnection(id uint64, conn PacketConn, r *reactor, ownReactor bool, sendTimeout time.Duration, onClose func(*connection)) *connection {
	return &connection{
		id:          id,
		conn:        conn,
		reactor:     r,
		ownReactor:  ownReactor,
		sendTimeout: sendTimeout,
		onClose:     onClose,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *connection) Send(msg []byte, handle memory.IExchangeHandle) error {
	if c.closed.Load() {
		return errors.WithMessage(common.ErrPeerDisconnected, "connection closed")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.sendTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
			return mapError(err)
		}
	}
	return writePacket(c.conn, msg, handle)
}

func (c *connection) SetReceiveCallback(fn transport.ReceiveFunc) {
	if c.closed.Load() || !c.started.CompareAndSwap(false, true) {
		Logger.Warningf("Receive callback of connection %d set twice or after close, ignoring", c.id)
		return
	}

	c.callback = fn
	c.reading.Store(true)
	go c.readLoop()
}

func (c *connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// a reactor nobody reads for would never be closed by the reader
	if c.ownReactor && c.started.CompareAndSwap(false, true) {
		c.reactor.close()
	}

	err := c.conn.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
	if err != nil {
		return fmt.Errorf("failed to close connection %d: %v", c.id, err)
	}
	return nil
}

func (c *connection) IsInUse() bool {
	return c.reading.Load() || c.pending.Load() > 0
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readLoop reads packets until the first error or until the connection is closed
func (c *connection) readLoop() {
	defer func() {
		c.reading.Store(false)
		if c.ownReactor {
			c.reactor.close()
		}
	}()

	buf := make([]byte, MaxPacketSize)
	oob := make([]byte, oobSize())

	for {
		msg, handle, err := readPacket(c.conn, buf, oob)

		if c.closed.Load() {
			if handle != nil {
				_ = handle.Close()
			}
			return
		}

		c.pending.Add(1)
		if !c.reactor.push(event{conn: c, msg: msg, handle: handle, err: err}) {
			c.pending.Add(-1)
			if handle != nil {
				_ = handle.Close()
			}
			return
		}

		if err != nil {
			Logger.Debugf("Connection %d stopped reading: %v", c.id, err)
			return
		}
	}
}

// dispatch runs on the reactor goroutine
func (c *connection) dispatch(ev event) {
	defer c.pending.Add(-1)

	if c.closed.Load() {
		if ev.handle != nil {
			_ = ev.handle.Close()
		}
		return
	}
	c.callback(ev.msg, ev.handle, ev.err)
}
