//go:build unix

package base

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener whose accepted connections implement PacketConn
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector   IServerConnector
	handler     transport.AcceptFunc
	reactor     *reactor
	connections *xsync.MapOf[uint64, *connection]
	nextID      atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for unix)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport. All accepted connections share one reactor
func NewBaseServerTransport(connector IServerConnector) transport.IServerTransport {
	return &serverTransport{
		connector:   connector,
		reactor:     newReactor(),
		connections: xsync.NewMapOf[uint64, *connection](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterAcceptHandler(handler transport.AcceptFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.Wrap(common.ErrInvalidArgument, "no accept handler registered")
	}

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s side channel on %s (send timeout %s)",
		t.connector.GetName(), config.Endpoint, config.SendTimeout)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		pc, ok := conn.(PacketConn)
		if !ok {
			Logger.Errorf("%s listener accepted a connection without packet support", t.connector.GetName())
			_ = conn.Close()
			continue
		}

		c := t.register(pc, config.SendTimeout)
		if c == nil {
			return nil
		}
		t.handler(c)
	}
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener := t.listener
	t.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}

	t.connections.Range(func(_ uint64, c *connection) bool {
		_ = c.Close()
		return true
	})

	// queued events of closed connections are dropped by dispatch
	t.reactor.close()

	if err != nil {
		return fmt.Errorf("failed to close listener: %v", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// register wraps an accepted socket. It returns nil if the transport was closed meanwhile
func (t *serverTransport) register(pc PacketConn, sendTimeout time.Duration) *connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		_ = pc.Close()
		return nil
	}

	id := t.nextID.Add(1)
	c := newConnection(id, pc, t.reactor, false, sendTimeout, func(c *connection) {
		t.connections.Delete(c.id)
	})
	t.connections.Store(id, c)
	Logger.Debugf("Accepted %s connection %d", t.connector.GetName(), id)
	return c
}
