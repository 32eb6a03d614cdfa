package sidechannel

import (
	"sync/atomic"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("sidechannel")

// Callbacks receives the decoded inbound messages of a side channel. All callbacks are called from the
// reactor goroutine of the transport. Exchange handles passed to a callback are owned by the callee
type Callbacks struct {
	OnAckConnection  func(config memory.QueueConfiguration, handle memory.IExchangeHandle)
	OnStartListening func()
	OnStopListening  func()
	OnShutdown       func()
	OnTermination    func(reason string)
	// OnError is called for transport errors and protocol violations. No further callback follows a
	// transport error
	OnError func(err error)
}

// ServerSideChannel is the server end of one receiver's side channel
type ServerSideChannel struct {
	conn       transport.IConnection
	serializer serializer.IMessageSerializer
	callbacks  Callbacks

	started atomic.Bool
	closed  atomic.Bool
	inUse   atomic.Int32
}

// NewServerSideChannel wraps conn. Receiving starts with Start
func NewServerSideChannel(conn transport.IConnection, s serializer.IMessageSerializer) *ServerSideChannel {
	return &ServerSideChannel{conn: conn, serializer: s}
}

// Start installs the callbacks and starts receiving. It can be called once
func (c *ServerSideChannel) Start(callbacks Callbacks) error {
	if c.closed.Load() {
		return errors.WithMessage(common.ErrPeerDisconnected, "side channel closed")
	}
	if !c.started.CompareAndSwap(false, true) {
		return errors.Wrap(common.ErrUnexpectedState, "side channel already started")
	}

	c.callbacks = callbacks
	c.conn.SetReceiveCallback(c.receive)
	return nil
}

// --------------------------------------------------------------------------
// Outgoing Messages
// --------------------------------------------------------------------------

// SendConnectionRequest sends both halves of the connection request: the slot configuration with the
// slot memory handle, then the queue configuration with the delivery queue handle
func (c *ServerSideChannel) SendConnectionRequest(
	slots memory.SlotConfiguration, slotHandle memory.IExchangeHandle,
	queue memory.QueueConfiguration, queueHandle memory.IExchangeHandle,
) error {
	if err := c.send(common.NewConnectionRequestSlot(slots), slotHandle); err != nil {
		return err
	}
	return c.send(common.NewConnectionRequestQueue(queue), queueHandle)
}

// SendAckQueueInitialization confirms that the receiver's queue is mapped and the receiver registered
func (c *ServerSideChannel) SendAckQueueInitialization() error {
	return c.send(common.NewAckQueueInitialization(), nil)
}

// SendNotification tells the receiver that a new slot is available. If the message can not be sent
// without waiting, common.ErrDroppedNotification is returned
func (c *ServerSideChannel) SendNotification() error {
	return c.send(common.NewNotification(), nil)
}

// SendShutdown announces an orderly disconnect
func (c *ServerSideChannel) SendShutdown() error {
	return c.send(common.NewShutdown(), nil)
}

// SendTermination announces a forceful disconnect
func (c *ServerSideChannel) SendTermination(reason string) error {
	return c.send(common.NewTermination(reason), nil)
}

// SendShutdownBestEffort sends Shutdown and only logs a failure
func (c *ServerSideChannel) SendShutdownBestEffort() {
	if err := c.SendShutdown(); err != nil {
		Logger.Debugf("Ignoring failed shutdown message: %v", err)
	}
}

// SendTerminationBestEffort sends Termination and only logs a failure
func (c *ServerSideChannel) SendTerminationBestEffort(reason string) {
	if err := c.SendTermination(reason); err != nil {
		Logger.Debugf("Ignoring failed termination message: %v", err)
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close closes the channel and the underlying connection. Closing twice is a no-op
func (c *ServerSideChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// IsClosed reports whether Close was called
func (c *ServerSideChannel) IsClosed() bool {
	return c.closed.Load()
}

// IsInUse reports whether a callback is running or the transport can still start one
func (c *ServerSideChannel) IsInUse() bool {
	return c.inUse.Load() > 0 || c.conn.IsInUse()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *ServerSideChannel) send(msg *common.Message, handle memory.IExchangeHandle) error {
	if c.closed.Load() {
		return errors.WithMessage(common.ErrPeerDisconnected, "side channel closed")
	}

	b, err := c.serializer.Serialize(*msg)
	if err != nil {
		return errors.Wrapf(common.ErrProtocol, "failed to encode %s: %v", msg.MsgType, err)
	}

	err = c.conn.Send(b, handle)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrWouldBlock) && msg.MsgType == common.MsgTNotification:
		return common.ErrDroppedNotification
	case errors.Is(err, transport.ErrWouldBlock):
		// only notifications may be dropped, a stalled handshake or teardown is a protocol failure
		return errors.Wrapf(common.ErrProtocol, "receiver does not read, %s not sent", msg.MsgType)
	default:
		return err
	}
}

// receive is the transport callback
func (c *ServerSideChannel) receive(b []byte, handle memory.IExchangeHandle, err error) {
	c.inUse.Add(1)
	defer c.inUse.Add(-1)

	if c.closed.Load() {
		closeHandle(handle)
		return
	}

	if err != nil {
		c.callbacks.OnError(err)
		return
	}

	var msg common.Message
	if err := c.serializer.Deserialize(b, &msg); err != nil {
		closeHandle(handle)
		c.callbacks.OnError(errors.Wrapf(common.ErrProtocol, "failed to decode message: %v", err))
		return
	}

	Logger.Debugf("Received %s", msg)

	if handle != nil && msg.MsgType != common.MsgTAckConnection {
		closeHandle(handle)
		c.callbacks.OnError(errors.Wrapf(common.ErrProtocol, "%s must not carry a memory handle", msg.MsgType))
		return
	}

	switch msg.MsgType {
	case common.MsgTAckConnection:
		if handle == nil || msg.Queue == nil {
			closeHandle(handle)
			c.callbacks.OnError(errors.Wrap(common.ErrProtocol, "AckConnection without queue configuration or memory handle"))
			return
		}
		c.callbacks.OnAckConnection(*msg.Queue, handle)
	case common.MsgTStartListening:
		c.callbacks.OnStartListening()
	case common.MsgTStopListening:
		c.callbacks.OnStopListening()
	case common.MsgTShutdown:
		c.callbacks.OnShutdown()
	case common.MsgTTermination:
		c.callbacks.OnTermination(msg.Reason)
	default:
		c.callbacks.OnError(errors.Wrapf(common.ErrProtocol, "unexpected message %s", msg.MsgType))
	}
}

func closeHandle(handle memory.IExchangeHandle) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		Logger.Warningf("Failed to close memory handle: %v", err)
	}
}
