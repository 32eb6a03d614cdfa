package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/memcon/lib/logic/local"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("client")

// ErrTerminated is reported when the server terminated the connection
var ErrTerminated = errors.New("terminated by server")

// phase of the receiver side handshake
type phase uint8

const (
	phaseAwaitSlots phase = iota
	phaseAwaitQueue
	phaseAwaitAck
	phaseReady
	phaseDone
)

// Receiver is the receiving end of a MemCon connection. It maps the slot memory and the delivery queue
// the server offers, provides its own return queue and hands the delivered slots to Poll
type Receiver struct {
	conn       transport.IConnection
	serializer serializer.IMessageSerializer
	memory     memory.IMemoryManager

	mu             sync.Mutex
	phase          phase
	slotConfig     memory.SlotConfiguration
	slots          memory.IRegion
	deliveryRegion memory.IRegion
	delivery       *local.Queue
	returnRegion   memory.IRegion
	returns        *local.Queue
	listening      bool
	err            error

	ready         chan struct{}
	done          chan struct{}
	notifications chan struct{}
}

// NewReceiver creates a receiver on a connected side channel. Start begins the handshake
func NewReceiver(conn transport.IConnection, s serializer.IMessageSerializer, mm memory.IMemoryManager) *Receiver {
	return &Receiver{
		conn:          conn,
		serializer:    s,
		memory:        mm,
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
		notifications: make(chan struct{}, 1),
	}
}

// Start starts receiving the connection request of the server
func (r *Receiver) Start() {
	r.conn.SetReceiveCallback(r.receive)
}

// WaitReady blocks until the handshake completed, the connection ended or ctx is done
func (r *Receiver) WaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-r.done:
		if err := r.Err(); err != nil {
			return err
		}
		return errors.WithMessage(common.ErrPeerDisconnected, "connection closed during handshake")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartListening asks the server for notifications about new slots
func (r *Receiver) StartListening() error {
	return r.setListening(true)
}

// StopListening stops the notifications
func (r *Receiver) StopListening() error {
	return r.setListening(false)
}

// Notifications is signalled for every notification of the server. Signals are coalesced
func (r *Receiver) Notifications() <-chan struct{} {
	return r.notifications
}

// Done is closed when the connection ended
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Err returns why the connection ended. It is nil while connected and after an orderly shutdown by the server
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Poll hands every delivered slot to fn and returns it to the server afterwards. content must not be
// used after fn returned. Poll must not be called concurrently
func (r *Receiver) Poll(fn func(index uint32, content []byte)) (int, error) {
	r.mu.Lock()
	if r.phase != phaseReady {
		r.mu.Unlock()
		return 0, errors.Wrap(common.ErrUnexpectedState, "receiver is not connected")
	}
	delivery, returns, slots, cfg := r.delivery, r.returns, r.slots.Bytes(), r.slotConfig
	r.mu.Unlock()

	n := 0
	for {
		index, ok := delivery.Pop()
		if !ok {
			return n, nil
		}
		if index >= cfg.NumberOfSlots {
			return n, errors.Wrapf(common.ErrProtocol, "server delivered slot %d of %d", index, cfg.NumberOfSlots)
		}

		offset := cfg.Offset(index)
		fn(index, slots[offset:offset+int(cfg.SlotContentSize)])
		n++

		if !returns.Push(index) {
			return n, errors.Wrapf(common.ErrProtocol, "return queue full, slot %d not returned", index)
		}
	}
}

// Shutdown tells the server that the receiver leaves and closes the side channel
func (r *Receiver) Shutdown() error {
	err := r.send(common.NewShutdown(), nil)
	r.finish(nil)
	return err
}

// Close closes the side channel and unmaps all memory. The receiver must not be used afterwards
func (r *Receiver) Close() error {
	r.finish(nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, region := range []memory.IRegion{r.slots, r.deliveryRegion, r.returnRegion} {
		if region != nil {
			if err := region.Close(); err != nil {
				Logger.Warningf("Failed to unmap region: %v", err)
			}
		}
	}
	r.slots, r.deliveryRegion, r.returnRegion = nil, nil, nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (r *Receiver) setListening(listening bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != phaseReady {
		return errors.Wrap(common.ErrUnexpectedState, "receiver is not connected")
	}
	if r.listening == listening {
		return nil
	}

	msg := common.NewStopListening()
	if listening {
		msg = common.NewStartListening()
	}
	// the flag follows what the server was told
	if err := r.send(msg, nil); err != nil {
		return err
	}
	r.listening = listening
	return nil
}

func (r *Receiver) send(msg *common.Message, handle memory.IExchangeHandle) error {
	b, err := r.serializer.Serialize(*msg)
	if err != nil {
		return errors.Wrapf(common.ErrProtocol, "failed to encode %s: %v", msg.MsgType, err)
	}
	return r.conn.Send(b, handle)
}

// receive is the transport callback
func (r *Receiver) receive(b []byte, handle memory.IExchangeHandle, err error) {
	defer func() {
		if handle != nil {
			_ = handle.Close()
		}
	}()

	if err != nil {
		r.finish(err)
		return
	}

	var msg common.Message
	if err := r.serializer.Deserialize(b, &msg); err != nil {
		r.fail(errors.Wrapf(common.ErrProtocol, "failed to decode message: %v", err))
		return
	}
	Logger.Debugf("Received %s", msg)

	if err := r.handle(&msg, handle); err != nil {
		r.fail(err)
	}
}

// handle processes one message. Mapped handles stay owned by the caller
func (r *Receiver) handle(msg *common.Message, handle memory.IExchangeHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == phaseDone {
		return nil
	}

	switch msg.MsgType {
	case common.MsgTConnectionRequestSlot:
		if r.phase != phaseAwaitSlots || msg.Slots == nil || handle == nil {
			return errors.Wrap(common.ErrProtocol, "unexpected slot half of the connection request")
		}
		slots, err := r.memory.Map(handle, msg.Slots.Size(), true)
		if err != nil {
			return errors.Wrapf(common.ErrResource, "failed to map slot memory: %v", err)
		}
		r.slots, r.slotConfig, r.phase = slots, *msg.Slots, phaseAwaitQueue

	case common.MsgTConnectionRequestQueue:
		if r.phase != phaseAwaitQueue || msg.Queue == nil || handle == nil {
			return errors.Wrap(common.ErrProtocol, "unexpected queue half of the connection request")
		}
		return r.acceptQueue(*msg.Queue, handle)

	case common.MsgTAckQueueInitialization:
		if r.phase != phaseAwaitAck {
			return errors.Wrap(common.ErrProtocol, "unexpected AckQueueInitialization")
		}
		r.phase = phaseReady
		close(r.ready)
		Logger.Infof("Connected, %d slots of %d bytes", r.slotConfig.NumberOfSlots, r.slotConfig.SlotContentSize)

	case common.MsgTNotification:
		if r.phase != phaseReady {
			return errors.Wrap(common.ErrProtocol, "notification before the connection is established")
		}
		select {
		case r.notifications <- struct{}{}:
		default:
		}

	case common.MsgTShutdown:
		Logger.Infof("Server shut down the connection")
		r.finishLocked(nil)

	case common.MsgTTermination:
		r.finishLocked(errors.Wrapf(ErrTerminated, "%s", msg.Reason))

	default:
		return errors.Wrapf(common.ErrProtocol, "unexpected message %s", msg.MsgType)
	}
	return nil
}

// acceptQueue maps the delivery queue, allocates the return queue and acknowledges the connection
func (r *Receiver) acceptQueue(config memory.QueueConfiguration, handle memory.IExchangeHandle) error {
	deliveryRegion, err := r.memory.Map(handle, config.Size(), false)
	if err != nil {
		return errors.Wrapf(common.ErrResource, "failed to map delivery queue: %v", err)
	}
	delivery, err := local.NewQueue(deliveryRegion.Bytes(), config)
	if err != nil {
		_ = deliveryRegion.Close()
		return errors.Wrapf(common.ErrProtocol, "invalid delivery queue: %v", err)
	}

	returnRegion, err := r.memory.Allocate("memcon-return", config.Size())
	if err != nil {
		_ = deliveryRegion.Close()
		return errors.Wrapf(common.ErrResource, "failed to allocate return queue: %v", err)
	}
	returns, err := local.NewQueue(returnRegion.Bytes(), config)
	if err != nil {
		_ = deliveryRegion.Close()
		_ = returnRegion.Close()
		return errors.Wrapf(common.ErrResource, "invalid return queue: %v", err)
	}

	r.deliveryRegion, r.delivery = deliveryRegion, delivery
	r.returnRegion, r.returns = returnRegion, returns

	returnHandle, err := returnRegion.ExchangeHandle()
	if err != nil {
		return errors.Wrapf(common.ErrResource, "return queue handle: %v", err)
	}
	defer returnHandle.Close()

	if err := r.send(common.NewAckConnection(config), returnHandle); err != nil {
		return err
	}
	r.phase = phaseAwaitAck
	return nil
}

// fail terminates the connection after a protocol violation of the server
func (r *Receiver) fail(err error) {
	Logger.Warningf("Terminating connection: %v", err)
	if sendErr := r.send(common.NewTermination(err.Error()), nil); sendErr != nil {
		Logger.Debugf("Ignoring failed termination message: %v", sendErr)
	}
	r.finish(err)
}

func (r *Receiver) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(err)
}

func (r *Receiver) finishLocked(err error) {
	if r.phase == phaseDone {
		return
	}
	r.phase = phaseDone
	r.err = err
	if closeErr := r.conn.Close(); closeErr != nil {
		Logger.Debugf("Failed to close side channel: %v", closeErr)
	}
	close(r.done)
}
