package server

import (
	"fmt"

	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/sidechannel"
	"github.com/pkg/errors"
)

// environment holds what receivers share with their server
type environment struct {
	engine      logic.ILogicServer
	memory      memory.IMemoryManager
	slots       memory.IRegion
	slotConfig  memory.SlotConfiguration
	queueConfig memory.QueueConfiguration
	metrics     *serverMetrics
}

// receiver runs the protocol state machine of one receiver. It is not safe for concurrent use, the
// server calls it with its lock held
type receiver struct {
	id            ReceiverId
	class         logic.ClassHandle
	env           *environment
	channel       *sidechannel.ServerSideChannel
	deliveryQueue memory.IRegion
	state         receiverState
}

func newReceiver(id ReceiverId, class logic.ClassHandle, env *environment, channel *sidechannel.ServerSideChannel, deliveryQueue memory.IRegion) *receiver {
	return &receiver{
		id:            id,
		class:         class,
		env:           env,
		channel:       channel,
		deliveryQueue: deliveryQueue,
		state:         stateConnecting{},
	}
}

// status returns the current state and its cause
func (r *receiver) status() ReceiverStatus {
	switch s := r.state.(type) {
	case stateConnecting:
		return ReceiverStatus{State: ReceiverConnecting}
	case stateConnected:
		return ReceiverStatus{State: ReceiverConnected}
	case stateCorrupted:
		return ReceiverStatus{State: ReceiverCorrupted, Cause: s.cause}
	case stateDisconnected:
		return ReceiverStatus{State: ReceiverDisconnected, Cause: s.cause}
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
}

// --------------------------------------------------------------------------
// API Events
// --------------------------------------------------------------------------

// connect starts receiving and sends the connection request
func (r *receiver) connect(callbacks sidechannel.Callbacks) error {
	switch s := r.state.(type) {
	case stateConnecting:
		if s.requested {
			return errors.Wrapf(common.ErrUnexpectedReceiverState, "receiver %s is already connecting", r.id)
		}
	case stateConnected, stateCorrupted, stateDisconnected:
		return errors.Wrapf(common.ErrUnexpectedReceiverState, "receiver %s is %s", r.id, r.state.kind())
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}

	if err := r.channel.Start(callbacks); err != nil {
		r.corrupt(err)
		return err
	}

	slotHandle, err := r.env.slots.ExchangeHandle()
	if err != nil {
		err = errors.Wrapf(common.ErrResource, "slot memory handle: %v", err)
		r.corrupt(err)
		return err
	}
	defer closeHandle(slotHandle)

	queueHandle, err := r.deliveryQueue.ExchangeHandle()
	if err != nil {
		err = errors.Wrapf(common.ErrResource, "queue memory handle: %v", err)
		r.corrupt(err)
		return err
	}
	defer closeHandle(queueHandle)

	if err := r.channel.SendConnectionRequest(r.env.slotConfig, slotHandle, r.env.queueConfig, queueHandle); err != nil {
		r.corrupt(err)
		return err
	}

	r.state = stateConnecting{requested: true}
	return nil
}

// terminate disconnects the receiver forcefully. Communication failures are ignored
func (r *receiver) terminate(reason string) error {
	switch s := r.state.(type) {
	case stateConnecting:
		r.channel.SendTerminationBestEffort(reason)
		r.disconnect(nil, nil)
	case stateConnected:
		r.channel.SendTerminationBestEffort(reason)
		r.disconnect(s.reg, nil)
	case stateCorrupted:
		r.channel.SendTerminationBestEffort(reason)
		r.disconnect(s.reg, s.cause)
	case stateDisconnected:
		return errors.Wrapf(common.ErrUnexpectedReceiverState, "receiver %s is already disconnected", r.id)
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
	return nil
}

// handleServerShutdown disconnects the receiver because the server shuts down. It reports whether the
// receiver was or became corrupted
func (r *receiver) handleServerShutdown() bool {
	if s, ok := r.state.(stateConnected); ok && r.env.engine.DetectCorruption(s.reg.handle) {
		r.corrupt(common.ErrLogicCorruption)
	}

	switch s := r.state.(type) {
	case stateConnecting:
		r.channel.SendShutdownBestEffort()
		r.disconnect(nil, nil)
	case stateConnected:
		r.channel.SendShutdownBestEffort()
		r.disconnect(s.reg, nil)
	case stateCorrupted:
		r.channel.SendShutdownBestEffort()
		r.disconnect(s.reg, s.cause)
		return true
	case stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
	return false
}

// notifyNewSlotSent sends a notification if the receiver listens and its class got the slot.
// A dropped notification leaves the state untouched, any other failure corrupts the receiver
func (r *receiver) notifyNewSlotSent(dropped *logic.DroppedInformation) error {
	switch s := r.state.(type) {
	case stateConnected:
		if !s.notified || dropped.Contains(r.class) {
			return nil
		}
	case stateConnecting, stateCorrupted, stateDisconnected:
		return nil
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}

	err := r.channel.SendNotification()
	switch {
	case err == nil:
		r.env.metrics.notificationsSent.Inc()
	case errors.Is(err, common.ErrDroppedNotification):
		r.env.metrics.notificationsDropped.Inc()
	default:
		r.corrupt(err)
	}
	return err
}

// checkAndHandleLogicCorruption corrupts a connected receiver the logic engine caught misbehaving
func (r *receiver) checkAndHandleLogicCorruption() bool {
	switch s := r.state.(type) {
	case stateConnected:
		if r.env.engine.DetectCorruption(s.reg.handle) {
			r.corrupt(common.ErrLogicCorruption)
			return true
		}
	case stateConnecting, stateCorrupted, stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
	return false
}

// isInUse reports whether a side-channel callback can still run for this receiver
func (r *receiver) isInUse() bool {
	return r.channel.IsInUse()
}

// destroy releases the memory owned by a disconnected receiver
func (r *receiver) destroy() {
	if err := r.deliveryQueue.Close(); err != nil {
		Logger.Warningf("Failed to release delivery queue of receiver %s: %v", r.id, err)
	}
}

// --------------------------------------------------------------------------
// Peer Events
// --------------------------------------------------------------------------

func (r *receiver) onAckConnection(config memory.QueueConfiguration, handle memory.IExchangeHandle) {
	defer closeHandle(handle)

	switch s := r.state.(type) {
	case stateConnecting:
		if !s.requested {
			r.corrupt(errors.Wrap(common.ErrProtocol, "AckConnection before connection request"))
			return
		}
	case stateConnected:
		r.corrupt(errors.Wrap(common.ErrProtocol, "duplicate AckConnection"))
		return
	case stateCorrupted, stateDisconnected:
		return
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}

	if config != r.env.queueConfig {
		r.corrupt(errors.Wrapf(common.ErrProtocol, "receiver queue has %d elements, expected %d",
			config.NumberOfElements, r.env.queueConfig.NumberOfElements))
		return
	}

	returnQueue, err := r.env.memory.Map(handle, config.Size(), false)
	if err != nil {
		r.corrupt(errors.Wrapf(common.ErrResource, "failed to map receiver queue: %v", err))
		return
	}

	handleID, err := r.env.engine.RegisterReceiver(r.class, logic.ReceiverQueues{Delivery: r.deliveryQueue, Return: returnQueue})
	if err != nil {
		closeRegion(returnQueue)
		r.corrupt(errors.Wrapf(common.ErrResource, "failed to register receiver: %v", err))
		return
	}
	reg := &registration{handle: handleID, returnQueue: returnQueue}

	if err := r.channel.SendAckQueueInitialization(); err != nil {
		r.release(reg)
		r.corrupt(err)
		return
	}

	r.state = stateConnected{reg: reg}
}

func (r *receiver) onStartListening() {
	switch s := r.state.(type) {
	case stateConnecting:
		r.corrupt(errors.Wrap(common.ErrProtocol, "StartListening before the connection is established"))
	case stateConnected:
		if s.notified {
			r.corrupt(errors.Wrap(common.ErrProtocol, "StartListening while already listening"))
			return
		}
		r.state = stateConnected{reg: s.reg, notified: true}
	case stateCorrupted, stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
}

func (r *receiver) onStopListening() {
	switch s := r.state.(type) {
	case stateConnecting:
		r.corrupt(errors.Wrap(common.ErrProtocol, "StopListening before the connection is established"))
	case stateConnected:
		if !s.notified {
			r.corrupt(errors.Wrap(common.ErrProtocol, "StopListening while not listening"))
			return
		}
		r.state = stateConnected{reg: s.reg, notified: false}
	case stateCorrupted, stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
}

func (r *receiver) onShutdown() {
	switch s := r.state.(type) {
	case stateConnecting:
		r.disconnect(nil, nil)
	case stateConnected:
		r.disconnect(s.reg, nil)
	case stateCorrupted, stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
}

func (r *receiver) onTermination(reason string) {
	switch r.state.(type) {
	case stateConnecting, stateConnected:
		r.corrupt(errors.Wrapf(common.ErrProtocol, "receiver terminated the connection: %s", reason))
	case stateCorrupted, stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
}

func (r *receiver) onError(err error) {
	switch r.state.(type) {
	case stateConnecting, stateConnected:
		r.corrupt(err)
	case stateCorrupted, stateDisconnected:
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// corrupt moves a Connecting or Connected receiver to Corrupted. A registered receiver is suspended in
// the logic engine, the registration itself is kept until the receiver is disconnected
func (r *receiver) corrupt(cause error) {
	switch s := r.state.(type) {
	case stateConnecting:
		r.state = stateCorrupted{cause: cause}
	case stateConnected:
		if err := r.env.engine.SuspendReceiver(s.reg.handle); err != nil {
			Logger.Warningf("Failed to suspend receiver %s: %v", r.id, err)
		}
		r.state = stateCorrupted{cause: cause, reg: s.reg}
	case stateCorrupted, stateDisconnected:
		return
	default:
		panic(fmt.Sprintf("receiver %s: unknown state %T", r.id, r.state))
	}
	Logger.Warningf("Receiver %s corrupted: %v", r.id, cause)
}

// disconnect releases the registration, closes the side channel and enters Disconnected
func (r *receiver) disconnect(reg *registration, cause error) {
	r.release(reg)
	if err := r.channel.Close(); err != nil {
		Logger.Debugf("Failed to close side channel of receiver %s: %v", r.id, err)
	}
	r.state = stateDisconnected{cause: cause}
}

// release deregisters the receiver from the logic engine and unmaps its queue
func (r *receiver) release(reg *registration) {
	if reg == nil {
		return
	}
	if err := r.env.engine.DeregisterReceiver(reg.handle); err != nil {
		Logger.Warningf("Failed to deregister receiver %s: %v", r.id, err)
	}
	closeRegion(reg.returnQueue)
}

func closeHandle(handle memory.IExchangeHandle) {
	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		Logger.Warningf("Failed to close memory handle: %v", err)
	}
}

func closeRegion(region memory.IRegion) {
	if err := region.Close(); err != nil {
		Logger.Warningf("Failed to unmap region: %v", err)
	}
}
