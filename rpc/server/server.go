package server

import (
	"sync"

	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/ValentinKolb/memcon/rpc/sidechannel"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("server")

// Server publishes slots of one shared memory region to its receivers.
// All methods are safe for concurrent use, they are serialized by one mutex
type Server struct {
	mu sync.Mutex

	config       common.ServerConfig
	instance     uuid.UUID
	env          *environment
	serializer   serializer.IMessageSerializer
	onTransition OnReceiverStateTransitionCallback

	receivers []*receiver
	nextID    uint64
	state     ServerState
	closed    bool
}

// NewServer allocates the slot memory and creates the logic engine with factory.
// onTransition may be nil
//
// Usage:
//
//	s, err := server.NewServer(
//		config,
//		memory.NewMemfdManager(),
//		local.New,
//		serializer.NewBinarySerializer(),
//		func(id server.ReceiverId, state server.ReceiverState, cause error) { ... },
//	)
func NewServer(
	config common.ServerConfig,
	mm memory.IMemoryManager,
	factory logic.Factory,
	s serializer.IMessageSerializer,
	onTransition OnReceiverStateTransitionCallback,
) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "invalid configuration: %v", err)
	}

	instance := uuid.New()
	slotConfig := config.SlotConfiguration()

	slots, err := mm.Allocate("memcon-slots-"+instance.String(), slotConfig.Size())
	if err != nil {
		return nil, errors.Wrapf(common.ErrResource, "failed to allocate slot memory: %v", err)
	}

	engine, err := factory(slots, config.LogicConfiguration())
	if err != nil {
		closeRegion(slots)
		return nil, errors.Wrapf(common.ErrInvalidArgument, "failed to create logic engine: %v", err)
	}

	srv := &Server{
		config:   config,
		instance: instance,
		env: &environment{
			engine:      engine,
			memory:      mm,
			slots:       slots,
			slotConfig:  slotConfig,
			queueConfig: config.QueueConfiguration(),
			metrics:     newServerMetrics(config.Group),
		},
		serializer:   s,
		onTransition: onTransition,
		receivers:    make([]*receiver, config.MaxReceivers),
		state:        ServerConnected,
	}
	srv.env.metrics.registerGauges(srv)

	Logger.Infof("Created MemCon server %s", instance)
	Logger.Infof(config.String())

	return srv, nil
}

// --------------------------------------------------------------------------
// Receiver Management
// --------------------------------------------------------------------------

// AddReceiver adds a receiver of class that talks to the server through conn. The receiver starts in
// Connecting, ConnectReceiver sends the connection request
func (s *Server) AddReceiver(class logic.ClassHandle, conn transport.IConnection) (ReceiverId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return ReceiverId{}, errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	if int(class) >= s.env.engine.ClassCount() {
		return ReceiverId{}, errors.Wrapf(common.ErrInvalidArgument, "unknown receiver class %d", class)
	}

	index := s.freeIndex()
	if index < 0 {
		return ReceiverId{}, errors.Wrapf(common.ErrCapacity, "all %d receiver places are taken", len(s.receivers))
	}

	s.nextID++
	id := ReceiverId{Group: s.config.Group, ID: s.nextID, Index: index}

	deliveryQueue, err := s.env.memory.Allocate("memcon-queue-"+s.instance.String()+"-"+id.String(), s.env.queueConfig.Size())
	if err != nil {
		return ReceiverId{}, errors.Wrapf(common.ErrResource, "failed to allocate queue memory: %v", err)
	}

	s.receivers[index] = newReceiver(id, class, s.env, sidechannel.NewServerSideChannel(conn, s.serializer), deliveryQueue)
	s.env.metrics.receiversAdded.Inc()

	Logger.Infof("Added receiver %s", id)
	return id, nil
}

// CanAddReceiver reports whether AddReceiver would find a free place
func (s *Server) CanAddReceiver() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return false, errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	return s.freeIndex() >= 0, nil
}

// ConnectReceiver starts the handshake of a Connecting receiver. It must be called once per receiver
func (s *Server) ConnectReceiver(id ReceiverId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	r, err := s.lookup(id)
	if err != nil {
		return err
	}

	before := r.status()
	err = r.connect(s.callbacks(id))
	s.observe(id, before, r.status())
	return err
}

// GetReceiverState returns a snapshot of the receiver's state
func (s *Server) GetReceiverState(id ReceiverId) (ReceiverStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(id)
	if err != nil {
		return ReceiverStatus{}, err
	}
	return r.status(), nil
}

// TerminateReceiver disconnects the receiver forcefully. Failures to inform the peer are ignored
func (s *Server) TerminateReceiver(id ReceiverId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	r, err := s.lookup(id)
	if err != nil {
		return err
	}

	before := r.status()
	err = r.terminate("terminated by server")
	s.observe(id, before, r.status())
	return err
}

// IsReceiverInUse reports whether a callback can still run for a Disconnected receiver
func (s *Server) IsReceiverInUse(id ReceiverId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(id)
	if err != nil {
		return false, err
	}
	if state := r.status().State; state != ReceiverDisconnected {
		return false, errors.Wrapf(common.ErrUnexpectedState, "receiver %s is %s", id, state)
	}
	return r.isInUse(), nil
}

// RemoveReceiver frees the place of a Disconnected receiver that is no longer in use. The id is invalid
// afterwards
func (s *Server) RemoveReceiver(id ReceiverId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(id)
	if err != nil {
		return err
	}
	if state := r.status().State; state != ReceiverDisconnected {
		return errors.Wrapf(common.ErrUnexpectedState, "receiver %s is %s", id, state)
	}
	if r.isInUse() {
		return errors.Wrapf(common.ErrUnexpectedState, "receiver %s is still in use", id)
	}

	r.destroy()
	s.receivers[id.Index] = nil
	s.env.metrics.receiversRemoved.Inc()

	Logger.Infof("Removed receiver %s", id)
	return nil
}

// ReceiverClass returns the handle of the receiver class with the given name
func (s *Server) ReceiverClass(name string) (logic.ClassHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	class, err := s.env.engine.ClassHandle(name)
	if err != nil {
		return 0, errors.Wrapf(common.ErrInvalidArgument, "%v", err)
	}
	return class, nil
}

// ReceiverIds returns the ids of all receivers in the receiver table
func (s *Server) ReceiverIds() []ReceiverId {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]ReceiverId, 0, len(s.receivers))
	for _, r := range s.receivers {
		if r != nil {
			ids = append(ids, r.id)
		}
	}
	return ids
}

// --------------------------------------------------------------------------
// Server Lifecycle
// --------------------------------------------------------------------------

// Shutdown disconnects all receivers and the server. All slot tokens must have been returned.
// common.ErrReceiverError is returned if a receiver was or became corrupted, the receivers can still
// be inspected with GetReceiverState
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server is already disconnected")
	}
	if n := s.env.engine.OutstandingTokens(); n > 0 {
		return errors.Wrapf(common.ErrUnexpectedState, "%d slot tokens are still acquired", n)
	}

	corrupted := 0
	for _, r := range s.receivers {
		if r == nil {
			continue
		}
		before := r.status()
		if r.handleServerShutdown() {
			corrupted++
		}
		s.observe(r.id, before, r.status())
	}
	s.state = ServerDisconnected

	Logger.Infof("Server %s shut down", s.instance)
	if corrupted > 0 {
		return errors.Wrapf(common.ErrReceiverError, "%d receivers were corrupted", corrupted)
	}
	return nil
}

// State returns the server state
func (s *Server) State() ServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsInUse reports whether a callback can still run for any receiver
func (s *Server) IsInUse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse()
}

// Close releases all memory of a Disconnected server that is no longer in use
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.state != ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server must be shut down before it is closed")
	}
	if s.inUse() {
		return errors.Wrap(common.ErrUnexpectedState, "server is still in use")
	}

	for i, r := range s.receivers {
		if r != nil {
			r.destroy()
			s.receivers[i] = nil
		}
	}
	closeRegion(s.env.slots)
	s.closed = true
	return nil
}

// Stats returns a snapshot of the receivers and the logic engine
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		State:     s.state,
		Receivers: make(map[ReceiverState]int),
	}
	for _, r := range s.receivers {
		if r != nil {
			stats.Receivers[r.status().State]++
		}
	}
	if !s.closed {
		stats.OutstandingTokens = s.env.engine.OutstandingTokens()
		stats.Classes = s.env.engine.Stats()
	}
	return stats
}

// Metrics returns the Prometheus metrics of the server
func (s *Server) Metrics() *metrics.Set {
	return s.env.metrics.set
}

// --------------------------------------------------------------------------
// Slots
// --------------------------------------------------------------------------

// AcquireSlot takes a free slot. ok is false if no slot is free, which is not an error
func (s *Server) AcquireSlot() (token logic.SlotToken, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return logic.SlotToken{}, false, errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}

	token, ok = s.env.engine.AcquireSlot()
	if ok {
		s.env.metrics.slotsAcquired.Inc()
	} else {
		s.env.metrics.slotsExhausted.Inc()
	}
	return token, ok, nil
}

// UnacquireSlot returns an unsent slot to the free pool
func (s *Server) UnacquireSlot(token logic.SlotToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	if err := s.env.engine.UnacquireSlot(token); err != nil {
		return errors.Wrapf(common.ErrInvalidArgument, "%v", err)
	}
	s.env.metrics.slotsUnacquired.Inc()
	return nil
}

// AccessSlotContent returns the content of an acquired slot. The slice must not be used after the token
// was consumed
func (s *Server) AccessSlotContent(token logic.SlotToken) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return nil, errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	content, err := s.env.engine.AccessSlotContent(token)
	if err != nil {
		return nil, errors.Wrapf(common.ErrInvalidArgument, "%v", err)
	}
	return content, nil
}

// SendSlot delivers the slot to all receivers whose class is below its limit, consumes the token and
// notifies the listening receivers that got it. dropped is filled with the classes that did not get
// the slot
func (s *Server) SendSlot(token logic.SlotToken, dropped *logic.DroppedInformation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	if dropped == nil || dropped.Capacity() < s.env.engine.ClassCount() {
		return errors.Wrapf(common.ErrInvalidArgument, "dropped information must hold %d classes", s.env.engine.ClassCount())
	}

	if err := s.env.engine.SendSlot(token, dropped); err != nil {
		return errors.Wrapf(common.ErrInvalidArgument, "%v", err)
	}
	s.env.metrics.slotsSent.Inc()

	corrupted := 0
	for _, r := range s.receivers {
		if r == nil {
			continue
		}
		before := r.status()
		if err := r.notifyNewSlotSent(dropped); err != nil && !errors.Is(err, common.ErrDroppedNotification) {
			corrupted++
		} else if r.checkAndHandleLogicCorruption() {
			corrupted++
		}
		s.observe(r.id, before, r.status())
	}

	if corrupted > 0 {
		return errors.Wrapf(common.ErrReceiverError, "%d receivers became corrupted", corrupted)
	}
	return nil
}

// ReclaimSlots frees every sent slot no receiver holds anymore
func (s *Server) ReclaimSlots() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == ServerDisconnected {
		return errors.Wrap(common.ErrUnexpectedState, "server is disconnected")
	}
	if err := s.env.engine.ReclaimSlots(); err != nil {
		return errors.Wrapf(common.ErrInvalidArgument, "%v", err)
	}
	s.env.metrics.reclaims.Inc()

	corrupted := 0
	for _, r := range s.receivers {
		if r == nil {
			continue
		}
		before := r.status()
		if r.checkAndHandleLogicCorruption() {
			corrupted++
		}
		s.observe(r.id, before, r.status())
	}

	if corrupted > 0 {
		return errors.Wrapf(common.ErrReceiverError, "%d receivers became corrupted", corrupted)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// callbacks routes the side-channel events of receiver id into its state machine
func (s *Server) callbacks(id ReceiverId) sidechannel.Callbacks {
	return sidechannel.Callbacks{
		OnAckConnection: func(config memory.QueueConfiguration, handle memory.IExchangeHandle) {
			if !s.callAndInformAboutStateTransition(id, func(r *receiver) { r.onAckConnection(config, handle) }) {
				closeHandle(handle)
			}
		},
		OnStartListening: func() {
			s.callAndInformAboutStateTransition(id, (*receiver).onStartListening)
		},
		OnStopListening: func() {
			s.callAndInformAboutStateTransition(id, (*receiver).onStopListening)
		},
		OnShutdown: func() {
			s.callAndInformAboutStateTransition(id, (*receiver).onShutdown)
		},
		OnTermination: func(reason string) {
			s.callAndInformAboutStateTransition(id, func(r *receiver) { r.onTermination(reason) })
		},
		OnError: func(err error) {
			s.callAndInformAboutStateTransition(id, func(r *receiver) { r.onError(err) })
		},
	}
}

// callAndInformAboutStateTransition runs event on the receiver with the lock held and calls the
// transition callback after unlocking if the state changed. It returns false if the receiver is gone
func (s *Server) callAndInformAboutStateTransition(id ReceiverId, event func(r *receiver)) bool {
	s.mu.Lock()
	r, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		Logger.Debugf("Dropping event for %v", err)
		return false
	}

	before := r.status()
	event(r)
	after := r.status()
	changed := s.observe(id, before, after)
	callback := s.onTransition
	s.mu.Unlock()

	if changed && callback != nil {
		callback(id, after.State, after.Cause)
	}
	return true
}

// observe logs and counts a state change. It reports whether the state changed
func (s *Server) observe(id ReceiverId, before, after ReceiverStatus) bool {
	if before.State == after.State {
		return false
	}
	Logger.Infof("Receiver %s: %s -> %s", id, before.State, after)
	s.env.metrics.transition(s.config.Group, after)
	return true
}

// lookup returns the receiver id refers to
func (s *Server) lookup(id ReceiverId) (*receiver, error) {
	if id.Index < 0 || id.Index >= len(s.receivers) {
		return nil, errors.Wrapf(common.ErrUnknownReceiver, "receiver %s", id)
	}
	r := s.receivers[id.Index]
	if r == nil || r.id != id {
		return nil, errors.Wrapf(common.ErrUnknownReceiver, "receiver %s", id)
	}
	return r, nil
}

func (s *Server) freeIndex() int {
	for i, r := range s.receivers {
		if r == nil {
			return i
		}
	}
	return -1
}

func (s *Server) inUse() bool {
	for _, r := range s.receivers {
		if r != nil && r.isInUse() {
			return true
		}
	}
	return false
}
