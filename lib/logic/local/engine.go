package local

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("logic")

type slotState uint8

const (
	slotFree slotState = iota
	slotAcquired
	slotSent
)

// slotEntry is the bookkeeping of one slot
type slotEntry struct {
	state      slotState
	generation uint64
	holders    map[logic.ReceiverHandle]logic.ClassHandle
}

// classEntry is the bookkeeping of one receiver class
type classEntry struct {
	config    logic.ClassConfiguration
	receivers int
	inFlight  uint32
	delivered metrics.Counter
	dropped   metrics.Counter
}

// receiverEntry is the bookkeeping of one registered receiver
type receiverEntry struct {
	class     logic.ClassHandle
	delivery  *Queue
	returns   *Queue
	held      map[uint32]struct{}
	corrupted bool
	suspended bool
}

// engine implements logic.ILogicServer
type engine struct {
	mu sync.Mutex

	config      logic.Configuration
	region      memory.IRegion
	slots       []slotEntry
	free        []uint32
	outstanding int

	classes    []*classEntry
	classNames map[string]logic.ClassHandle

	receivers  *xsync.MapOf[logic.ReceiverHandle, *receiverEntry]
	nextHandle logic.ReceiverHandle

	registry metrics.Registry
}

// New creates a local engine for the slots in region. It satisfies logic.Factory
func New(region memory.IRegion, config logic.Configuration) (logic.ILogicServer, error) {
	if err := config.Slots.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid slot configuration")
	}
	if err := config.Queue.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid queue configuration")
	}
	if config.Queue.NumberOfElements < config.Slots.NumberOfSlots {
		return nil, fmt.Errorf("queue capacity %d is smaller than the number of slots %d",
			config.Queue.NumberOfElements, config.Slots.NumberOfSlots)
	}
	if len(config.Classes) == 0 {
		return nil, fmt.Errorf("at least one receiver class is required")
	}
	if need := int(config.Slots.NumberOfSlots) * config.Slots.Stride(); len(region.Bytes()) < need {
		return nil, fmt.Errorf("slot region too small: %d bytes, need %d", len(region.Bytes()), need)
	}

	e := &engine{
		config:     config,
		region:     region,
		slots:      make([]slotEntry, config.Slots.NumberOfSlots),
		free:       make([]uint32, 0, config.Slots.NumberOfSlots),
		classNames: make(map[string]logic.ClassHandle, len(config.Classes)),
		receivers:  xsync.NewMapOf[logic.ReceiverHandle, *receiverEntry](),
		registry:   metrics.NewRegistry(),
	}

	// free list is a stack, push in reverse so slot 0 is acquired first
	for i := int(config.Slots.NumberOfSlots) - 1; i >= 0; i-- {
		e.free = append(e.free, uint32(i))
	}

	for i, c := range config.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("receiver class %d has no name", i)
		}
		if _, ok := e.classNames[c.Name]; ok {
			return nil, fmt.Errorf("duplicate receiver class %s", c.Name)
		}
		if c.SlotLimit == 0 {
			return nil, fmt.Errorf("receiver class %s has a slot limit of zero", c.Name)
		}
		e.classNames[c.Name] = logic.ClassHandle(i)
		e.classes = append(e.classes, &classEntry{
			config:    c,
			delivered: metrics.NewRegisteredCounter("class."+c.Name+".delivered", e.registry),
			dropped:   metrics.NewRegisteredCounter("class."+c.Name+".dropped", e.registry),
		})
	}

	Logger.Infof("created local logic engine with %d slots and %d classes", len(e.slots), len(e.classes))
	return e, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see logic.ILogicServer)
// --------------------------------------------------------------------------

func (e *engine) ClassHandle(name string) (logic.ClassHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.classNames[name]
	if !ok {
		return 0, errors.Wrapf(logic.ErrUnknownClass, "class %s", name)
	}
	return h, nil
}

func (e *engine) ClassCount() int {
	return len(e.classes)
}

func (e *engine) RegisterReceiver(class logic.ClassHandle, queues logic.ReceiverQueues) (logic.ReceiverHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(class) >= len(e.classes) {
		return 0, errors.Wrapf(logic.ErrUnknownClass, "class handle %d", class)
	}
	if e.config.MaxReceivers > 0 && e.receivers.Size() >= e.config.MaxReceivers {
		return 0, logic.ErrCapacity
	}
	if queues.Delivery == nil || queues.Return == nil {
		return 0, fmt.Errorf("receiver queues are incomplete")
	}

	delivery, err := NewQueue(queues.Delivery.Bytes(), e.config.Queue)
	if err != nil {
		return 0, errors.Wrap(err, "invalid delivery queue")
	}
	returns, err := NewQueue(queues.Return.Bytes(), e.config.Queue)
	if err != nil {
		return 0, errors.Wrap(err, "invalid return queue")
	}

	e.nextHandle++
	handle := e.nextHandle
	e.receivers.Store(handle, &receiverEntry{
		class:    class,
		delivery: delivery,
		returns:  returns,
		held:     make(map[uint32]struct{}),
	})
	e.classes[class].receivers++

	Logger.Debugf("registered receiver %d in class %s", handle, e.classes[class].config.Name)
	return handle, nil
}

func (e *engine) DeregisterReceiver(handle logic.ReceiverHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.receivers.Load(handle)
	if !ok {
		return errors.Wrapf(logic.ErrUnknownReceiver, "receiver %d", handle)
	}

	// everything the receiver still holds counts as returned
	for index := range r.held {
		e.release(handle, r, index)
	}
	e.receivers.Delete(handle)
	if !r.suspended {
		e.classes[r.class].receivers--
	}

	Logger.Debugf("deregistered receiver %d", handle)
	return nil
}

func (e *engine) SuspendReceiver(handle logic.ReceiverHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.receivers.Load(handle)
	if !ok {
		return errors.Wrapf(logic.ErrUnknownReceiver, "receiver %d", handle)
	}
	if r.suspended {
		return nil
	}

	for index := range r.held {
		e.release(handle, r, index)
	}
	r.suspended = true
	e.classes[r.class].receivers--

	Logger.Debugf("suspended receiver %d", handle)
	return nil
}

func (e *engine) DetectCorruption(handle logic.ReceiverHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.receivers.Load(handle)
	return ok && r.corrupted
}

func (e *engine) AcquireSlot() (logic.SlotToken, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.free) == 0 {
		return logic.SlotToken{}, false
	}

	index := e.free[len(e.free)-1]
	e.free = e.free[:len(e.free)-1]

	s := &e.slots[index]
	s.state = slotAcquired
	s.generation++
	e.outstanding++

	return logic.NewSlotToken(index, s.generation), true
}

func (e *engine) AccessSlotContent(token logic.SlotToken) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(token); err != nil {
		return nil, err
	}

	offset := e.config.Slots.Offset(token.Index())
	size := int(e.config.Slots.SlotContentSize)
	return e.region.Bytes()[offset : offset+size : offset+size], nil
}

func (e *engine) SendSlot(token logic.SlotToken, dropped *logic.DroppedInformation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(token); err != nil {
		return err
	}
	if dropped == nil || dropped.Capacity() < len(e.classes) {
		return fmt.Errorf("dropped information must hold at least %d classes", len(e.classes))
	}
	dropped.Reset()

	index := token.Index()
	s := &e.slots[index]
	s.state = slotSent
	s.holders = make(map[logic.ReceiverHandle]logic.ClassHandle)
	e.outstanding--

	// classes at their limit do not get the slot at all
	deliverTo := make([]bool, len(e.classes))
	for i, c := range e.classes {
		if c.receivers == 0 {
			continue
		}
		if c.inFlight >= c.config.SlotLimit {
			dropped.Add(logic.ClassHandle(i))
			c.dropped.Inc(1)
			continue
		}
		deliverTo[i] = true
	}

	e.receivers.Range(func(handle logic.ReceiverHandle, r *receiverEntry) bool {
		if !deliverTo[r.class] || r.corrupted || r.suspended {
			return true
		}
		if !r.delivery.Push(index) {
			// the queue can hold every slot, a full queue means the receiver tampered with it
			Logger.Warningf("delivery queue of receiver %d is full, marking it as corrupted", handle)
			r.corrupted = true
			return true
		}
		r.held[index] = struct{}{}
		s.holders[handle] = r.class
		return true
	})

	for i, c := range e.classes {
		if deliverTo[i] && e.classHolds(s, logic.ClassHandle(i)) {
			c.inFlight++
			c.delivered.Inc(1)
		}
	}

	return nil
}

func (e *engine) UnacquireSlot(token logic.SlotToken) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(token); err != nil {
		return err
	}

	e.slots[token.Index()].state = slotFree
	e.free = append(e.free, token.Index())
	e.outstanding--
	return nil
}

func (e *engine) ReclaimSlots() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.receivers.Range(func(handle logic.ReceiverHandle, r *receiverEntry) bool {
		if r.suspended {
			return true
		}
		// bounded by the capacity so a peer that keeps pushing can not stall the server
		for i := 0; i < r.returns.Capacity(); i++ {
			index, ok := r.returns.Pop()
			if !ok {
				break
			}
			if _, held := r.held[index]; !held {
				Logger.Warningf("receiver %d returned slot %d it does not hold", handle, index)
				r.corrupted = true
				continue
			}
			e.release(handle, r, index)
		}
		return true
	})

	for i := range e.slots {
		s := &e.slots[i]
		if s.state == slotSent && len(s.holders) == 0 {
			s.state = slotFree
			s.holders = nil
			e.free = append(e.free, uint32(i))
		}
	}

	return nil
}

func (e *engine) OutstandingTokens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outstanding
}

func (e *engine) Stats() []logic.ClassStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := make([]logic.ClassStats, 0, len(e.classes))
	for _, c := range e.classes {
		stats = append(stats, logic.ClassStats{
			Name:      c.config.Name,
			Receivers: c.receivers,
			InFlight:  c.inFlight,
			Delivered: c.delivered.Count(),
			Dropped:   c.dropped.Count(),
		})
	}
	return stats
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// validate checks that token refers to an acquired slot of the current generation
func (e *engine) validate(token logic.SlotToken) error {
	if int(token.Index()) >= len(e.slots) {
		return errors.Wrapf(logic.ErrInvalidToken, "%s out of range", token)
	}
	s := e.slots[token.Index()]
	if s.state != slotAcquired || s.generation != token.Generation() {
		return errors.Wrapf(logic.ErrInvalidToken, "%s is not acquired", token)
	}
	return nil
}

// release removes the receiver from the holders of the slot and updates the class in flight counter
func (e *engine) release(handle logic.ReceiverHandle, r *receiverEntry, index uint32) {
	delete(r.held, index)

	s := &e.slots[index]
	if _, ok := s.holders[handle]; !ok {
		return
	}
	delete(s.holders, handle)

	if !e.classHolds(s, r.class) {
		e.classes[r.class].inFlight--
	}
}

// classHolds reports whether any receiver of class holds the slot
func (e *engine) classHolds(s *slotEntry, class logic.ClassHandle) bool {
	for _, c := range s.holders {
		if c == class {
			return true
		}
	}
	return false
}
