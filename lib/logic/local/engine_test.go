package local

import (
	"testing"

	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// testReceiver is the receiver side view of a registered receiver
type testReceiver struct {
	handle   logic.ReceiverHandle
	delivery *Queue
	returns  *Queue
}

type testEngine struct {
	logic.ILogicServer
	mm     memory.IMemoryManager
	config logic.Configuration
}

func newTestEngine(t *testing.T, slots uint32, classes ...logic.ClassConfiguration) *testEngine {
	t.Helper()

	mm := memory.NewHeapManager(0)
	config := logic.Configuration{
		Slots:   memory.SlotConfiguration{NumberOfSlots: slots, SlotContentSize: 16},
		Queue:   memory.QueueConfiguration{NumberOfElements: slots},
		Classes: classes,
	}

	region, err := mm.Allocate("slots", config.Slots.Size())
	require.NoError(t, err)

	e, err := New(region, config)
	require.NoError(t, err)

	return &testEngine{ILogicServer: e, mm: mm, config: config}
}

func (e *testEngine) register(t *testing.T, class string) *testReceiver {
	t.Helper()

	handle, err := e.ClassHandle(class)
	require.NoError(t, err)

	delivery, err := e.mm.Allocate("delivery", e.config.Queue.Size())
	require.NoError(t, err)
	returns, err := e.mm.Allocate("return", e.config.Queue.Size())
	require.NoError(t, err)

	h, err := e.RegisterReceiver(handle, logic.ReceiverQueues{Delivery: delivery, Return: returns})
	require.NoError(t, err)

	dq, err := NewQueue(delivery.Bytes(), e.config.Queue)
	require.NoError(t, err)
	rq, err := NewQueue(returns.Bytes(), e.config.Queue)
	require.NoError(t, err)

	return &testReceiver{handle: h, delivery: dq, returns: rq}
}

func (e *testEngine) send(t *testing.T, content string) (uint32, *logic.DroppedInformation) {
	t.Helper()

	token, ok := e.AcquireSlot()
	require.True(t, ok)

	b, err := e.AccessSlotContent(token)
	require.NoError(t, err)
	copy(b, content)

	dropped := logic.NewDroppedInformation(e.ClassCount())
	require.NoError(t, e.SendSlot(token, dropped))
	return token.Index(), dropped
}

// drain pops all delivered slots and returns them to the engine
func (r *testReceiver) drain(t *testing.T) []uint32 {
	var got []uint32
	for {
		index, ok := r.delivery.Pop()
		if !ok {
			return got
		}
		got = append(got, index)
		require.True(t, r.returns.Push(index))
	}
}

func TestEngineAcquireExhaustion(t *testing.T) {
	e := newTestEngine(t, 2, logic.ClassConfiguration{Name: "default", SlotLimit: 2})

	first, ok := e.AcquireSlot()
	require.True(t, ok)
	second, ok := e.AcquireSlot()
	require.True(t, ok)
	require.NotEqual(t, first.Index(), second.Index())
	require.Equal(t, 2, e.OutstandingTokens())

	_, ok = e.AcquireSlot()
	require.False(t, ok)

	require.NoError(t, e.UnacquireSlot(first))
	require.Equal(t, 1, e.OutstandingTokens())

	// a consumed token can not be used again
	err := e.UnacquireSlot(first)
	require.True(t, errors.Is(err, logic.ErrInvalidToken))
	_, err = e.AccessSlotContent(first)
	require.True(t, errors.Is(err, logic.ErrInvalidToken))

	third, ok := e.AcquireSlot()
	require.True(t, ok)
	require.Equal(t, first.Index(), third.Index())
	require.NotEqual(t, first.Generation(), third.Generation())

	// the stale token of the same slot stays invalid
	require.Error(t, e.UnacquireSlot(first))
	require.NoError(t, e.UnacquireSlot(third))
	require.NoError(t, e.UnacquireSlot(second))
}

func TestEngineDeliveryAndClassLimit(t *testing.T) {
	e := newTestEngine(t, 4,
		logic.ClassConfiguration{Name: "limited", SlotLimit: 1},
		logic.ClassConfiguration{Name: "wide", SlotLimit: 4},
	)
	limited := e.register(t, "limited")
	wide := e.register(t, "wide")

	first, dropped := e.send(t, "one")
	require.Equal(t, 0, dropped.Len())

	second, dropped := e.send(t, "two")
	limitedClass, _ := e.ClassHandle("limited")
	require.Equal(t, []logic.ClassHandle{limitedClass}, dropped.Classes())

	require.Equal(t, []uint32{first}, limited.drain(t))
	require.Equal(t, []uint32{first, second}, wide.drain(t))

	require.NoError(t, e.ReclaimSlots())
	require.False(t, e.DetectCorruption(limited.handle))
	require.False(t, e.DetectCorruption(wide.handle))

	// after returning, the limited class receives again
	_, dropped = e.send(t, "three")
	require.Equal(t, 0, dropped.Len())

	stats := e.Stats()
	require.Len(t, stats, 2)
	require.Equal(t, "limited", stats[0].Name)
	require.Equal(t, int64(2), stats[0].Delivered)
	require.Equal(t, int64(1), stats[0].Dropped)
	require.Equal(t, uint32(1), stats[0].InFlight)
	require.Equal(t, int64(3), stats[1].Delivered)
}

func TestEngineReclaim(t *testing.T) {
	e := newTestEngine(t, 1, logic.ClassConfiguration{Name: "default", SlotLimit: 1})

	// without receivers the slot is free again after reclaiming
	e.send(t, "nobody")
	_, ok := e.AcquireSlot()
	require.False(t, ok)
	require.NoError(t, e.ReclaimSlots())

	r := e.register(t, "default")
	index, _ := e.send(t, "somebody")

	require.NoError(t, e.ReclaimSlots())
	_, ok = e.AcquireSlot()
	require.False(t, ok, "slot is still held by the receiver")

	require.Equal(t, []uint32{index}, r.drain(t))
	require.NoError(t, e.ReclaimSlots())

	token, ok := e.AcquireSlot()
	require.True(t, ok)
	require.NoError(t, e.UnacquireSlot(token))
}

func TestEngineCorruption(t *testing.T) {
	e := newTestEngine(t, 2, logic.ClassConfiguration{Name: "default", SlotLimit: 2})
	honest := e.register(t, "default")
	liar := e.register(t, "default")

	e.send(t, "payload")
	honest.drain(t)

	// return a slot that was never delivered
	require.True(t, liar.returns.Push(1))
	require.NoError(t, e.ReclaimSlots())

	require.False(t, e.DetectCorruption(honest.handle))
	require.True(t, e.DetectCorruption(liar.handle))

	// deregistering releases what the receiver still holds
	require.NoError(t, e.DeregisterReceiver(liar.handle))
	require.False(t, e.DetectCorruption(liar.handle))
	require.NoError(t, e.ReclaimSlots())

	err := e.DeregisterReceiver(liar.handle)
	require.True(t, errors.Is(err, logic.ErrUnknownReceiver))

	a, ok := e.AcquireSlot()
	require.True(t, ok)
	b, ok := e.AcquireSlot()
	require.True(t, ok)
	require.NoError(t, e.UnacquireSlot(a))
	require.NoError(t, e.UnacquireSlot(b))
}

func TestEngineSuspendReleasesClassLimit(t *testing.T) {
	e := newTestEngine(t, 4, logic.ClassConfiguration{Name: "default", SlotLimit: 1})
	stuck := e.register(t, "default")
	healthy := e.register(t, "default")

	first, dropped := e.send(t, "one")
	require.Equal(t, 0, dropped.Len())
	require.Equal(t, []uint32{first}, healthy.drain(t))
	require.NoError(t, e.ReclaimSlots())

	// the stuck receiver still holds the slot, the class is at its limit
	_, dropped = e.send(t, "two")
	require.Equal(t, 1, dropped.Len())

	require.NoError(t, e.SuspendReceiver(stuck.handle))
	require.NoError(t, e.SuspendReceiver(stuck.handle))
	require.NoError(t, e.ReclaimSlots())

	third, dropped := e.send(t, "three")
	require.Equal(t, 0, dropped.Len())
	require.Equal(t, []uint32{third}, healthy.drain(t))

	// nothing is delivered to the suspended receiver, its returns are ignored
	got := []uint32{}
	for {
		index, ok := stuck.delivery.Pop()
		if !ok {
			break
		}
		got = append(got, index)
	}
	require.Equal(t, []uint32{first}, got)
	require.True(t, stuck.returns.Push(first))
	require.NoError(t, e.ReclaimSlots())
	require.False(t, e.DetectCorruption(stuck.handle))

	stats := e.Stats()
	require.Equal(t, 1, stats[0].Receivers)
	require.Equal(t, uint32(0), stats[0].InFlight)

	require.NoError(t, e.DeregisterReceiver(stuck.handle))
	require.Equal(t, 1, e.Stats()[0].Receivers)
	require.True(t, errors.Is(e.SuspendReceiver(stuck.handle), logic.ErrUnknownReceiver))
}

func TestEngineConfiguration(t *testing.T) {
	mm := memory.NewHeapManager(0)
	slots := memory.SlotConfiguration{NumberOfSlots: 4, SlotContentSize: 8}
	region, err := mm.Allocate("slots", slots.Size())
	require.NoError(t, err)

	tests := []struct {
		name   string
		config logic.Configuration
	}{
		{"no classes", logic.Configuration{Slots: slots, Queue: memory.QueueConfiguration{NumberOfElements: 4}}},
		{"queue too small", logic.Configuration{Slots: slots, Queue: memory.QueueConfiguration{NumberOfElements: 2},
			Classes: []logic.ClassConfiguration{{Name: "a", SlotLimit: 1}}}},
		{"duplicate class", logic.Configuration{Slots: slots, Queue: memory.QueueConfiguration{NumberOfElements: 4},
			Classes: []logic.ClassConfiguration{{Name: "a", SlotLimit: 1}, {Name: "a", SlotLimit: 1}}}},
		{"zero limit", logic.Configuration{Slots: slots, Queue: memory.QueueConfiguration{NumberOfElements: 4},
			Classes: []logic.ClassConfiguration{{Name: "a"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(region, tt.config)
			require.Error(t, err)
		})
	}

	e, err := New(region, logic.Configuration{Slots: slots, Queue: memory.QueueConfiguration{NumberOfElements: 4},
		Classes: []logic.ClassConfiguration{{Name: "a", SlotLimit: 1}}})
	require.NoError(t, err)

	_, err = e.ClassHandle("b")
	require.True(t, errors.Is(err, logic.ErrUnknownClass))
	_, err = e.RegisterReceiver(7, logic.ReceiverQueues{})
	require.True(t, errors.Is(err, logic.ErrUnknownClass))
}
