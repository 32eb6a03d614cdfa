package sidechannel

import (
	"testing"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/ValentinKolb/memcon/rpc/transport/transporttest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// recorder collects the callbacks of a side channel
type recorder struct {
	acks    []memory.QueueConfiguration
	handles []memory.IExchangeHandle
	events  []string
	reasons []string
	errs    []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnAckConnection: func(config memory.QueueConfiguration, handle memory.IExchangeHandle) {
			r.acks = append(r.acks, config)
			r.handles = append(r.handles, handle)
			r.events = append(r.events, "ack")
		},
		OnStartListening: func() { r.events = append(r.events, "start") },
		OnStopListening:  func() { r.events = append(r.events, "stop") },
		OnShutdown:       func() { r.events = append(r.events, "shutdown") },
		OnTermination: func(reason string) {
			r.reasons = append(r.reasons, reason)
			r.events = append(r.events, "termination")
		},
		OnError: func(err error) {
			r.errs = append(r.errs, err)
			r.events = append(r.events, "error")
		},
	}
}

func newStartedChannel(t *testing.T) (*ServerSideChannel, *transporttest.MockConnection, *recorder) {
	t.Helper()
	conn := transporttest.NewMockConnection(serializer.NewBinarySerializer())
	ch := NewServerSideChannel(conn, serializer.NewBinarySerializer())
	rec := &recorder{}
	require.NoError(t, ch.Start(rec.callbacks()))
	require.True(t, conn.Started())
	return ch, conn, rec
}

func TestStartTwice(t *testing.T) {
	ch, _, rec := newStartedChannel(t)
	err := ch.Start(rec.callbacks())
	require.True(t, errors.Is(err, common.ErrUnexpectedState))
}

func TestDispatch(t *testing.T) {
	ch, conn, rec := newStartedChannel(t)
	defer ch.Close()

	handle := &transporttest.Handle{}
	conn.Deliver(common.NewAckConnection(memory.QueueConfiguration{NumberOfElements: 8}), handle)
	conn.Deliver(common.NewStartListening(), nil)
	conn.Deliver(common.NewStopListening(), nil)
	conn.Deliver(common.NewTermination("bye"), nil)
	conn.Deliver(common.NewShutdown(), nil)

	require.Equal(t, []string{"ack", "start", "stop", "termination", "shutdown"}, rec.events)
	require.Equal(t, []memory.QueueConfiguration{{NumberOfElements: 8}}, rec.acks)
	require.Same(t, handle, rec.handles[0].(*transporttest.Handle))
	require.False(t, handle.Closed(), "the callee owns the handle")
	require.Equal(t, []string{"bye"}, rec.reasons)
}

func TestProtocolViolations(t *testing.T) {
	tests := []struct {
		name       string
		deliver    func(conn *transporttest.MockConnection, handle memory.IExchangeHandle)
		withHandle bool
	}{
		{
			name: "undecodable",
			deliver: func(conn *transporttest.MockConnection, handle memory.IExchangeHandle) {
				conn.DeliverRaw([]byte{0xff, 0xff, 0xff}, handle, nil)
			},
			withHandle: true,
		},
		{
			name: "server only message",
			deliver: func(conn *transporttest.MockConnection, handle memory.IExchangeHandle) {
				conn.Deliver(common.NewNotification(), handle)
			},
		},
		{
			name: "connection request",
			deliver: func(conn *transporttest.MockConnection, handle memory.IExchangeHandle) {
				conn.Deliver(common.NewConnectionRequestQueue(memory.QueueConfiguration{NumberOfElements: 1}), handle)
			},
			withHandle: true,
		},
		{
			name: "ack without handle",
			deliver: func(conn *transporttest.MockConnection, handle memory.IExchangeHandle) {
				conn.Deliver(common.NewAckConnection(memory.QueueConfiguration{NumberOfElements: 1}), handle)
			},
		},
		{
			name: "handle on start listening",
			deliver: func(conn *transporttest.MockConnection, handle memory.IExchangeHandle) {
				conn.Deliver(common.NewStartListening(), handle)
			},
			withHandle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, conn, rec := newStartedChannel(t)
			defer ch.Close()

			var handle *transporttest.Handle
			var h memory.IExchangeHandle
			if tt.withHandle {
				handle = &transporttest.Handle{}
				h = handle
			}
			tt.deliver(conn, h)

			require.Equal(t, []string{"error"}, rec.events)
			require.True(t, errors.Is(rec.errs[0], common.ErrProtocol), "got %v", rec.errs[0])
			if handle != nil {
				require.True(t, handle.Closed(), "stray handles are closed")
			}
		})
	}
}

func TestTransportErrorIsForwarded(t *testing.T) {
	ch, conn, rec := newStartedChannel(t)
	defer ch.Close()

	conn.DeliverRaw(nil, nil, common.ErrPeerCrashed)
	require.Equal(t, []string{"error"}, rec.events)
	require.ErrorIs(t, rec.errs[0], common.ErrPeerCrashed)
}

func TestSendConnectionRequest(t *testing.T) {
	ch, conn, _ := newStartedChannel(t)
	defer ch.Close()

	slots := memory.SlotConfiguration{NumberOfSlots: 4, SlotContentSize: 64}
	queue := memory.QueueConfiguration{NumberOfElements: 4}
	require.NoError(t, ch.SendConnectionRequest(slots, &transporttest.Handle{}, queue, &transporttest.Handle{}))
	require.NoError(t, ch.SendAckQueueInitialization())

	sent := conn.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, common.MsgTConnectionRequestSlot, sent[0].Msg.MsgType)
	require.Equal(t, slots, *sent[0].Msg.Slots)
	require.True(t, sent[0].HasHandle)
	require.Equal(t, common.MsgTConnectionRequestQueue, sent[1].Msg.MsgType)
	require.Equal(t, queue, *sent[1].Msg.Queue)
	require.True(t, sent[1].HasHandle)
	require.Equal(t, common.MsgTAckQueueInitialization, sent[2].Msg.MsgType)
	require.False(t, sent[2].HasHandle)
}

func TestSendErrors(t *testing.T) {
	ch, conn, _ := newStartedChannel(t)
	defer ch.Close()

	conn.SetSendError(transport.ErrWouldBlock)
	require.ErrorIs(t, ch.SendNotification(), common.ErrDroppedNotification)
	require.True(t, errors.Is(ch.SendShutdown(), common.ErrProtocol))

	conn.SetSendError(common.ErrPeerCrashed)
	require.ErrorIs(t, ch.SendNotification(), common.ErrPeerCrashed)

	// best effort sends swallow the error
	ch.SendShutdownBestEffort()
	ch.SendTerminationBestEffort("gone")
	require.Empty(t, conn.Sent())
}

func TestClosedChannel(t *testing.T) {
	ch, conn, rec := newStartedChannel(t)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	conn.AssertNumberOfCalls(t, "Close", 1)
	require.True(t, ch.IsClosed())

	require.True(t, errors.Is(ch.SendNotification(), common.ErrPeerDisconnected))
	conn.AssertNumberOfCalls(t, "Send", 0)

	// inbound dispatch is suppressed, handles are released
	handle := &transporttest.Handle{}
	conn.Deliver(common.NewAckConnection(memory.QueueConfiguration{NumberOfElements: 1}), handle)
	require.Empty(t, rec.events)
	require.True(t, handle.Closed())

	require.True(t, errors.Is(ch.Start(rec.callbacks()), common.ErrPeerDisconnected))
}

func TestIsInUse(t *testing.T) {
	conn := transporttest.NewMockConnection(serializer.NewBinarySerializer())
	ch := NewServerSideChannel(conn, serializer.NewBinarySerializer())
	require.False(t, ch.IsInUse())

	conn.InUse.Store(true)
	require.True(t, ch.IsInUse())
	conn.InUse.Store(false)

	// a running callback keeps the channel in use
	var inUseDuringCallback bool
	require.NoError(t, ch.Start(Callbacks{
		OnStartListening: func() { inUseDuringCallback = ch.IsInUse() },
	}))
	conn.Deliver(common.NewStartListening(), nil)
	require.True(t, inUseDuringCallback)
	require.False(t, ch.IsInUse())
}
