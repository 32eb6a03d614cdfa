//go:build linux

package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/memcon/lib/logic"
	"github.com/ValentinKolb/memcon/lib/logic/local"
	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/serializer"
	"github.com/ValentinKolb/memcon/rpc/server"
	"github.com/ValentinKolb/memcon/rpc/transport/unix"
	"github.com/stretchr/testify/require"
)

type states struct {
	mu   sync.Mutex
	seen []server.ReceiverState
}

func (s *states) record(_ server.ReceiverId, state server.ReceiverState, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, state)
}

func (s *states) contains(state server.ReceiverState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seen := range s.seen {
		if seen == state {
			return true
		}
	}
	return false
}

func publish(t *testing.T, srv *server.Server, content string) {
	t.Helper()
	token, ok, err := srv.AcquireSlot()
	require.NoError(t, err)
	require.True(t, ok)
	slot, err := srv.AccessSlotContent(token)
	require.NoError(t, err)
	copy(slot, content)
	require.NoError(t, srv.SendSlot(token, logic.NewDroppedInformation(1)))
}

func startEndToEnd(t *testing.T) (*server.Server, server.ReceiverId, *Receiver, *states) {
	t.Helper()
	s := serializer.NewBinarySerializer()

	config := common.DefaultServerConfig()
	config.NumberOfSlots = 4
	config.SlotContentSize = 32
	config.MaxReceivers = 2
	config.ReceiverClasses = []common.ReceiverClassConfig{{Name: "default", SlotLimit: 4}}

	observed := &states{}
	srv, err := server.NewServer(config, memory.NewMemfdManager(), local.New, s, observed.record)
	require.NoError(t, err)

	serverConn, receiverConn, err := unix.Pair(100 * time.Millisecond)
	require.NoError(t, err)

	class, err := srv.ReceiverClass("default")
	require.NoError(t, err)
	id, err := srv.AddReceiver(class, serverConn)
	require.NoError(t, err)

	r := NewReceiver(receiverConn, s, memory.NewMemfdManager())
	r.Start()
	require.NoError(t, srv.ConnectReceiver(id))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.WaitReady(ctx))
	t.Cleanup(func() { _ = r.Close() })

	return srv, id, r, observed
}

func TestEndToEnd(t *testing.T) {
	srv, id, r, _ := startEndToEnd(t)
	require.NoError(t, r.StartListening())

	// StartListening is processed asynchronously, publish until a notification arrives
	var got []string
	collect := func(_ uint32, content []byte) {
		got = append(got, string(content[:4]))
	}
	require.Eventually(t, func() bool {
		publish(t, srv, "tick")
		notified := false
		select {
		case <-r.Notifications():
			notified = true
		case <-time.After(20 * time.Millisecond):
		}
		_, err := r.Poll(collect)
		require.NoError(t, err)
		require.NoError(t, srv.ReclaimSlots())
		return notified
	}, 5*time.Second, 10*time.Millisecond)

	require.NotEmpty(t, got)
	for _, content := range got {
		require.Equal(t, "tick", content)
	}

	status, err := srv.GetReceiverState(id)
	require.NoError(t, err)
	require.Equal(t, server.ReceiverConnected, status.State)
	require.Zero(t, srv.Stats().OutstandingTokens)

	require.NoError(t, srv.Shutdown())
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not see the shutdown")
	}
	require.NoError(t, r.Err())

	require.Eventually(t, func() bool { return !srv.IsInUse() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.Close())
}

func TestEndToEndReceiverShutdown(t *testing.T) {
	srv, id, r, observed := startEndToEnd(t)

	require.NoError(t, r.Shutdown())
	require.Eventually(t, func() bool {
		return observed.contains(server.ReceiverDisconnected)
	}, 5*time.Second, 10*time.Millisecond)

	status, err := srv.GetReceiverState(id)
	require.NoError(t, err)
	require.Equal(t, server.ReceiverDisconnected, status.State)

	require.Eventually(t, func() bool {
		inUse, err := srv.IsReceiverInUse(id)
		return err == nil && !inUse
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.RemoveReceiver(id))
}
