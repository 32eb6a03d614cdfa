//go:build linux

package unix

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type received struct {
	msg    []byte
	handle memory.IExchangeHandle
	err    error
}

func collect(conn transport.IConnection) <-chan received {
	ch := make(chan received, 16)
	conn.SetReceiveCallback(func(msg []byte, handle memory.IExchangeHandle, err error) {
		ch <- received{msg: msg, handle: handle, err: err}
	})
	return ch
}

func next(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return received{}
	}
}

func TestPairSendReceive(t *testing.T) {
	a, b, err := Pair(time.Second)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	ch := collect(b)

	require.NoError(t, a.Send([]byte("hello"), nil))
	require.NoError(t, a.Send([]byte{}, nil))

	r := next(t, ch)
	require.NoError(t, r.err)
	require.Equal(t, "hello", string(r.msg))
	require.Nil(t, r.handle)

	r = next(t, ch)
	require.NoError(t, r.err)
	require.Empty(t, r.msg)
}

func TestPairTransfersMemoryHandle(t *testing.T) {
	a, b, err := Pair(time.Second)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	m := memory.NewMemfdManager()
	size := os.Getpagesize()
	region, err := m.Allocate("memcon-transport-test", size)
	require.NoError(t, err)
	defer region.Close()
	copy(region.Bytes(), "shared")

	handle, err := region.ExchangeHandle()
	require.NoError(t, err)
	defer handle.Close()

	ch := collect(b)
	require.NoError(t, a.Send([]byte("region"), handle))

	r := next(t, ch)
	require.NoError(t, r.err)
	require.Equal(t, "region", string(r.msg))
	require.NotNil(t, r.handle)
	defer r.handle.Close()

	mapped, err := m.Map(r.handle, size, true)
	require.NoError(t, err)
	defer mapped.Close()
	require.Equal(t, "shared", string(mapped.Bytes()[:6]))
}

func TestPeerCloseIsReported(t *testing.T) {
	a, b, err := Pair(time.Second)
	require.NoError(t, err)
	defer b.Close()

	ch := collect(b)
	require.NoError(t, a.Close())

	r := next(t, ch)
	require.Error(t, r.err)
	require.True(t, errors.Is(r.err, common.ErrPeerDisconnected), "got %v", r.err)

	require.Eventually(t, func() bool { return !b.IsInUse() }, 5*time.Second, 10*time.Millisecond)

	err = b.Send([]byte("late"), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrPeerDisconnected) || errors.Is(err, common.ErrPeerCrashed), "got %v", err)
}

func TestSendAfterCloseFails(t *testing.T) {
	a, b, err := Pair(time.Second)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())
	require.False(t, a.IsInUse())
	require.True(t, errors.Is(a.Send([]byte("x"), nil), common.ErrPeerDisconnected))
	require.NoError(t, a.Close())
}

func TestFullSocketWouldBlock(t *testing.T) {
	a, b, err := Pair(time.Millisecond)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	// b never reads, so the socket buffer eventually fills up
	msg := make([]byte, 4096)
	var sendErr error
	for i := 0; i < 100000 && sendErr == nil; i++ {
		sendErr = a.Send(msg, nil)
	}
	require.ErrorIs(t, sendErr, transport.ErrWouldBlock)
}

func TestServerTransportAcceptsDial(t *testing.T) {
	endpoint := filepath.Join(t.TempDir(), "memcon.sock")
	config := common.DefaultServerConfig()
	config.Endpoint = endpoint
	config.SendTimeout = time.Second

	accepted := make(chan transport.IConnection, 1)
	srv := NewUnixServerTransport()
	srv.RegisterAcceptHandler(func(conn transport.IConnection) {
		accepted <- conn
	})

	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Listen(config) }()

	var client transport.IConnection
	var err error
	require.Eventually(t, func() bool {
		client, err = Dial(endpoint, time.Second)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer client.Close()

	var serverConn transport.IConnection
	select {
	case serverConn = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not accepted")
	}

	ch := collect(serverConn)
	require.NoError(t, client.Send([]byte("ping"), nil))
	r := next(t, ch)
	require.NoError(t, r.err)
	require.Equal(t, "ping", string(r.msg))

	require.NoError(t, srv.Close())
	select {
	case err := <-listenErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after Close")
	}
	require.Eventually(t, func() bool { return !serverConn.IsInUse() }, 5*time.Second, 10*time.Millisecond)
}
