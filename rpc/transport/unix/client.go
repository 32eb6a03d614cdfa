//go:build unix

package unix

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/ValentinKolb/memcon/rpc/transport/base"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Dial connects to the side channel of a server listening on endpoint
func Dial(endpoint string, sendTimeout time.Duration) (transport.IConnection, error) {
	conn, err := net.Dial(network, endpoint)
	if err != nil {
		return nil, errors.WithMessage(common.ErrPeerDisconnected, fmt.Sprintf("failed to connect to %s: %v", endpoint, err))
	}
	return base.NewClientConnection(conn.(*net.UnixConn), sendTimeout), nil
}

// Pair creates two connected side-channel endpoints without a listener.
// The first one is meant for the server, the second one for the receiver
func Pair(sendTimeout time.Duration) (transport.IConnection, transport.IConnection, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrapf(common.ErrResource, "socketpair: %v", err)
	}

	server, err := fileConn(fds[0], "memcon-server")
	if err != nil {
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	receiver, err := fileConn(fds[1], "memcon-receiver")
	if err != nil {
		_ = server.Close()
		return nil, nil, err
	}

	return base.NewClientConnection(server, sendTimeout), base.NewClientConnection(receiver, sendTimeout), nil
}

// fileConn turns fd into a *net.UnixConn. fd is consumed
func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close() // FileConn duplicates the descriptor

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, errors.Wrapf(common.ErrResource, "file conn: %v", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.Wrap(common.ErrResource, "socket pair is not a unix socket")
	}
	return uc, nil
}
