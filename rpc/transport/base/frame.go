//go:build unix

package base

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/ValentinKolb/memcon/rpc/common"
	"github.com/ValentinKolb/memcon/rpc/transport"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// MaxPacketSize is the largest packet (header included) a connection sends or receives
	MaxPacketSize = 64 * 1024 // 64 KB

	headerSize  = 8
	frameMagic  = 0x4d43 // "MC"
	frameV1     = 1
	flagHandle  = 1 << 0
	knownFlags  = flagHandle
	maxRightsFd = 1
)

// PacketConn is the subset of *net.UnixConn a connection needs. Every write must produce exactly one
// packet on the receiving side (SOCK_SEQPACKET)
type PacketConn interface {
	ReadMsgUnix(b, oob []byte) (n, oobn, flags int, addr *net.UnixAddr, err error)
	WriteMsgUnix(b, oob []byte, addr *net.UnixAddr) (n, oobn int, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// writePacket writes one packet with the format:
// - 2 bytes: magic (uint16, big endian)
// - 1 byte: version
// - 1 byte: flags (bit 0: an exchange handle travels in the ancillary data)
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload
//
// Header and payload go out in a single write, a packet socket would split them otherwise
func writePacket(conn PacketConn, msg []byte, handle memory.IExchangeHandle) error {
	if headerSize+len(msg) > MaxPacketSize {
		return errors.Wrapf(common.ErrProtocol, "message of %d bytes exceeds the packet size", len(msg))
	}

	packet := make([]byte, headerSize+len(msg))
	binary.BigEndian.PutUint16(packet[0:2], frameMagic)
	packet[2] = frameV1
	binary.BigEndian.PutUint32(packet[4:8], uint32(len(msg)))
	copy(packet[headerSize:], msg)

	var oob []byte
	if handle != nil {
		fd := handle.Fd()
		if fd < 0 {
			return errors.Wrap(common.ErrProtocol, "exchange handle can not be transferred")
		}
		oob = unix.UnixRights(fd)
		packet[3] |= flagHandle
	}

	n, _, err := conn.WriteMsgUnix(packet, oob, nil)
	if err != nil {
		return mapError(err)
	}
	if n != len(packet) {
		return errors.Wrapf(common.ErrProtocol, "short write (%d of %d bytes)", n, len(packet))
	}
	return nil
}

// readPacket reads one packet into buf and returns a copy of its payload.
// Received descriptors are closed on every error path
func readPacket(conn PacketConn, buf, oob []byte) ([]byte, memory.IExchangeHandle, error) {
	n, oobn, flags, _, err := conn.ReadMsgUnix(buf, oob)

	var fds []int
	var rightsErr error
	if oobn > 0 {
		fds, rightsErr = parseRights(oob[:oobn])
	}
	fail := func(err error) ([]byte, memory.IExchangeHandle, error) {
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
		return nil, nil, err
	}

	switch {
	case err != nil:
		return fail(mapError(err))
	case n == 0 && oobn == 0:
		// orderly shutdown of the peer
		return fail(errors.WithMessage(common.ErrPeerDisconnected, "end of stream"))
	case rightsErr != nil:
		return fail(errors.Wrap(common.ErrProtocol, rightsErr.Error()))
	case flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0:
		return fail(errors.Wrap(common.ErrProtocol, "packet truncated"))
	case n < headerSize:
		return fail(errors.Wrapf(common.ErrProtocol, "packet of %d bytes is shorter than the header", n))
	}

	if magic := binary.BigEndian.Uint16(buf[0:2]); magic != frameMagic || buf[2] != frameV1 {
		return fail(errors.Wrapf(common.ErrProtocol, "bad frame header (magic %#x, version %d)", magic, buf[2]))
	}
	hdrFlags := buf[3]
	if hdrFlags&^knownFlags != 0 {
		return fail(errors.Wrapf(common.ErrProtocol, "unknown frame flags %#x", hdrFlags))
	}
	if length := binary.BigEndian.Uint32(buf[4:8]); int(length) != n-headerSize {
		return fail(errors.Wrapf(common.ErrProtocol, "frame length %d does not match packet payload %d", length, n-headerSize))
	}

	hasHandle := hdrFlags&flagHandle != 0
	if hasHandle != (len(fds) == 1) || len(fds) > maxRightsFd {
		return fail(errors.Wrapf(common.ErrProtocol, "frame flags and %d received descriptors disagree", len(fds)))
	}

	msg := make([]byte, n-headerSize)
	copy(msg, buf[headerSize:n])

	var handle memory.IExchangeHandle
	if hasHandle {
		handle = memory.NewFdHandle(fds[0])
	}
	return msg, handle, nil
}

// parseRights extracts all descriptors passed with SCM_RIGHTS
func parseRights(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}

	var fds []int
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return fds, err
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// mapError translates socket errors into the side-channel error kinds
func mapError(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, syscall.EAGAIN):
		return transport.ErrWouldBlock
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, syscall.EPIPE):
		return errors.WithMessage(common.ErrPeerDisconnected, err.Error())
	default:
		// ECONNRESET and everything the kernel did not classify
		return errors.WithMessage(common.ErrPeerCrashed, err.Error())
	}
}

// oobSize is the ancillary buffer size needed to receive one descriptor
func oobSize() int {
	return unix.CmsgSpace(4 * maxRightsFd)
}
