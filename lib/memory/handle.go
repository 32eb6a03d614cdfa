//go:build unix

package memory

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// fdHandle is an exchange handle backed by a file descriptor
type fdHandle struct {
	fd     int
	closed atomic.Bool
}

// NewFdHandle wraps fd into an exchange handle. The handle takes ownership of fd
func NewFdHandle(fd int) IExchangeHandle {
	return &fdHandle{fd: fd}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see memory.IExchangeHandle)
// --------------------------------------------------------------------------

func (h *fdHandle) Fd() int {
	if h.closed.Load() {
		return -1
	}
	return h.fd
}

func (h *fdHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(h.fd)
}
