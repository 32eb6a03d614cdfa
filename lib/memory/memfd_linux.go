//go:build linux

package memory

import (
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sys/unix"
)

var Logger = logger.GetLogger("memory")

// NewMemfdManager creates a memory manager that backs every region by an anonymous memory file.
// Regions can be shared with any process that receives one of their exchange handles
func NewMemfdManager() IMemoryManager {
	return &memfdManager{}
}

// memfdManager implements IMemoryManager using memfd_create and mmap
type memfdManager struct{}

// memfdRegion is a mapped memory file. It keeps its own descriptor so that new exchange handles
// can be created at any time
type memfdRegion struct {
	name string
	fd   int
	data []byte
}

// --------------------------------------------------------------------------
// Interface Methods (docu see memory.IMemoryManager)
// --------------------------------------------------------------------------

func (m *memfdManager) Allocate(name string, size int) (IRegion, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory file %s: %v", name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to resize memory file %s: %v", name, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map memory file %s: %v", name, err)
	}

	Logger.Debugf("allocated region %s (%d bytes, fd %d)", name, size, fd)
	return &memfdRegion{name: name, fd: fd, data: data}, nil
}

func (m *memfdManager) Map(handle IExchangeHandle, size int, readOnly bool) (IRegion, error) {
	if handle == nil || handle.Fd() < 0 {
		return nil, fmt.Errorf("exchange handle does not refer to a memory file")
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid region size %d", size)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(handle.Fd(), &stat); err != nil {
		return nil, fmt.Errorf("failed to stat memory file: %v", err)
	}
	if stat.Size < int64(size) {
		return nil, fmt.Errorf("memory file too small: %d bytes, expected at least %d", stat.Size, size)
	}

	// the region keeps its own descriptor, the handle stays with the caller
	fd, err := unix.FcntlInt(uintptr(handle.Fd()), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate exchange handle: %v", err)
	}

	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(fd, 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("failed to map memory file: %v", err)
	}

	return &memfdRegion{fd: fd, data: data}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see memory.IRegion)
// --------------------------------------------------------------------------

func (r *memfdRegion) Name() string {
	return r.name
}

func (r *memfdRegion) Bytes() []byte {
	return r.data
}

func (r *memfdRegion) ExchangeHandle() (IExchangeHandle, error) {
	if r.data == nil {
		return nil, fmt.Errorf("region %s is closed", r.name)
	}
	fd, err := unix.FcntlInt(uintptr(r.fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate descriptor of region %s: %v", r.name, err)
	}
	return NewFdHandle(fd), nil
}

func (r *memfdRegion) Close() error {
	if r.data == nil {
		return nil
	}
	errUnmap := unix.Munmap(r.data)
	errClose := unix.Close(r.fd)
	r.data = nil
	if errUnmap != nil {
		return fmt.Errorf("failed to unmap region %s: %v", r.name, errUnmap)
	}
	if errClose != nil {
		return fmt.Errorf("failed to close region %s: %v", r.name, errClose)
	}
	return nil
}
