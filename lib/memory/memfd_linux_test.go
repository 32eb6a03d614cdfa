//go:build linux

package memory

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemfdManager(t *testing.T) {
	m := NewMemfdManager()
	size := os.Getpagesize()

	region, err := m.Allocate("memcon-test", size)
	require.NoError(t, err)
	defer region.Close()

	copy(region.Bytes(), "hello")

	handle, err := region.ExchangeHandle()
	require.NoError(t, err)
	require.GreaterOrEqual(t, handle.Fd(), 0)

	mapped, err := m.Map(handle, size, true)
	require.NoError(t, err)
	require.NoError(t, handle.Close())
	require.Equal(t, -1, handle.Fd())

	require.Equal(t, "hello", string(mapped.Bytes()[:5]))

	// writes through the allocated region are visible in the mapping
	region.Bytes()[0] = 'j'
	require.Equal(t, "jello", string(mapped.Bytes()[:5]))

	require.NoError(t, mapped.Close())
}

func TestMemfdManagerMapTooSmall(t *testing.T) {
	m := NewMemfdManager()

	region, err := m.Allocate("memcon-small", os.Getpagesize())
	require.NoError(t, err)
	defer region.Close()

	handle, err := region.ExchangeHandle()
	require.NoError(t, err)
	defer handle.Close()

	_, err = m.Map(handle, 4*os.Getpagesize(), false)
	require.Error(t, err)
}
