package memory

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotConfiguration(t *testing.T) {
	page := os.Getpagesize()

	tests := []struct {
		name   string
		config SlotConfiguration
		stride int
		size   int
	}{
		{"default alignment", SlotConfiguration{NumberOfSlots: 4, SlotContentSize: 10}, 16, page},
		{"explicit alignment", SlotConfiguration{NumberOfSlots: 2, SlotContentSize: 100, Alignment: 64}, 128, page},
		{"multiple pages", SlotConfiguration{NumberOfSlots: 3, SlotContentSize: uint32(page)}, page, 3 * page},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.config.Validate())
			require.Equal(t, tt.stride, tt.config.Stride())
			require.Equal(t, tt.size, tt.config.Size())
			require.Equal(t, 2*tt.stride, tt.config.Offset(2))
		})
	}
}

func TestSlotConfigurationValidate(t *testing.T) {
	require.Error(t, SlotConfiguration{SlotContentSize: 8}.Validate())
	require.Error(t, SlotConfiguration{NumberOfSlots: 1}.Validate())
	require.Error(t, SlotConfiguration{NumberOfSlots: 1, SlotContentSize: 8, Alignment: 12}.Validate())
}

func TestQueueConfiguration(t *testing.T) {
	require.Error(t, QueueConfiguration{}.Validate())

	cfg := QueueConfiguration{NumberOfElements: 16}
	require.NoError(t, cfg.Validate())
	require.Equal(t, os.Getpagesize(), cfg.Size())
	require.GreaterOrEqual(t, cfg.Size(), QueueHeaderSize+16*QueueElementSize)
}

func TestHeapManager(t *testing.T) {
	m := NewHeapManager(0)

	region, err := m.Allocate("slots", 64)
	require.NoError(t, err)
	require.Equal(t, "slots", region.Name())
	require.Len(t, region.Bytes(), 64)

	handle, err := region.ExchangeHandle()
	require.NoError(t, err)
	require.Equal(t, -1, handle.Fd())

	mapped, err := m.Map(handle, 32, true)
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	region.Bytes()[3] = 42
	require.Equal(t, byte(42), mapped.Bytes()[3])

	t.Run("map too large", func(t *testing.T) {
		h, err := region.ExchangeHandle()
		require.NoError(t, err)
		_, err = m.Map(h, 128, false)
		require.Error(t, err)
	})

	t.Run("foreign handle", func(t *testing.T) {
		h, err := region.ExchangeHandle()
		require.NoError(t, err)
		_, err = NewHeapManager(0).Map(h, 8, false)
		require.Error(t, err)
	})

	require.NoError(t, mapped.Close())
	require.NoError(t, region.Close())

	_, err = region.ExchangeHandle()
	require.Error(t, err)
}

func TestHeapManagerLimit(t *testing.T) {
	m := NewHeapManager(100)

	first, err := m.Allocate("first", 60)
	require.NoError(t, err)

	_, err = m.Allocate("second", 60)
	require.Error(t, err)

	require.NoError(t, first.Close())

	second, err := m.Allocate("second", 60)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
