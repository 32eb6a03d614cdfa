package local

import (
	"testing"

	"github.com/ValentinKolb/memcon/lib/memory"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	cfg := memory.QueueConfiguration{NumberOfElements: 3}
	region := make([]byte, cfg.Size())

	producer, err := NewQueue(region, cfg)
	require.NoError(t, err)
	consumer, err := NewQueue(region, cfg)
	require.NoError(t, err)

	_, ok := consumer.Pop()
	require.False(t, ok)

	// wrap around a few times
	for round := uint32(0); round < 4; round++ {
		require.True(t, producer.Push(round*10+1))
		require.True(t, producer.Push(round*10+2))
		require.True(t, producer.Push(round*10+3))
		require.False(t, producer.Push(99))
		require.Equal(t, 3, consumer.Len())

		for i := uint32(1); i <= 3; i++ {
			v, ok := consumer.Pop()
			require.True(t, ok)
			require.Equal(t, round*10+i, v)
		}
		require.Equal(t, 0, consumer.Len())
	}
}

func TestQueueRegionTooSmall(t *testing.T) {
	_, err := NewQueue(make([]byte, 64), memory.QueueConfiguration{NumberOfElements: 8})
	require.Error(t, err)

	_, err = NewQueue(make([]byte, 4096), memory.QueueConfiguration{})
	require.Error(t, err)
}
