package logic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDroppedInformation(t *testing.T) {
	d := NewDroppedInformation(70)
	require.Equal(t, 70, d.Capacity())
	require.Equal(t, 0, d.Len())

	d.Add(0)
	d.Add(3)
	d.Add(65)
	d.Add(65)
	d.Add(100) // out of range, ignored

	require.True(t, d.Contains(3))
	require.True(t, d.Contains(65))
	require.False(t, d.Contains(4))
	require.False(t, d.Contains(100))
	require.Equal(t, 3, d.Len())
	require.Equal(t, []ClassHandle{0, 3, 65}, d.Classes())

	d.Reset()
	require.Equal(t, 0, d.Len())
	require.Empty(t, d.Classes())
}

func TestSlotToken(t *testing.T) {
	token := NewSlotToken(4, 9)
	require.Equal(t, uint32(4), token.Index())
	require.Equal(t, uint64(9), token.Generation())
	require.Equal(t, "slot 4 (gen 9)", token.String())
}
