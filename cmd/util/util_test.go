package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		require.LessOrEqual(t, len(line), Wrap)
	}
	require.Equal(t, "short text", WrapString("  short   text "))
}

func TestPayload(t *testing.T) {
	slot := make([]byte, 64)
	at := time.Unix(1700000000, 42)
	require.NoError(t, EncodePayload(slot, 7, at))

	tick, got, err := DecodePayload(slot)
	require.NoError(t, err)
	require.Equal(t, uint64(7), tick)
	require.True(t, at.Equal(got))

	require.Error(t, EncodePayload(make([]byte, 8), 1, at))
	_, _, err = DecodePayload(make([]byte, 8))
	require.Error(t, err)
}
