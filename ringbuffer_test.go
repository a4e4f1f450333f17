package msd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingbufferRejectsNonPow2Size(t *testing.T) {
	_, err := newRingbuffer("bad", 3000)
	require.Error(t, err)
}

func TestRingbufferEmptyHasSpace(t *testing.T) {
	rb, err := newRingbuffer("rb", 4096)
	require.NoError(t, err)
	defer rb.teardown()

	require.True(t, rb.HasSpace(4096-dwordSize))
	require.False(t, rb.HasSpace(4096))
}

func TestRingbufferWriteAdvancesTail(t *testing.T) {
	rb, err := newRingbuffer("rb", 4096)
	require.NoError(t, err)
	defer rb.teardown()

	rb.Write32(0x12345678)
	rb.Write32(0x9ABCDEF0)

	require.Equal(t, uint32(8), rb.Tail())
	require.Equal(t, uint32(0x12345678), rb.ReadDword(0))
	require.Equal(t, uint32(0x9ABCDEF0), rb.ReadDword(4))
}

func TestRingbufferTailWraps(t *testing.T) {
	rb, err := newRingbuffer("rb", 256)
	require.NoError(t, err)
	defer rb.teardown()

	for i := 0; i < 60; i++ {
		rb.Write32(uint32(i))
	}
	require.Equal(t, uint32(240), rb.Tail())
	require.False(t, rb.HasSpace(5*dwordSize))

	// Consuming makes space available across the wrap boundary.
	require.NoError(t, rb.UpdateHead(100*dwordSize%256))
	require.True(t, rb.HasSpace(5*dwordSize))

	for i := 0; i < 5; i++ {
		rb.Write32(uint32(100 + i))
	}
	require.Equal(t, uint32(4), rb.Tail())
	require.Equal(t, uint32(104), rb.ReadDword(0))
	require.Equal(t, uint32(103), rb.ReadDword(252))
}

func TestRingbufferUpdateHeadValidates(t *testing.T) {
	rb, err := newRingbuffer("rb", 256)
	require.NoError(t, err)
	defer rb.teardown()

	require.Error(t, rb.UpdateHead(3))
	require.Error(t, rb.UpdateHead(256))
	require.NoError(t, rb.UpdateHead(0))
	require.NoError(t, rb.UpdateHead(252))
}
