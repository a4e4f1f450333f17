package hwio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockMmioReadWrite(t *testing.T) {
	mmio := NewMockMmio()

	require.Equal(t, uint32(0), mmio.Read32(0x2030), "unwritten registers read zero")

	mmio.Write32(0x2030, 0x1234)
	require.Equal(t, uint32(0x1234), mmio.Read32(0x2030))

	mmio.Write32(0x2358, 0x44332211)
	mmio.Write32(0x235C, 0x1)
	require.Equal(t, uint64(0x1_44332211), mmio.Read64(0x2358))
}

func TestMockMmioWriteHook(t *testing.T) {
	mmio := NewMockMmio()

	type write struct {
		offset uint32
		value  uint32
	}
	var writes []write
	mmio.SetWriteHook(func(offset, value uint32) {
		writes = append(writes, write{offset, value})
	})

	mmio.Write32(0x2230, 0xAA)
	mmio.Write32(0x2234, 0xBB)

	require.Equal(t, []write{{0x2230, 0xAA}, {0x2234, 0xBB}}, writes)
}

func TestForcewakeRequestAndRelease(t *testing.T) {
	mmio := NewMockMmio()
	io := NewRegisterIo(mmio)

	require.False(t, io.ForcewakeActive(ForcewakeGen9Render))

	require.NoError(t, io.ForcewakeRequest(ForcewakeGen9Render))
	require.True(t, io.ForcewakeActive(ForcewakeGen9Render))
	require.Equal(t, uint32(forcewakeBit<<16|forcewakeBit), mmio.Read32(forcewakeGen9RenderRequest))
	require.Equal(t, uint32(forcewakeBit), mmio.Read32(forcewakeGen9RenderStatus))

	require.NoError(t, io.ForcewakeRelease(ForcewakeGen9Render))
	require.False(t, io.ForcewakeActive(ForcewakeGen9Render))
	require.Equal(t, uint32(forcewakeBit<<16), mmio.Read32(forcewakeGen9RenderRequest))
	require.Equal(t, uint32(0), mmio.Read32(forcewakeGen9RenderStatus))
}

func TestForcewakeNesting(t *testing.T) {
	mmio := NewMockMmio()
	io := NewRegisterIo(mmio)

	require.NoError(t, io.ForcewakeRequest(ForcewakeGen12Gt))
	require.NoError(t, io.ForcewakeRequest(ForcewakeGen12Gt))

	require.NoError(t, io.ForcewakeRelease(ForcewakeGen12Gt))
	require.True(t, io.ForcewakeActive(ForcewakeGen12Gt),
		"inner release keeps the wake held")

	require.NoError(t, io.ForcewakeRelease(ForcewakeGen12Gt))
	require.False(t, io.ForcewakeActive(ForcewakeGen12Gt))

	require.Error(t, io.ForcewakeRelease(ForcewakeGen12Gt), "release without request")
}

// stallMmio never acks forcewake: writes to the request register are
// swallowed before MockMmio's self-ack can run.
type stallMmio struct {
	*MockMmio
}

func (m stallMmio) Write32(offset uint32, value uint32) {
	if offset == forcewakeGen9RenderRequest {
		return
	}
	m.MockMmio.Write32(offset, value)
}

func TestForcewakeAckTimeout(t *testing.T) {
	io := NewRegisterIo(stallMmio{NewMockMmio()})

	var slept int
	io.sleep = func(d time.Duration) {
		require.Equal(t, forcewakeRetryDelay, d)
		slept++
	}

	err := io.ForcewakeRequest(ForcewakeGen9Render)
	require.Error(t, err)
	require.Equal(t, forcewakeMaxRetries, slept)
	require.False(t, io.ForcewakeActive(ForcewakeGen9Render))
}
