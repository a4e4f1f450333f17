package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressSpaceMapBufferGpu(t *testing.T) {
	space := NewAddressSpace("test", 0x10000, 0x100000)

	buffer, err := NewBuffer(2*PageSize, "a")
	require.NoError(t, err)

	mapping, err := space.MapBufferGpu(buffer)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), mapping.GpuAddr())
	require.Equal(t, uint64(2*PageSize), mapping.Length())
	require.Same(t, buffer, mapping.Buffer())
	require.Equal(t, 1, space.MappingCount())
}

func TestAddressSpaceMappingsDoNotOverlap(t *testing.T) {
	space := NewAddressSpace("test", 0x10000, 0x100000)

	bufferA, err := NewBuffer(PageSize, "a")
	require.NoError(t, err)
	bufferB, err := NewBuffer(3*PageSize, "b")
	require.NoError(t, err)

	mappingA, err := space.MapBufferGpu(bufferA)
	require.NoError(t, err)
	mappingB, err := space.MapBufferGpu(bufferB)
	require.NoError(t, err)

	require.Equal(t, mappingA.GpuAddr()+mappingA.Length(), mappingB.GpuAddr())
	require.Equal(t, 2, space.MappingCount())
}

func TestAddressSpaceMapRangeValidation(t *testing.T) {
	space := NewAddressSpace("test", 0, 0x100000)

	buffer, err := NewBuffer(2*PageSize, "a")
	require.NoError(t, err)

	_, err = space.MapBufferGpuRange(buffer, 1, 2)
	require.Error(t, err, "range extends past the end of the buffer")

	mapping, err := space.MapBufferGpuRange(buffer, 1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(PageSize), mapping.Length())
}

func TestAddressSpaceExhaustion(t *testing.T) {
	space := NewAddressSpace("test", 0x10000, 2*PageSize)

	buffer, err := NewBuffer(PageSize, "a")
	require.NoError(t, err)

	_, err = space.MapBufferGpu(buffer)
	require.NoError(t, err)
	_, err = space.MapBufferGpu(buffer)
	require.NoError(t, err)

	_, err = space.MapBufferGpu(buffer)
	require.Error(t, err)
}

func TestAddressSpaceRelease(t *testing.T) {
	space := NewAddressSpace("test", 0x10000, 0x100000)

	buffer, err := NewBuffer(PageSize, "a")
	require.NoError(t, err)

	mapping, err := space.MapBufferGpu(buffer)
	require.NoError(t, err)
	require.Equal(t, 1, space.MappingCount())

	require.NoError(t, mapping.Release())
	require.Equal(t, 0, space.MappingCount())

	require.Error(t, mapping.Release(), "double release")
}

func TestAddressSpaceMapFixed(t *testing.T) {
	space := NewAddressSpace("test", 0x10000, 0x100000)

	buffer, err := NewBuffer(PageSize, "a")
	require.NoError(t, err)

	mapping, err := space.MapBufferGpuFixed(buffer, 0x20000)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), mapping.GpuAddr())

	_, err = space.MapBufferGpuFixed(buffer, 0x20000)
	require.Error(t, err, "address already mapped")

	_, err = space.MapBufferGpuFixed(buffer, 0x20004)
	require.Error(t, err, "unaligned address")

	_, err = space.MapBufferGpuFixed(buffer, 0x8000)
	require.Error(t, err, "address below the space")
}
