package msd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vsrinivas/msd-intel-gen/platform"
)

func TestCommandBufferRejectsBadBatchIndex(t *testing.T) {
	_, err := NewCommandBuffer(1, 0, []ExecResource{testExecResource(t)}, 1, 0, nil, nil)
	require.Error(t, err)

	_, err = NewCommandBuffer(1, 0, []ExecResource{testExecResource(t)}, -1, 0, nil, nil)
	require.Error(t, err)
}

func TestCommandBufferPrepareMapsResources(t *testing.T) {
	context, _, _ := newTestContext(1)
	ppgtt := platform.NewAddressSpace("ppgtt", 1<<32, 1<<24)

	resources := []ExecResource{testExecResource(t), testExecResource(t)}
	cmdBuf, err := NewCommandBuffer(1, 0, resources, 1, 0x40, nil, nil)
	require.NoError(t, err)

	require.NoError(t, cmdBuf.PrepareForExecution(context, ppgtt))
	require.Equal(t, 2, ppgtt.MappingCount())
	require.Same(t, context, cmdBuf.Context())

	gpuAddr, ok := cmdBuf.GetGpuAddress()
	require.True(t, ok)
	require.Equal(t, uint64(0x40), gpuAddr&0xFFF)
	require.Equal(t, uint64(platform.PageSize-0x40), cmdBuf.GetLength())

	// Double prepare is a caller bug.
	require.Error(t, cmdBuf.PrepareForExecution(context, ppgtt))
}

func TestCommandBufferPrepareRejectsOffsetPastBatch(t *testing.T) {
	context, _, _ := newTestContext(1)
	ppgtt := platform.NewAddressSpace("ppgtt", 1<<32, 1<<24)

	cmdBuf, err := NewCommandBuffer(1, 0, []ExecResource{testExecResource(t)}, 0,
		platform.PageSize, nil, nil)
	require.NoError(t, err)

	require.Error(t, cmdBuf.PrepareForExecution(context, ppgtt))
	// Failed preparation releases whatever it mapped.
	require.Equal(t, 0, ppgtt.MappingCount())
}

func TestCommandBufferCompletionOrdering(t *testing.T) {
	context, notifier, _ := newTestContext(1)
	ppgtt := platform.NewAddressSpace("ppgtt", 1<<32, 1<<24)

	signal := platform.NewSemaphore()
	cmdBuf, err := NewCommandBuffer(9, 0, []ExecResource{testExecResource(t)}, 0, 0,
		nil, []*platform.Semaphore{signal})
	require.NoError(t, err)
	require.NoError(t, cmdBuf.PrepareForExecution(context, ppgtt))

	cmdBuf.batchCompleted()

	require.True(t, signal.TryWait())
	require.Equal(t, []uint64{9}, notifier.completedBuffers)
	require.Equal(t, 0, ppgtt.MappingCount())
}

func TestCommandBufferTargetEngineFlag(t *testing.T) {
	render, err := NewCommandBuffer(1, 0, []ExecResource{testExecResource(t)}, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Equal(t, RenderEngineID, render.TargetEngine())

	video, err := NewCommandBuffer(1, CommandBufferForVideo, []ExecResource{testExecResource(t)}, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Equal(t, VideoEngineID, video.TargetEngine())
}
