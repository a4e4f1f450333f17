package msd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vsrinivas/msd-intel-gen/platform"
)

func TestContextSubmitBatchForwardsWhenUnblocked(t *testing.T) {
	context, _, submitter := newTestContext(1)

	batch := &stubBatch{context: context}
	require.NoError(t, context.SubmitBatch(batch))

	require.Len(t, submitter.batches, 1)
	require.Same(t, batch, submitter.batches[0].(*stubBatch))
	require.Equal(t, 0, context.PresubmitQueueLength())
}

func TestContextSubmitAfterKillFails(t *testing.T) {
	context, notifier, _ := newTestContext(7)

	context.Kill()
	require.Equal(t, []uint64{7}, notifier.killedContexts)

	err := context.SubmitBatch(&stubBatch{context: context})
	require.ErrorIs(t, err, ErrContextKilled)
}

func TestContextKillPurgesPresubmitQueue(t *testing.T) {
	context, _, submitter := newTestContext(1)

	wait := platform.NewSemaphore()
	cmdBuf, err := NewCommandBuffer(10, 0, []ExecResource{testExecResource(t)}, 0, 0,
		[]*platform.Semaphore{wait}, nil)
	require.NoError(t, err)
	require.NoError(t, context.SubmitBatch(cmdBuf))
	require.NoError(t, context.SubmitBatch(&stubBatch{context: context}))
	require.Equal(t, 2, context.PresubmitQueueLength())

	context.Kill()
	require.Equal(t, 0, context.PresubmitQueueLength())

	// Signaling after the kill must not resurrect the purged work.
	wait.Signal()
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, submitter.batches)
}

func TestContextSemaphoreGatesSubmissionOrder(t *testing.T) {
	context, _, submitter := newTestContext(1)

	wait := platform.NewSemaphore()
	blocked, err := NewCommandBuffer(10, 0, []ExecResource{testExecResource(t)}, 0, 0,
		[]*platform.Semaphore{wait}, nil)
	require.NoError(t, err)

	require.NoError(t, context.SubmitBatch(blocked))
	require.Empty(t, submitter.batches)

	// A batch behind the blocked one must not jump ahead even though it has
	// no waits of its own.
	trailing := &stubBatch{context: context}
	require.NoError(t, context.SubmitBatch(trailing))
	require.Empty(t, submitter.batches)
	require.Equal(t, 2, context.PresubmitQueueLength())

	wait.Signal()
	require.Eventually(t, func() bool {
		context.presubmitMutex.Lock()
		defer context.presubmitMutex.Unlock()
		return len(submitter.batches) == 2
	}, time.Second, time.Millisecond)

	require.Same(t, blocked, submitter.batches[0].(*CommandBuffer))
	require.Same(t, trailing, submitter.batches[1].(*stubBatch))
}

func TestContextTwoSemaphoresBothGateSubmission(t *testing.T) {
	context, _, submitter := newTestContext(1)

	waitA := platform.NewSemaphore()
	waitB := platform.NewSemaphore()
	cmdBuf, err := NewCommandBuffer(10, 0, []ExecResource{testExecResource(t)}, 0, 0,
		[]*platform.Semaphore{waitA, waitB}, nil)
	require.NoError(t, err)

	require.NoError(t, context.SubmitBatch(cmdBuf))
	require.Empty(t, submitter.batches)

	// One of two signals is not enough.
	waitA.Signal()
	context.presubmitMutex.Lock()
	require.Empty(t, submitter.batches)
	require.Equal(t, 1, context.presubmitWaitCount)
	context.presubmitMutex.Unlock()

	waitB.Signal()
	context.presubmitMutex.Lock()
	defer context.presubmitMutex.Unlock()
	require.Len(t, submitter.batches, 1)
	require.Same(t, cmdBuf, submitter.batches[0].(*CommandBuffer))
	require.Equal(t, 0, context.presubmitQueue.Length())
}

func TestContextPreSignaledSemaphoreDoesNotBlock(t *testing.T) {
	context, _, submitter := newTestContext(1)

	wait := platform.NewSemaphore()
	wait.Signal()
	cmdBuf, err := NewCommandBuffer(10, 0, []ExecResource{testExecResource(t)}, 0, 0,
		[]*platform.Semaphore{wait}, nil)
	require.NoError(t, err)

	require.NoError(t, context.SubmitBatch(cmdBuf))
	require.Len(t, submitter.batches, 1)
	// The wait consumed the semaphore.
	require.False(t, wait.TryWait())
}

func TestContextTargetStreamerFirstWriteWins(t *testing.T) {
	context, _, _ := newTestContext(1)

	_, bound := context.TargetCommandStreamer()
	require.False(t, bound)

	context.SetTargetCommandStreamer(RenderEngineID)
	context.SetTargetCommandStreamer(RenderEngineID)

	id, bound := context.TargetCommandStreamer()
	require.True(t, bound)
	require.Equal(t, RenderEngineID, id)

	require.Panics(t, func() {
		context.SetTargetCommandStreamer(VideoEngineID)
	})
}

func TestContextInitEngineStateOnce(t *testing.T) {
	context, _, _ := newTestContext(1)

	buffer, err := platform.NewBuffer(2*platform.PageSize, "ctx")
	require.NoError(t, err)
	rb, err := newRingbuffer("rb", 4096)
	require.NoError(t, err)

	require.NoError(t, context.InitEngineState(RenderEngineID, buffer, rb, 9, 0x2000))
	require.True(t, context.IsInitializedForEngine(RenderEngineID))
	require.False(t, context.IsInitializedForEngine(VideoEngineID))

	buffer2, err := platform.NewBuffer(2*platform.PageSize, "ctx2")
	require.NoError(t, err)
	require.Error(t, context.InitEngineState(RenderEngineID, buffer2, rb, 9, 0x2000))
}

func testExecResource(t *testing.T) ExecResource {
	t.Helper()
	buffer, err := platform.NewBuffer(platform.PageSize, "resource")
	require.NoError(t, err)
	return ExecResource{Buffer: buffer, Offset: 0, Length: platform.PageSize}
}
