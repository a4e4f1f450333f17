package msd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func queueStubBatches(context *MsdIntelContext, id EngineID, count int) []*stubBatch {
	batches := make([]*stubBatch, count)
	for i := range batches {
		batches[i] = &stubBatch{context: context}
		context.queuePendingBatch(id, batches[i])
	}
	return batches
}

func TestFifoSchedulerEmptyReturnsNil(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)

	require.Nil(t, scheduler.ScheduleContext())
}

func TestFifoSchedulerDrainsOneContextPerBurst(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)
	context, _, _ := newTestContext(1)
	queueStubBatches(context, RenderEngineID, 3)
	scheduler.CommandBufferQueued(context)

	// Same context until its queue empties.
	for i := 0; i < 3; i++ {
		require.Same(t, context, scheduler.ScheduleContext())
		context.takePendingBatch(RenderEngineID)
	}

	// Queue empty: switch point, then nothing.
	require.Nil(t, scheduler.ScheduleContext())
	require.Nil(t, scheduler.ScheduleContext())
}

func TestFifoSchedulerArrivalOrder(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)
	first, _, _ := newTestContext(1)
	second, _, _ := newTestContext(2)
	queueStubBatches(first, RenderEngineID, 1)
	queueStubBatches(second, RenderEngineID, 1)

	scheduler.CommandBufferQueued(first)
	scheduler.CommandBufferQueued(second)

	require.Same(t, first, scheduler.ScheduleContext())
	first.takePendingBatch(RenderEngineID)
	require.Nil(t, scheduler.ScheduleContext())

	require.Same(t, second, scheduler.ScheduleContext())
	second.takePendingBatch(RenderEngineID)
	require.Nil(t, scheduler.ScheduleContext())
}

func TestFifoSchedulerDedupesQueuedContext(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)
	context, _, _ := newTestContext(1)
	queueStubBatches(context, RenderEngineID, 2)

	scheduler.CommandBufferQueued(context)
	scheduler.CommandBufferQueued(context)

	require.Same(t, context, scheduler.ScheduleContext())
	context.takePendingBatch(RenderEngineID)
	require.Same(t, context, scheduler.ScheduleContext())
	context.takePendingBatch(RenderEngineID)
	require.Nil(t, scheduler.ScheduleContext())
	// The duplicate registration must not resurface the drained context.
	require.Nil(t, scheduler.ScheduleContext())
}

func TestFifoSchedulerSkipsKilledContext(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)
	killed, _, _ := newTestContext(1)
	alive, _, _ := newTestContext(2)
	queueStubBatches(killed, RenderEngineID, 1)
	queueStubBatches(alive, RenderEngineID, 1)

	scheduler.CommandBufferQueued(killed)
	scheduler.CommandBufferQueued(alive)
	killed.Kill()

	require.Same(t, alive, scheduler.ScheduleContext())
}

func TestFifoSchedulerDropsKilledCurrentContext(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)
	first, _, _ := newTestContext(1)
	second, _, _ := newTestContext(2)
	queueStubBatches(first, RenderEngineID, 2)
	queueStubBatches(second, RenderEngineID, 1)

	scheduler.CommandBufferQueued(first)
	scheduler.CommandBufferQueued(second)

	require.Same(t, first, scheduler.ScheduleContext())
	first.takePendingBatch(RenderEngineID)

	// Killed while current with a batch still queued, the way a ring-full
	// deferral followed by hang recovery leaves it.
	first.Kill()

	require.Same(t, second, scheduler.ScheduleContext(),
		"a killed current context must never be handed out again")
	second.takePendingBatch(RenderEngineID)
	require.Nil(t, scheduler.ScheduleContext())
	require.Nil(t, scheduler.ScheduleContext())
}

func TestFifoSchedulerSkipsEmptiedContext(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID)
	context, _, _ := newTestContext(1)
	queueStubBatches(context, RenderEngineID, 1)
	scheduler.CommandBufferQueued(context)

	// Queue drained before the scheduler ran.
	context.takePendingBatch(RenderEngineID)

	require.Nil(t, scheduler.ScheduleContext())
}

func TestFifoSchedulerInflightCounts(t *testing.T) {
	scheduler := NewFifoScheduler(testLogger(), RenderEngineID).(*fifoScheduler)
	context, _, _ := newTestContext(1)

	scheduler.CommandBufferScheduled(context)
	scheduler.CommandBufferScheduled(context)
	require.Equal(t, 2, scheduler.inflightCount(context))

	scheduler.CommandBufferCompleted(context)
	require.Equal(t, 1, scheduler.inflightCount(context))
	scheduler.CommandBufferCompleted(context)
	require.Equal(t, 0, scheduler.inflightCount(context))
}
