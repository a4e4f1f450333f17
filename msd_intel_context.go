package msd

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/eapache/queue"
	"github.com/vsrinivas/msd-intel-gen/platform"
	"github.com/vsrinivas/msd-intel-gen/registers"
	"golang.org/x/exp/slog"
)

// ErrContextKilled is returned for any submission against a killed context.
var ErrContextKilled = errors.New("context killed")

// connectionNotifier is the context's back-reference to its connection:
// notification relation only, never ownership.
type connectionNotifier interface {
	NotifyCommandBufferCompleted(bufferID uint64)
	NotifyContextKilled(contextID uint64)
}

// batchSubmitter forwards a ready batch toward the device thread.
type batchSubmitter interface {
	SubmitBatch(batch MappedBatch) error
}

// contextEngineState is the per-engine half of a context: the hardware
// register-state image, its ring buffer, and the queue of batches accepted
// by the scheduler but not yet written to the ring. All of it is device-
// thread-owned.
type contextEngineState struct {
	contextBuffer  *platform.Buffer
	contextMapping *platform.GpuMapping
	contextCpuAddr []byte
	ringbuffer     *Ringbuffer
	stateWriter    registerStateWriter

	pendingBatchQueue *queue.Queue
}

// MsdIntelContext is one client's execution state. The presubmit queue is
// the only structure shared across threads (buffer release can enqueue off
// the device thread) and is mutex protected; everything per-engine belongs
// to the device thread.
type MsdIntelContext struct {
	logger    *slog.Logger
	id        uint64
	notifier  connectionNotifier
	submitter batchSubmitter

	killed atomic.Bool

	presubmitMutex sync.Mutex
	presubmitQueue *queue.Queue
	// Unsatisfied wait-semaphore count for the head-of-queue batch; while
	// non-zero the queue is blocked, preserving strict submission order.
	presubmitWaitCount int

	// Device-thread-owned.
	engineState       map[EngineID]*contextEngineState
	targetStreamer    EngineID
	targetStreamerSet bool
}

func NewMsdIntelContext(logger *slog.Logger, id uint64, notifier connectionNotifier, submitter batchSubmitter) *MsdIntelContext {
	return &MsdIntelContext{
		logger:         logger,
		id:             id,
		notifier:       notifier,
		submitter:      submitter,
		presubmitQueue: queue.New(),
		engineState:    map[EngineID]*contextEngineState{},
	}
}

func (c *MsdIntelContext) ID() uint64   { return c.id }
func (c *MsdIntelContext) Killed() bool { return c.killed.Load() }

// SetTargetCommandStreamer permanently binds the context to the engine its
// first batch submits to; a second bind to a different engine is a driver
// bug.
func (c *MsdIntelContext) SetTargetCommandStreamer(id EngineID) {
	if c.targetStreamerSet {
		if c.targetStreamer != id {
			panic("context target command streamer set twice")
		}
		return
	}
	c.targetStreamer = id
	c.targetStreamerSet = true
}

// TargetCommandStreamer returns the engine this context is bound to.
func (c *MsdIntelContext) TargetCommandStreamer() (EngineID, bool) {
	return c.targetStreamer, c.targetStreamerSet
}

// Kill is the terminal transition: all further submissions fail and the
// client is notified. In-flight work is abandoned by the owning engine
// during its reset.
func (c *MsdIntelContext) Kill() {
	if c.killed.Swap(true) {
		return
	}

	c.logger.Info("context killed", slog.Uint64("context_id", c.id))

	c.presubmitMutex.Lock()
	for c.presubmitQueue.Length() > 0 {
		c.presubmitQueue.Remove()
	}
	c.presubmitWaitCount = 0
	c.presubmitMutex.Unlock()

	if c.notifier != nil {
		c.notifier.NotifyContextKilled(c.id)
	}
}

// SubmitCommandBuffer enqueues a client command buffer behind any batches
// already waiting on semaphores.
func (c *MsdIntelContext) SubmitCommandBuffer(cmdBuf *CommandBuffer) error {
	return c.SubmitBatch(cmdBuf)
}

// SubmitBatch pushes onto the presubmit queue; if the queue was empty the
// head batch is processed immediately.
func (c *MsdIntelContext) SubmitBatch(batch MappedBatch) error {
	if c.Killed() {
		return errors.Wrapf(ErrContextKilled, "context %d", c.id)
	}

	c.presubmitMutex.Lock()
	defer c.presubmitMutex.Unlock()

	c.presubmitQueue.Add(batch)
	if c.presubmitQueue.Length() == 1 {
		c.processPresubmitQueueLocked()
	}
	return nil
}

// processPresubmitQueueLocked hands ready batches to the submitter in FIFO
// order, stopping at the first batch with unsatisfied wait semaphores. A
// batch behind a blocked one never jumps ahead regardless of its own
// semaphore state.
func (c *MsdIntelContext) processPresubmitQueueLocked() {
	for c.presubmitQueue.Length() > 0 {
		batch := c.presubmitQueue.Peek().(MappedBatch)

		if cmdBuf, ok := batch.(*CommandBuffer); ok {
			unsatisfied := 0
			for _, sem := range cmdBuf.WaitSemaphores() {
				if !sem.TryWait() {
					unsatisfied++
					sem.WaitAsync(c.presubmitSemaphoreSignaled)
				}
			}
			if unsatisfied > 0 {
				c.presubmitWaitCount = unsatisfied
				return
			}
		}

		c.presubmitQueue.Remove()
		if err := c.submitter.SubmitBatch(batch); err != nil {
			c.logger.Warn("failed to submit batch from presubmit queue",
				slog.Uint64("context_id", c.id), slog.Any("error", err))
		}
	}
}

// presubmitSemaphoreSignaled runs on the semaphore's signaling goroutine.
func (c *MsdIntelContext) presubmitSemaphoreSignaled() {
	if c.Killed() {
		return
	}

	c.presubmitMutex.Lock()
	defer c.presubmitMutex.Unlock()

	if c.presubmitWaitCount == 0 {
		return
	}
	c.presubmitWaitCount--
	if c.presubmitWaitCount > 0 {
		return
	}

	if c.presubmitQueue.Length() == 0 {
		return
	}
	batch := c.presubmitQueue.Remove().(MappedBatch)
	if err := c.submitter.SubmitBatch(batch); err != nil {
		c.logger.Warn("failed to submit batch after semaphore wait",
			slog.Uint64("context_id", c.id), slog.Any("error", err))
	}
	c.processPresubmitQueueLocked()
}

// PresubmitQueueLength is a diagnostic accessor.
func (c *MsdIntelContext) PresubmitQueueLength() int {
	c.presubmitMutex.Lock()
	defer c.presubmitMutex.Unlock()
	return c.presubmitQueue.Length()
}

func (c *MsdIntelContext) notifyCommandBufferCompleted(bufferID uint64) {
	if c.notifier != nil {
		c.notifier.NotifyCommandBufferCompleted(bufferID)
	}
}

// --- Device-thread-owned per-engine state. ---

// InitEngineState installs an engine's context image and ring buffer,
// created by that engine's InitContext.
func (c *MsdIntelContext) InitEngineState(id EngineID, contextBuffer *platform.Buffer,
	ringbuffer *Ringbuffer, gen registers.Gen, mmioBase uint32) error {
	state := c.engineStateFor(id)
	if state.contextBuffer != nil {
		return errors.Newf("context %d already initialized for engine %s", c.id, id)
	}

	cpuAddr, err := contextBuffer.MapCpu()
	if err != nil {
		return errors.Wrap(err, "failed to map context buffer")
	}

	// Page 0 is the per-process status page; register state starts on the
	// second page.
	writer := newRegisterStateWriter(gen, cpuAddr[platform.PageSize:], mmioBase)
	writer.initialize()
	writer.setRingbufferControl(ringbuffer.Size())

	state.contextBuffer = contextBuffer
	state.contextCpuAddr = cpuAddr
	state.ringbuffer = ringbuffer
	state.stateWriter = writer
	return nil
}

func (c *MsdIntelContext) IsInitializedForEngine(id EngineID) bool {
	state, ok := c.engineState[id]
	return ok && state.contextBuffer != nil
}

// MapGpu maps the context image and ring buffer into the address space and
// loads the resulting addresses into the register state.
func (c *MsdIntelContext) MapGpu(id EngineID, space *platform.AddressSpace) error {
	state, ok := c.engineState[id]
	if !ok || state.contextBuffer == nil {
		return errors.Newf("context %d not initialized for engine %s", c.id, id)
	}
	if state.contextMapping != nil {
		return nil
	}

	mapping, err := space.MapBufferGpu(state.contextBuffer)
	if err != nil {
		return errors.Wrap(err, "failed to gpu-map context buffer")
	}

	if err := state.ringbuffer.MapGpu(space); err != nil {
		_ = mapping.Release()
		return err
	}

	state.contextMapping = mapping
	ringAddr, _ := state.ringbuffer.GetGpuAddress()
	state.stateWriter.setRingbufferStart(ringAddr)
	return nil
}

// GetGpuAddress returns the context image GPU address for the engine.
func (c *MsdIntelContext) GetGpuAddress(id EngineID) (uint64, bool) {
	state, ok := c.engineState[id]
	if !ok || state.contextMapping == nil {
		return 0, false
	}
	return state.contextMapping.GpuAddr(), true
}

func (c *MsdIntelContext) Ringbuffer(id EngineID) *Ringbuffer {
	state, ok := c.engineState[id]
	if !ok {
		return nil
	}
	return state.ringbuffer
}

func (c *MsdIntelContext) stateWriterFor(id EngineID) registerStateWriter {
	state, ok := c.engineState[id]
	if !ok {
		return nil
	}
	return state.stateWriter
}

// engineStateFor returns the per-engine state, creating a bare entry whose
// hardware half is filled in later by InitEngineState.
func (c *MsdIntelContext) engineStateFor(id EngineID) *contextEngineState {
	state, ok := c.engineState[id]
	if !ok {
		state = &contextEngineState{pendingBatchQueue: queue.New()}
		c.engineState[id] = state
	}
	return state
}

// queuePendingBatch appends a batch accepted by the scheduler but not yet
// written to the ring.
func (c *MsdIntelContext) queuePendingBatch(id EngineID, batch MappedBatch) {
	c.engineStateFor(id).pendingBatchQueue.Add(batch)
}

func (c *MsdIntelContext) PendingBatchCount(id EngineID) int {
	state, ok := c.engineState[id]
	if !ok {
		return 0
	}
	return state.pendingBatchQueue.Length()
}

// purgePendingBatches drops batches queued for the engine but never written
// to the ring. Their completion side effects do not run.
func (c *MsdIntelContext) purgePendingBatches(id EngineID) {
	state, ok := c.engineState[id]
	if !ok {
		return
	}
	for state.pendingBatchQueue.Length() > 0 {
		state.pendingBatchQueue.Remove()
	}
}

// peekPendingBatch returns the head batch without removing it, so callers
// can verify ring space first.
func (c *MsdIntelContext) peekPendingBatch(id EngineID) (MappedBatch, bool) {
	state, ok := c.engineState[id]
	if !ok || state.pendingBatchQueue.Length() == 0 {
		return nil, false
	}
	return state.pendingBatchQueue.Peek().(MappedBatch), true
}

func (c *MsdIntelContext) takePendingBatch(id EngineID) (MappedBatch, bool) {
	state, ok := c.engineState[id]
	if !ok || state.pendingBatchQueue.Length() == 0 {
		return nil, false
	}
	return state.pendingBatchQueue.Remove().(MappedBatch), true
}

// Shutdown releases all per-engine resources; runs on the device thread
// once the connection has dropped the context.
func (c *MsdIntelContext) Shutdown() {
	for id, state := range c.engineState {
		for state.pendingBatchQueue.Length() > 0 {
			state.pendingBatchQueue.Remove()
		}
		if state.ringbuffer != nil {
			state.ringbuffer.teardown()
		}
		if state.contextMapping != nil {
			_ = state.contextMapping.Release()
			state.contextMapping = nil
		}
		if state.contextCpuAddr != nil {
			_ = state.contextBuffer.UnmapCpu()
			state.contextCpuAddr = nil
		}
		delete(c.engineState, id)
	}
}
