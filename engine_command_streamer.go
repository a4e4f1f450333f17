package msd

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eapache/queue"
	"github.com/vsrinivas/msd-intel-gen/hwio"
	"github.com/vsrinivas/msd-intel-gen/platform"
	"github.com/vsrinivas/msd-intel-gen/registers"
	"golang.org/x/exp/slog"
)

// engineOwner is the slice of the device an engine command streamer needs.
// Everything here is called on the device thread only.
type engineOwner interface {
	RegisterIo() *hwio.RegisterIo
	Sequencer() *Sequencer
	HardwareStatusPage(id EngineID) *HardwareStatusPage
	GlobalGtt() *platform.AddressSpace
	Now() time.Time
	Logger() *slog.Logger
}

// engineHooks covers the render/video differences in the submission
// protocol: how the completion fence is emitted ahead of the user
// interrupt.
type engineHooks interface {
	writeCompletionFence(rb *Ringbuffer, gpuAddr uint64, sequenceNumber uint32)
	fenceDwords() uint32
}

// InflightCommandSequence tracks one batch written into the ring buffer
// until the hardware reports its sequence number complete.
type InflightCommandSequence struct {
	sequenceNumber   uint32
	ringbufferOffset uint32
	batch            MappedBatch
	// Batches drained through the scheduler report back to it on
	// completion; the bootstrap ExecBatch path does not.
	scheduled bool
}

func (s *InflightCommandSequence) SequenceNumber() uint32 { return s.sequenceNumber }

const (
	execlistPortWaitBudget = 100 * time.Microsecond
	execlistPortPollDelay  = 5 * time.Microsecond

	resetMaxRetries = 100
	resetRetryDelay = time.Millisecond

	gen12SettleDelay = 100 * time.Microsecond

	contextIDBits  = 11
	contextIDShift = 37

	descriptorValid         = 1 << 0
	descriptorLegacyPpgtt48 = 1 << 3
)

func contextBufferSize(id EngineID) uint64 {
	// One per-process status page plus the register-state pages.
	if id == RenderEngineID {
		return 22 * platform.PageSize
	}
	return 9 * platform.PageSize
}

// EngineCommandStreamer drives the hardware submission protocol for one
// engine: scheduling, ring-buffer writes, execution-list submission,
// completion processing, and hang recovery.
type EngineCommandStreamer struct {
	owner    engineOwner
	id       EngineID
	mmioBase uint32
	gen      registers.Gen
	hooks    engineHooks

	scheduler Scheduler
	progress  *GpuProgress
	inflight  *queue.Queue

	// Only one hardware submission may be outstanding: the execution-list
	// port can silently drop a submission issued while a previous context
	// switch is still pending, which would present as a false hang.
	contextSwitchPending   bool
	contextStatusReadIndex uint32

	// Gen12 context ids come from a wrapping 11-bit counter; pre-Gen12
	// reuses context GPU address bits instead.
	nextContextID uint32

	sleep func(time.Duration)
}

func newEngineCommandStreamer(owner engineOwner, id EngineID, mmioBase uint32, gen registers.Gen, hooks engineHooks) *EngineCommandStreamer {
	return &EngineCommandStreamer{
		owner:         owner,
		id:            id,
		mmioBase:      mmioBase,
		gen:           gen,
		hooks:         hooks,
		scheduler:     NewFifoScheduler(owner.Logger(), id),
		progress:      NewGpuProgress(owner.Logger()),
		inflight:      queue.New(),
		nextContextID: 1,
		sleep:         time.Sleep,
	}
}

func (e *EngineCommandStreamer) ID() EngineID           { return e.id }
func (e *EngineCommandStreamer) MmioBase() uint32       { return e.mmioBase }
func (e *EngineCommandStreamer) Progress() *GpuProgress { return e.progress }

func (e *EngineCommandStreamer) logger() *slog.Logger { return e.owner.Logger() }

func (e *EngineCommandStreamer) InflightCount() int { return e.inflight.Length() }

// InitContext allocates the context-image buffer and ring buffer for this
// engine and writes the initial register-state image.
func (e *EngineCommandStreamer) InitContext(context *MsdIntelContext) error {
	e.logger().Debug("EngineCommandStreamer::InitContext",
		slog.String("engine", e.id.String()), slog.Uint64("context_id", context.ID()))

	buffer, err := platform.NewBuffer(contextBufferSize(e.id), "context-"+e.id.String())
	if err != nil {
		return errors.Wrap(err, "failed to allocate context buffer")
	}

	ringbuffer, err := NewRingbuffer("ring-" + e.id.String())
	if err != nil {
		return err
	}

	return context.InitEngineState(e.id, buffer, ringbuffer, e.gen, e.mmioBase)
}

// InitHardware is the cold-start / post-reset engine bring-up: execution
// list mode, status page address, sequence-number seed, interrupt unmask.
// The caller holds the forcewake domain.
func (e *EngineCommandStreamer) InitHardware() {
	io := e.owner.RegisterIo()

	if e.gen == registers.Gen12 {
		registers.GraphicsMode{MmioBase: e.mmioBase}.Write(io,
			registers.GraphicsModeExeclistDisableGen12, false)
		// The mode change needs a settle delay before further programming.
		e.sleep(gen12SettleDelay)
	} else {
		registers.GraphicsMode{MmioBase: e.mmioBase}.Write(io,
			registers.GraphicsModeExeclistEnable, true)
	}

	hwsp := e.owner.HardwareStatusPage(e.id)
	registers.HardwareStatusPageAddress{MmioBase: e.mmioBase}.Write(io, hwsp.GpuAddr())

	// Seed the status page so the first completion comparison is sound.
	seed := e.progress.LastCompletedSequenceNumber()
	if seed == InvalidSequenceNumber {
		seed = firstSequenceNumber - 1
	}
	hwsp.InitSequenceNumber(seed)
	e.progress.Completed(seed, e.owner.Now())

	registers.InterruptMask{Gen: e.gen, EngineIndex: engineIndex(e.id)}.Unmask(io,
		registers.InterruptUserBit|registers.InterruptContextSwitchBit)

	e.contextSwitchPending = false
	e.contextStatusReadIndex = 0
}

// SubmitBatch queues a batch for this engine and, unless a context switch
// is already outstanding, drives scheduling immediately.
func (e *EngineCommandStreamer) SubmitBatch(batch MappedBatch) error {
	context := batch.Context()
	context.SetTargetCommandStreamer(e.id)

	if err := e.lazyInitContext(context); err != nil {
		return err
	}

	context.queuePendingBatch(e.id, batch)
	e.scheduler.CommandBufferQueued(context)

	if !e.contextSwitchPending {
		e.ScheduleContext()
	}
	return nil
}

func (e *EngineCommandStreamer) lazyInitContext(context *MsdIntelContext) error {
	if context.IsInitializedForEngine(e.id) {
		return nil
	}
	if err := e.InitContext(context); err != nil {
		return err
	}
	return context.MapGpu(e.id, e.owner.GlobalGtt())
}

// ScheduleContext drains one context's queued batches into its ring buffer
// and issues a single hardware submission at the switch point.
func (e *EngineCommandStreamer) ScheduleContext() {
	if e.contextSwitchPending {
		return
	}

	var current *MsdIntelContext
	moved := 0

	for {
		next := e.scheduler.ScheduleContext()
		if next == nil {
			break
		}
		if current != nil && next != current {
			panic("scheduler changed context mid-drain")
		}
		current = next

		batch, ok := current.peekPendingBatch(e.id)
		if !ok {
			break
		}

		// The ring must hold this batch's instruction stream before the
		// batch leaves the pending queue; otherwise it stays queued and
		// scheduling resumes after completions free space.
		rb := current.Ringbuffer(e.id)
		if !rb.HasSpace(e.batchSubmitBytes(batch)) {
			e.logger().Warn("ringbuffer full, deferring batch",
				slog.String("engine", e.id.String()),
				slog.Uint64("context_id", current.ID()))
			break
		}

		current.takePendingBatch(e.id)
		if err := e.MoveBatchToInflight(batch, true); err != nil {
			// Should be unreachable given the space pre-check; dropping
			// here is the documented last resort.
			e.logger().Warn("dropping batch: failed to move to inflight",
				slog.Uint64("context_id", current.ID()), slog.Any("error", err))
			continue
		}
		moved++
	}

	if current == nil || moved == 0 {
		return
	}

	if err := e.SubmitContext(current); err != nil {
		e.logger().Warn("failed to submit context",
			slog.Uint64("context_id", current.ID()), slog.Any("error", err))
		return
	}
	e.contextSwitchPending = true
}

// ExecBatch writes and submits one batch immediately, bypassing the
// scheduler. Only driver-internal bootstrap batches use this; they run
// before any client context exists.
func (e *EngineCommandStreamer) ExecBatch(batch MappedBatch) error {
	context := batch.Context()
	context.SetTargetCommandStreamer(e.id)

	if err := e.lazyInitContext(context); err != nil {
		return err
	}

	if err := e.MoveBatchToInflight(batch, false); err != nil {
		return err
	}

	if err := e.SubmitContext(context); err != nil {
		return err
	}
	e.contextSwitchPending = true
	return nil
}

func (e *EngineCommandStreamer) batchSubmitBytes(batch MappedBatch) uint32 {
	dwords := e.hooks.fenceDwords() + miUserInterruptDwords
	if _, hasStart := batch.GetGpuAddress(); hasStart {
		dwords += miBatchBufferStartDwords
	}
	return dwords * dwordSize
}

// MoveBatchToInflight writes the batch start, the engine's completion
// fence, and a user interrupt into the ring buffer and enqueues the
// in-flight record.
func (e *EngineCommandStreamer) MoveBatchToInflight(batch MappedBatch, scheduled bool) error {
	context := batch.Context()
	rb := context.Ringbuffer(e.id)
	if rb == nil {
		return errors.Newf("context %d has no ringbuffer for engine %s", context.ID(), e.id)
	}

	if !rb.HasSpace(e.batchSubmitBytes(batch)) {
		return errors.Newf("ringbuffer has no space for batch (context %d)", context.ID())
	}

	if gpuAddr, ok := batch.GetGpuAddress(); ok {
		writeMiBatchBufferStart(rb, gpuAddr, batch.useGlobalGtt())
	}

	sequenceNumber := e.owner.Sequencer().NextSequenceNumber()
	hwsp := e.owner.HardwareStatusPage(e.id)
	e.hooks.writeCompletionFence(rb, hwsp.SequenceNumberGpuAddr(), sequenceNumber)
	writeMiUserInterrupt(rb)

	batch.SetSequenceNumber(sequenceNumber)
	e.inflight.Add(&InflightCommandSequence{
		sequenceNumber:   sequenceNumber,
		ringbufferOffset: rb.Tail(),
		batch:            batch,
		scheduled:        scheduled,
	})

	if scheduled {
		e.scheduler.CommandBufferScheduled(context)
	}

	e.logger().Debug("EngineCommandStreamer::MoveBatchToInflight",
		slog.String("engine", e.id.String()),
		slog.Uint64("context_id", context.ID()),
		slog.Any("sequence_number", sequenceNumber))
	return nil
}

// SubmitContext patches the ring state into the context image and writes
// the execution-list descriptor.
func (e *EngineCommandStreamer) SubmitContext(context *MsdIntelContext) error {
	if err := e.UpdateContext(context); err != nil {
		return err
	}
	if err := e.SubmitExeclists(context); err != nil {
		return err
	}

	if e.inflight.Length() > 0 {
		last := e.inflight.Get(e.inflight.Length() - 1).(*InflightCommandSequence)
		e.progress.Submitted(last.sequenceNumber, e.owner.Now())
	}
	return nil
}

// UpdateContext loads the current ring tail into the cached register-state
// image; the hardware picks it up on context restore.
func (e *EngineCommandStreamer) UpdateContext(context *MsdIntelContext) error {
	writer := context.stateWriterFor(e.id)
	rb := context.Ringbuffer(e.id)
	if writer == nil || rb == nil {
		return errors.Newf("context %d not initialized for engine %s", context.ID(), e.id)
	}
	writer.setRingTail(rb.Tail())
	return nil
}

// SubmitExeclists waits briefly for the submission port to drain, then
// writes the context descriptor.
func (e *EngineCommandStreamer) SubmitExeclists(context *MsdIntelContext) error {
	descriptor, err := e.contextDescriptor(context)
	if err != nil {
		return err
	}

	io := e.owner.RegisterIo()
	status := registers.ExeclistStatus{MmioBase: e.mmioBase}

	start := time.Now()
	for registers.ExeclistBusy(status.Read(io), e.gen) {
		if time.Since(start) > execlistPortWaitBudget {
			e.logger().Warn("execlist port still busy past wait budget",
				slog.String("engine", e.id.String()))
			break
		}
		e.sleep(execlistPortPollDelay)
	}

	if e.gen == registers.Gen12 {
		registers.ExeclistSubmitQueue{MmioBase: e.mmioBase}.Write(io, 0, descriptor)
		registers.ExeclistControl{MmioBase: e.mmioBase}.Load(io)
	} else {
		registers.ExeclistSubmitPort{MmioBase: e.mmioBase}.Submit(io, 0, descriptor)
	}
	return nil
}

// contextDescriptor packs (gpu address | valid | ppgtt mode | context id).
// The context id only needs to disambiguate concurrently-loaded contexts:
// pre-Gen12 derives it from the context's GPU address, Gen12 assigns from a
// wrapping 11-bit counter (zero skipped) and mirrors it into the CCID slot
// of the context image.
func (e *EngineCommandStreamer) contextDescriptor(context *MsdIntelContext) (uint64, error) {
	gpuAddr, ok := context.GetGpuAddress(e.id)
	if !ok {
		return 0, errors.Newf("context %d has no gpu mapping for engine %s", context.ID(), e.id)
	}

	var contextID uint32
	if e.gen == registers.Gen12 {
		contextID = e.nextContextID
		e.nextContextID = (e.nextContextID + 1) & (1<<contextIDBits - 1)
		if e.nextContextID == 0 {
			e.nextContextID = 1
		}
		if gen12, ok := context.stateWriterFor(e.id).(*gen12RegisterState); ok {
			gen12.setCcid(contextID)
		}
	} else {
		contextID = uint32(gpuAddr>>12) & (1<<contextIDBits - 1)
	}

	descriptor := gpuAddr&^uint64(platform.PageSize-1) |
		descriptorValid | descriptorLegacyPpgtt48 |
		uint64(contextID)<<contextIDShift
	return descriptor, nil
}

// ContextSwitched consumes new context-status entries from the status
// page. Because status events may be processed out of order relative to
// completion interrupts, scheduling is attempted whenever no switch is
// pending.
func (e *EngineCommandStreamer) ContextSwitched() {
	hwsp := e.owner.HardwareStatusPage(e.id)
	entries, readIndex := hwsp.ReadContextStatus(e.contextStatusReadIndex)
	e.contextStatusReadIndex = readIndex

	for _, entry := range entries {
		if entry.idle() {
			e.contextSwitchPending = false
		}
	}

	if !e.contextSwitchPending {
		e.ScheduleContext()
	}
}

// ProcessCompletedCommandBuffers pops every in-flight sequence at or below
// the hardware-reported completion point, in FIFO order. Each batch's
// completion side effects run before the scheduler hears about it, so
// per-batch effects are observably ordered before the context-level "free
// for more work" transition.
func (e *EngineCommandStreamer) ProcessCompletedCommandBuffers(lastCompleted uint32) {
	for e.inflight.Length() > 0 {
		seq := e.inflight.Peek().(*InflightCommandSequence)
		if seq.sequenceNumber > lastCompleted {
			break
		}
		e.inflight.Remove()

		context := seq.batch.Context()
		if rb := context.Ringbuffer(e.id); rb != nil {
			if err := rb.UpdateHead(seq.ringbufferOffset); err != nil {
				e.logger().Warn("failed to advance ringbuffer head", slog.Any("error", err))
			}
		}

		scheduled := seq.scheduled
		seq.batch.batchCompleted()
		if scheduled {
			e.scheduler.CommandBufferCompleted(context)
		}
	}

	e.progress.Completed(lastCompleted, e.owner.Now())
}

// ResetCurrentContext discards all in-flight work without waiting for
// hardware acknowledgement and kills every context that lost work, purging
// their still-pending batches so nothing of theirs can reach the ring
// later. Completion semaphores for discarded batches never fire; each
// affected client learns of the failure through its context-killed
// notification.
func (e *EngineCommandStreamer) ResetCurrentContext() {
	seen := map[*MsdIntelContext]bool{}
	var affected []*MsdIntelContext

	for e.inflight.Length() > 0 {
		seq := e.inflight.Remove().(*InflightCommandSequence)
		context := seq.batch.Context()
		if !seen[context] {
			seen[context] = true
			affected = append(affected, context)
		}

		if rb := context.Ringbuffer(e.id); rb != nil {
			_ = rb.UpdateHead(seq.ringbufferOffset)
		}
		if seq.scheduled {
			e.scheduler.CommandBufferCompleted(context)
		}
	}

	e.progress.Reset()
	e.contextSwitchPending = false

	for _, context := range affected {
		context.Kill()
		context.purgePendingBatches(e.id)
	}
}

// Reset runs the hardware engine reset protocol: request, wait for
// ready-for-reset, pull the domain reset, and wait for it to clear. TLBs
// are invalidated regardless of the poll outcomes: skipping that risks
// memory corruption on subsequent use even if the reset itself seemingly
// failed.
func (e *EngineCommandStreamer) Reset() error {
	io := e.owner.RegisterIo()
	resetControl := registers.ResetControl{MmioBase: e.mmioBase}
	deviceReset := registers.GraphicsDeviceResetControl{}

	domainBit := uint32(registers.ResetDomainRender)
	if e.id == VideoEngineID {
		domainBit = registers.ResetDomainMedia
	}

	var resetErr error

	resetControl.Request(io)
	ready := false
	for retry := 0; retry < resetMaxRetries; retry++ {
		if resetControl.ReadyForReset(io) {
			ready = true
			break
		}
		e.sleep(resetRetryDelay)
	}

	if ready {
		deviceReset.Reset(io, domainBit)
		complete := false
		for retry := 0; retry < resetMaxRetries; retry++ {
			if !deviceReset.InProgress(io, domainBit) {
				complete = true
				break
			}
			e.sleep(resetRetryDelay)
		}
		if !complete {
			resetErr = errors.Newf("engine %s reset did not complete", e.id)
		}
	} else {
		resetErr = errors.Newf("engine %s not ready for reset", e.id)
	}

	registers.TlbInvalidate{MmioBase: e.mmioBase}.Write(io)
	return resetErr
}
