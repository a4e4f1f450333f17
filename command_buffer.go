package msd

import (
	"github.com/cockroachdb/errors"
	"github.com/vsrinivas/msd-intel-gen/internal/utils"
	"github.com/vsrinivas/msd-intel-gen/platform"
)

// Command buffer flags. The default target is the render engine.
const (
	CommandBufferForVideo uint64 = 1 << 0
)

// ExecResource is one buffer range referenced by a command buffer.
type ExecResource struct {
	Buffer *platform.Buffer
	Offset uint64
	Length uint64
}

// CommandBuffer is a client-submitted batch: a set of exec resources (one
// of which contains the batch instructions), semaphores to wait on before
// submission and to signal on completion.
type CommandBuffer struct {
	id      uint64
	flags   uint64
	context *MsdIntelContext

	resources        []ExecResource
	batchBufferIndex int
	batchStartOffset uint64

	waitSemaphores   []*platform.Semaphore
	signalSemaphores []*platform.Semaphore

	// Valid only after PrepareForExecution.
	mappings        []*platform.GpuMapping
	batchGpuAddress uint64
	prepared        bool

	sequenceNumber uint32
}

// NewCommandBuffer describes a client submission. batchBufferIndex selects
// the resource holding the batch instructions; batchStartOffset is the
// instruction start within it.
func NewCommandBuffer(id uint64, flags uint64, resources []ExecResource, batchBufferIndex int, batchStartOffset uint64,
	waitSemaphores, signalSemaphores []*platform.Semaphore) (*CommandBuffer, error) {
	if batchBufferIndex < 0 || batchBufferIndex >= len(resources) {
		return nil, errors.Newf("batch buffer index %d out of range (%d resources)",
			batchBufferIndex, len(resources))
	}
	return &CommandBuffer{
		id:               id,
		flags:            flags,
		resources:        resources,
		batchBufferIndex: batchBufferIndex,
		batchStartOffset: batchStartOffset,
		waitSemaphores:   waitSemaphores,
		signalSemaphores: signalSemaphores,
		sequenceNumber:   InvalidSequenceNumber,
	}, nil
}

func (c *CommandBuffer) ID() uint64 { return c.id }

// TargetEngine selects the engine this command buffer runs on.
func (c *CommandBuffer) TargetEngine() EngineID {
	if c.flags&CommandBufferForVideo != 0 {
		return VideoEngineID
	}
	return RenderEngineID
}

// PrepareForExecution maps every exec resource into the context's address
// space and records the batch start GPU address. Must succeed before the
// command buffer is submitted.
func (c *CommandBuffer) PrepareForExecution(context *MsdIntelContext, space *platform.AddressSpace) error {
	if c.prepared {
		return errors.New("command buffer already prepared")
	}

	mappings := make([]*platform.GpuMapping, 0, len(c.resources))
	for _, res := range c.resources {
		mapping, err := space.MapBufferGpu(res.Buffer)
		if err != nil {
			for _, m := range mappings {
				_ = m.Release()
			}
			return errors.Wrapf(err, "failed to map resource %q for command buffer %d",
				res.Buffer.Name(), c.id)
		}
		mappings = append(mappings, mapping)
	}

	batch := c.resources[c.batchBufferIndex]
	if c.batchStartOffset >= batch.Length {
		for _, m := range mappings {
			_ = m.Release()
		}
		return errors.Newf("batch start offset 0x%x outside batch resource (length 0x%x)",
			c.batchStartOffset, batch.Length)
	}

	c.context = context
	c.mappings = mappings
	c.batchGpuAddress = mappings[c.batchBufferIndex].GpuAddr() + batch.Offset + c.batchStartOffset
	c.prepared = true
	return nil
}

func (c *CommandBuffer) Context() *MsdIntelContext { return c.context }

func (c *CommandBuffer) GetGpuAddress() (uint64, bool) {
	utils.Assert(c.prepared, "GetGpuAddress before PrepareForExecution")
	if !c.prepared {
		return 0, false
	}
	return c.batchGpuAddress, true
}

func (c *CommandBuffer) GetLength() uint64 {
	return c.resources[c.batchBufferIndex].Length - c.batchStartOffset
}

func (c *CommandBuffer) SetSequenceNumber(sequenceNumber uint32) {
	c.sequenceNumber = sequenceNumber
}

func (c *CommandBuffer) SequenceNumber() uint32 { return c.sequenceNumber }

// Client resources are mapped into the connection's per-process space.
func (c *CommandBuffer) useGlobalGtt() bool { return false }

func (c *CommandBuffer) WaitSemaphores() []*platform.Semaphore { return c.waitSemaphores }

// batchCompleted signals the command buffer's signal semaphores, notifies
// the client of the finished buffer id, and releases the resource mappings,
// in that order.
func (c *CommandBuffer) batchCompleted() {
	for _, sem := range c.signalSemaphores {
		sem.Signal()
	}

	if c.context != nil {
		c.context.notifyCommandBufferCompleted(c.id)
	}

	for _, mapping := range c.mappings {
		_ = mapping.Release()
	}
	c.mappings = nil
}
