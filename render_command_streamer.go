package msd

import (
	"github.com/vsrinivas/msd-intel-gen/registers"
)

// RenderCommandStreamer is the render engine. Its completion fence is a
// PIPE_CONTROL with a post-sync sequence-number write, which also flushes
// render caches ahead of the fence.
type RenderCommandStreamer struct {
	*EngineCommandStreamer
}

func NewRenderCommandStreamer(owner engineOwner, gen registers.Gen) *RenderCommandStreamer {
	r := &RenderCommandStreamer{}
	r.EngineCommandStreamer = newEngineCommandStreamer(
		owner, RenderEngineID, registers.RenderEngineMmioBase, gen, r)
	return r
}

func (r *RenderCommandStreamer) writeCompletionFence(rb *Ringbuffer, gpuAddr uint64, sequenceNumber uint32) {
	writePipeControl(rb, gpuAddr, sequenceNumber)
}

func (r *RenderCommandStreamer) fenceDwords() uint32 { return pipeControlDwords }

// RenderInit builds and executes the hardware-required bootstrap batches
// through the given driver-internal context. They bypass the scheduler and
// run ahead of any client work; their completion interrupts retire them
// like any other batch.
func (r *RenderCommandStreamer) RenderInit(context *MsdIntelContext) error {
	batches, err := renderInitBatches(context, r.owner.GlobalGtt(), r.gen)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if err := r.ExecBatch(batch); err != nil {
			return err
		}
	}
	return nil
}
