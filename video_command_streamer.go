package msd

import (
	"github.com/vsrinivas/msd-intel-gen/registers"
)

// VideoCommandStreamer is the video decode/encode engine. It has no
// PIPE_CONTROL; MI_FLUSH_DW with a post-sync write is its completion fence.
type VideoCommandStreamer struct {
	*EngineCommandStreamer
}

func NewVideoCommandStreamer(owner engineOwner, gen registers.Gen) *VideoCommandStreamer {
	v := &VideoCommandStreamer{}
	v.EngineCommandStreamer = newEngineCommandStreamer(
		owner, VideoEngineID, videoEngineMmioBase(gen), gen, v)
	return v
}

func (v *VideoCommandStreamer) writeCompletionFence(rb *Ringbuffer, gpuAddr uint64, sequenceNumber uint32) {
	writeMiFlushDw(rb, gpuAddr, sequenceNumber)
}

func (v *VideoCommandStreamer) fenceDwords() uint32 { return miFlushDwDwords }
