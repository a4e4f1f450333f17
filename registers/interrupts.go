package registers

import (
	"github.com/vsrinivas/msd-intel-gen/hwio"
)

// Interrupt plumbing differs between generations: Gen9 exposes a master
// control at 0x44200 with per-engine identity registers in the 0x443xx
// block; Gen12 moved the block to 0x1900xx. Engine index 0 is render,
// index 1 is video.

const (
	gen9MasterInterruptControl  = 0x44200
	gen9InterruptIdentityBase   = 0x44308
	gen9InterruptMaskBase       = 0x4430C
	gen9InterruptStride         = 0x10

	gen12MasterInterruptControl = 0x190010
	gen12InterruptIdentityBase  = 0x190060
	gen12InterruptMaskBase      = 0x190064
	gen12InterruptStride        = 0x10
)

const (
	// MasterInterruptControl bits.
	MasterInterruptEnable    = uint32(1) << 31
	MasterInterruptRenderBit = 1 << 0
	MasterInterruptVideoBit  = 1 << 2

	// Per-engine identity bits.
	InterruptUserBit          = 1 << 0
	InterruptContextSwitchBit = 1 << 8
)

// MasterInterruptControl gates and reports all engine interrupts.
type MasterInterruptControl struct{ Gen Gen }

func (r MasterInterruptControl) offset() uint32 {
	if r.Gen == Gen12 {
		return gen12MasterInterruptControl
	}
	return gen9MasterInterruptControl
}

func (r MasterInterruptControl) Read(io *hwio.RegisterIo) uint32 {
	return io.Read32(r.offset())
}

func (r MasterInterruptControl) Enable(io *hwio.RegisterIo, enable bool) {
	if enable {
		io.Write32(r.offset(), MasterInterruptEnable)
	} else {
		io.Write32(r.offset(), 0)
	}
}

// EngineBit returns the master-control bit for the given engine index.
func EngineBit(engineIndex int) uint32 {
	if engineIndex == 1 {
		return MasterInterruptVideoBit
	}
	return MasterInterruptRenderBit
}

// InterruptIdentity latches per-engine interrupt reasons; writing a bit
// clears it.
type InterruptIdentity struct {
	Gen         Gen
	EngineIndex int
}

func (r InterruptIdentity) offset() uint32 {
	if r.Gen == Gen12 {
		return gen12InterruptIdentityBase + uint32(r.EngineIndex)*gen12InterruptStride
	}
	return gen9InterruptIdentityBase + uint32(r.EngineIndex)*gen9InterruptStride
}

func (r InterruptIdentity) Read(io *hwio.RegisterIo) uint32 {
	return io.Read32(r.offset())
}

func (r InterruptIdentity) Clear(io *hwio.RegisterIo, bits uint32) {
	io.Write32(r.offset(), bits)
}

// InterruptMask masks per-engine interrupt delivery; a set bit blocks the
// interrupt.
type InterruptMask struct {
	Gen         Gen
	EngineIndex int
}

func (r InterruptMask) offset() uint32 {
	if r.Gen == Gen12 {
		return gen12InterruptMaskBase + uint32(r.EngineIndex)*gen12InterruptStride
	}
	return gen9InterruptMaskBase + uint32(r.EngineIndex)*gen9InterruptStride
}

func (r InterruptMask) Unmask(io *hwio.RegisterIo, bits uint32) {
	io.Write32(r.offset(), io.Read32(r.offset())&^bits)
}

func (r InterruptMask) MaskAll(io *hwio.RegisterIo) {
	io.Write32(r.offset(), ^uint32(0))
}
