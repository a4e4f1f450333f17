// Package registers holds the small set of typed register accessors the
// submission protocol needs. Full register and bitfield definitions for the
// hardware live outside this core; only what submission, reset, and
// interrupt handling touch is described here.
package registers

import (
	"github.com/vsrinivas/msd-intel-gen/hwio"
)

// Gen identifies the hardware generation register layout.
type Gen int

const (
	Gen9  Gen = 9
	Gen12 Gen = 12
)

// Engine mmio bases.
const (
	RenderEngineMmioBase     = 0x2000
	Gen9VideoEngineMmioBase  = 0x12000
	Gen12VideoEngineMmioBase = 0x1C0000
)

// Per-engine register offsets, relative to the engine mmio base.
const (
	ringbufferTail       = 0x30
	ringbufferHead       = 0x34
	ringbufferStart      = 0x38
	ringbufferControl    = 0x3C
	hardwareStatusPage   = 0x80
	resetControl         = 0xD0
	executionListSubmit  = 0x230
	executionListStatus  = 0x234
	graphicsMode         = 0x29C
	timestamp            = 0x358
	executionListQueue   = 0x510
	executionListControl = 0x550
	tlbInvalidate        = 0x538
)

// HardwareStatusPageAddress programs the GPU address of an engine's global
// hardware status page.
type HardwareStatusPageAddress struct{ MmioBase uint32 }

func (r HardwareStatusPageAddress) Write(io *hwio.RegisterIo, gpuAddr uint64) {
	io.Write32(r.MmioBase+hardwareStatusPage, uint32(gpuAddr))
	// Posting read, per the programming note for this register.
	_ = io.Read32(r.MmioBase + hardwareStatusPage)
}

// GraphicsMode controls the engine's command-streamer mode. Writes carry a
// mask in the upper word.
type GraphicsMode struct{ MmioBase uint32 }

const (
	GraphicsModeExeclistEnable       = 1 << 15
	GraphicsModeExeclistDisableGen12 = 1 << 3
)

func (r GraphicsMode) Write(io *hwio.RegisterIo, bit uint32, set bool) {
	value := bit << 16
	if set {
		value |= bit
	}
	io.Write32(r.MmioBase+graphicsMode, value)
	_ = io.Read32(r.MmioBase + graphicsMode)
}

// ExeclistSubmitPort is the Gen9 execution-list submit port: two descriptor
// qwords are written upper-dword first, second element before first.
type ExeclistSubmitPort struct{ MmioBase uint32 }

func (r ExeclistSubmitPort) Submit(io *hwio.RegisterIo, descriptor1, descriptor0 uint64) {
	port := r.MmioBase + executionListSubmit
	io.Write32(port, uint32(descriptor1>>32))
	io.Write32(port, uint32(descriptor1))
	io.Write32(port, uint32(descriptor0>>32))
	// The final write triggers execution.
	io.Write32(port, uint32(descriptor0))
}

// ExeclistSubmitQueue is the Gen12 execution-list submit queue; Load on
// ExeclistControl makes the queued descriptors current.
type ExeclistSubmitQueue struct{ MmioBase uint32 }

func (r ExeclistSubmitQueue) Write(io *hwio.RegisterIo, descriptor1, descriptor0 uint64) {
	queue := r.MmioBase + executionListQueue
	io.Write32(queue, uint32(descriptor0))
	io.Write32(queue+4, uint32(descriptor0>>32))
	io.Write32(queue+8, uint32(descriptor1))
	io.Write32(queue+12, uint32(descriptor1>>32))
}

type ExeclistControl struct{ MmioBase uint32 }

const ExeclistControlLoad = 1 << 0

func (r ExeclistControl) Load(io *hwio.RegisterIo) {
	io.Write32(r.MmioBase+executionListControl, ExeclistControlLoad)
}

// ExeclistStatus reports the execution-list port state.
type ExeclistStatus struct{ MmioBase uint32 }

const (
	ExeclistStatusElement0Valid  = 1 << 0
	ExeclistStatusElement1Valid  = 1 << 1
	ExeclistStatusQueueFull      = 1 << 1 // Gen12 repurposes bit 1
	ExeclistCurrentPointerShift  = 5
)

func (r ExeclistStatus) Read(io *hwio.RegisterIo) uint64 {
	return io.Read64(r.MmioBase + executionListStatus)
}

// ExeclistBusy reports whether a new submission would be dropped: on Gen9
// both port elements valid, on Gen12 the submit queue full.
func ExeclistBusy(status uint64, gen Gen) bool {
	if gen == Gen12 {
		return status&ExeclistStatusQueueFull != 0
	}
	return status&(ExeclistStatusElement0Valid|ExeclistStatusElement1Valid) ==
		(ExeclistStatusElement0Valid | ExeclistStatusElement1Valid)
}

// ResetControl is the per-engine reset handshake: request, then wait for
// ready-for-reset before the domain reset is pulled.
type ResetControl struct{ MmioBase uint32 }

const (
	ResetControlRequest       = 1 << 0
	ResetControlReadyForReset = 1 << 1
)

func (r ResetControl) Request(io *hwio.RegisterIo) {
	io.Write32(r.MmioBase+resetControl, ResetControlRequest<<16|ResetControlRequest)
}

func (r ResetControl) ReadyForReset(io *hwio.RegisterIo) bool {
	return io.Read32(r.MmioBase+resetControl)&ResetControlReadyForReset != 0
}

// TlbInvalidate flushes the engine's TLBs. Always performed after a reset
// attempt: skipping it risks memory corruption on subsequent use even if
// the reset itself failed.
type TlbInvalidate struct{ MmioBase uint32 }

func (r TlbInvalidate) Write(io *hwio.RegisterIo) {
	io.Write32(r.MmioBase+tlbInvalidate, 1)
	_ = io.Read32(r.MmioBase + tlbInvalidate)
}

// GraphicsDeviceResetControl pulls the domain reset once an engine reports
// ready-for-reset; the engine bit self-clears when the reset completes.
type GraphicsDeviceResetControl struct{}

const (
	graphicsDeviceResetControl = 0x941C

	ResetDomainFull   = 1 << 0
	ResetDomainRender = 1 << 1
	ResetDomainMedia  = 1 << 2
)

func (r GraphicsDeviceResetControl) Reset(io *hwio.RegisterIo, domainBit uint32) {
	io.Write32(graphicsDeviceResetControl, domainBit)
}

func (r GraphicsDeviceResetControl) InProgress(io *hwio.RegisterIo, domainBit uint32) bool {
	return io.Read32(graphicsDeviceResetControl)&domainBit != 0
}

const (
	renderPerformanceNormalFrequencyRequest = 0xA008
	renderPerformanceStatus                 = 0xA01C
)

// frequencyMhz converts the 9-bit frequency field (units of 16.66 MHz) at
// bits 31:23 into MHz.
func frequencyMhz(value uint32) uint32 {
	return ((value >> 23) & 0x1FF) * 50 / 3
}

// RenderPerformanceNormalFrequencyRequest holds the frequency most recently
// requested of the power controller.
type RenderPerformanceNormalFrequencyRequest struct{}

func (r RenderPerformanceNormalFrequencyRequest) ReadMhz(io *hwio.RegisterIo) uint32 {
	return frequencyMhz(io.Read32(renderPerformanceNormalFrequencyRequest))
}

// RenderPerformanceStatus holds the frequency the GPU is actually running at.
type RenderPerformanceStatus struct{}

func (r RenderPerformanceStatus) ReadCurrentMhz(io *hwio.RegisterIo) uint32 {
	return frequencyMhz(io.Read32(renderPerformanceStatus))
}

// Timestamp is the engine's free-running command-streamer timestamp.
type Timestamp struct{ MmioBase uint32 }

func (r Timestamp) Read(io *hwio.RegisterIo) uint64 {
	return io.Read64(r.MmioBase + timestamp)
}

// RingbufferHead reads back the hardware's consumed ring position, used only
// for diagnostics; software head tracking is driven by sequence completion.
type RingbufferHead struct{ MmioBase uint32 }

func (r RingbufferHead) Read(io *hwio.RegisterIo) uint32 {
	return io.Read32(r.MmioBase + ringbufferHead)
}

// Register offsets (absolute) loaded into the context image; the register
// state page stores pairs of (offset, value) consumed by the hardware on
// context restore.
func RingbufferTailOffset(mmioBase uint32) uint32    { return mmioBase + ringbufferTail }
func RingbufferHeadOffset(mmioBase uint32) uint32    { return mmioBase + ringbufferHead }
func RingbufferStartOffset(mmioBase uint32) uint32   { return mmioBase + ringbufferStart }
func RingbufferControlOffset(mmioBase uint32) uint32 { return mmioBase + ringbufferControl }
