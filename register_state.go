package msd

import (
	"github.com/vsrinivas/msd-intel-gen/platform"
	"github.com/vsrinivas/msd-intel-gen/registers"
)

// The second page of a context image is the register-state page: pairs of
// (register offset, value) the hardware loads on context restore. Gen9 and
// Gen12 lay the fields out differently and Gen12 carries extra fields
// (CCID, semaphore token), so the field writers are selected once per
// device generation and dispatched through registerStateWriter.
type registerStateWriter interface {
	initialize()
	setRingHead(value uint32)
	setRingTail(value uint32)
	setRingbufferStart(gpuAddr uint64)
	setRingbufferControl(sizeBytes uint32)
	setPageDirectoryRootPointer(gpuAddr uint64)
}

// Dword indices of the value slots within the register-state page.
const (
	// Shared by both generations.
	stateContextControlValue = 0x03

	// Gen9 field ordering.
	gen9StateRingTailValue  = 0x05
	gen9StateRingHeadValue  = 0x07
	gen9StateRingStartValue = 0x09
	gen9StateRingCtlValue   = 0x0B

	// Gen12 swaps head/tail ordering and appends CCID and the semaphore
	// token.
	gen12StateRingHeadValue       = 0x05
	gen12StateRingTailValue       = 0x07
	gen12StateRingStartValue      = 0x09
	gen12StateRingCtlValue        = 0x0B
	gen12StateCcidValue           = 0x0D
	gen12StateSemaphoreTokenValue = 0x0F

	// Page-directory root pointer block, both generations.
	statePdpLriHeader  = 0x20
	statePdpUpperValue = 0x22
	statePdpLowerValue = 0x24
)

const (
	contextControlReg = 0x244
	ccidReg           = 0x180
	semaphoreTokenReg = 0x2B4

	// Engine context restore inhibited until first submission completes.
	contextControlValue = (1<<3|1<<0)<<16 | 1<<3

	ringbufferControlValid = 1 << 0
)

// statePage is a dword-addressed view of the register-state page.
type statePage struct {
	bytes []byte
}

func (s statePage) write(dword uint32, value uint32) {
	b := s.bytes[dword*dwordSize:]
	b[0] = byte(value)
	b[1] = byte(value >> 8)
	b[2] = byte(value >> 16)
	b[3] = byte(value >> 24)
}

func (s statePage) read(dword uint32) uint32 {
	b := s.bytes[dword*dwordSize:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func ringbufferControlValue(sizeBytes uint32) uint32 {
	return (sizeBytes/platform.PageSize-1)<<12 | ringbufferControlValid
}

func newRegisterStateWriter(gen registers.Gen, stateBytes []byte, mmioBase uint32) registerStateWriter {
	if gen == registers.Gen12 {
		return &gen12RegisterState{state: statePage{stateBytes}, mmioBase: mmioBase}
	}
	return &gen9RegisterState{state: statePage{stateBytes}, mmioBase: mmioBase}
}

type gen9RegisterState struct {
	state    statePage
	mmioBase uint32
}

func (w *gen9RegisterState) initialize() {
	s := w.state
	s.write(0x00, miNoop)
	// One load-register-imm covers context control and the ring registers.
	s.write(0x01, miLoadRegisterImm|(2*5+1-2))
	s.write(0x02, w.mmioBase+contextControlReg)
	s.write(stateContextControlValue, contextControlValue)
	s.write(0x04, registers.RingbufferTailOffset(w.mmioBase))
	s.write(gen9StateRingTailValue, 0)
	s.write(0x06, registers.RingbufferHeadOffset(w.mmioBase))
	s.write(gen9StateRingHeadValue, 0)
	s.write(0x08, registers.RingbufferStartOffset(w.mmioBase))
	s.write(gen9StateRingStartValue, 0)
	s.write(0x0A, registers.RingbufferControlOffset(w.mmioBase))
	s.write(gen9StateRingCtlValue, 0)

	w.writePdpBlock()
}

func (w *gen9RegisterState) writePdpBlock() {
	s := w.state
	s.write(statePdpLriHeader, miLoadRegisterImm|(2*2+1-2))
	s.write(statePdpLriHeader+1, w.mmioBase+0x278) // PDP0 upper
	s.write(statePdpUpperValue, 0)
	s.write(statePdpLriHeader+3, w.mmioBase+0x274) // PDP0 lower
	s.write(statePdpLowerValue, 0)
}

func (w *gen9RegisterState) setRingHead(value uint32) { w.state.write(gen9StateRingHeadValue, value) }
func (w *gen9RegisterState) setRingTail(value uint32) { w.state.write(gen9StateRingTailValue, value) }

func (w *gen9RegisterState) setRingbufferStart(gpuAddr uint64) {
	w.state.write(gen9StateRingStartValue, uint32(gpuAddr))
}

func (w *gen9RegisterState) setRingbufferControl(sizeBytes uint32) {
	w.state.write(gen9StateRingCtlValue, ringbufferControlValue(sizeBytes))
}

func (w *gen9RegisterState) setPageDirectoryRootPointer(gpuAddr uint64) {
	w.state.write(statePdpUpperValue, uint32(gpuAddr>>32))
	w.state.write(statePdpLowerValue, uint32(gpuAddr))
}

type gen12RegisterState struct {
	state    statePage
	mmioBase uint32
}

func (w *gen12RegisterState) initialize() {
	s := w.state
	s.write(0x00, miNoop)
	s.write(0x01, miLoadRegisterImm|(2*7+1-2))
	s.write(0x02, w.mmioBase+contextControlReg)
	s.write(stateContextControlValue, contextControlValue)
	s.write(0x04, registers.RingbufferHeadOffset(w.mmioBase))
	s.write(gen12StateRingHeadValue, 0)
	s.write(0x06, registers.RingbufferTailOffset(w.mmioBase))
	s.write(gen12StateRingTailValue, 0)
	s.write(0x08, registers.RingbufferStartOffset(w.mmioBase))
	s.write(gen12StateRingStartValue, 0)
	s.write(0x0A, registers.RingbufferControlOffset(w.mmioBase))
	s.write(gen12StateRingCtlValue, 0)
	s.write(0x0C, w.mmioBase+ccidReg)
	s.write(gen12StateCcidValue, 0)
	s.write(0x0E, w.mmioBase+semaphoreTokenReg)
	s.write(gen12StateSemaphoreTokenValue, 0)

	s.write(statePdpLriHeader, miLoadRegisterImm|(2*2+1-2))
	s.write(statePdpLriHeader+1, w.mmioBase+0x278)
	s.write(statePdpUpperValue, 0)
	s.write(statePdpLriHeader+3, w.mmioBase+0x274)
	s.write(statePdpLowerValue, 0)
}

func (w *gen12RegisterState) setRingHead(value uint32) { w.state.write(gen12StateRingHeadValue, value) }
func (w *gen12RegisterState) setRingTail(value uint32) { w.state.write(gen12StateRingTailValue, value) }

func (w *gen12RegisterState) setRingbufferStart(gpuAddr uint64) {
	w.state.write(gen12StateRingStartValue, uint32(gpuAddr))
}

func (w *gen12RegisterState) setRingbufferControl(sizeBytes uint32) {
	w.state.write(gen12StateRingCtlValue, ringbufferControlValue(sizeBytes))
}

func (w *gen12RegisterState) setPageDirectoryRootPointer(gpuAddr uint64) {
	w.state.write(statePdpUpperValue, uint32(gpuAddr>>32))
	w.state.write(statePdpLowerValue, uint32(gpuAddr))
}

// setCcid installs the Gen12 context id; only meaningful on Gen12 where the
// descriptor's 11-bit counter must also appear in the context image.
func (w *gen12RegisterState) setCcid(value uint32) {
	w.state.write(gen12StateCcidValue, value)
}
