package msd

import (
	"github.com/cockroachdb/errors"
	"github.com/vsrinivas/msd-intel-gen/platform"
	"github.com/vsrinivas/msd-intel-gen/registers"
)

// The hardware status page is one page of memory written by the engine and
// read by software. Its layout is a fixed per-generation offset table; the
// dword offsets below are the compatibility contract and must not drift.
//
//	                 Gen9     Gen12
//	context status   0x10     0x10    (two dwords per entry)
//	  entry count    6        8
//	status write idx 0x1F     0x2F
//	sequence number  0x20     0x34
//	scratch          0x30     0x40
type statusPageLayout struct {
	contextStatusStartDword uint32
	contextStatusEntries    uint32
	statusWriteIndexDword   uint32
	sequenceNumberDword     uint32
	scratchDword            uint32
}

func statusPageLayoutFor(gen registers.Gen) statusPageLayout {
	if gen == registers.Gen12 {
		return statusPageLayout{
			contextStatusStartDword: 0x10,
			contextStatusEntries:    8,
			statusWriteIndexDword:   0x2F,
			sequenceNumberDword:     0x34,
			scratchDword:            0x40,
		}
	}
	return statusPageLayout{
		contextStatusStartDword: 0x10,
		contextStatusEntries:    6,
		statusWriteIndexDword:   0x1F,
		sequenceNumberDword:     0x20,
		scratchDword:            0x30,
	}
}

// Context-status entry bits (first dword of each entry).
const (
	contextStatusIdleToActive  = 1 << 0
	contextStatusPreempted     = 1 << 1
	contextStatusElementSwitch = 1 << 2
	contextStatusActiveToIdle  = 1 << 3
	contextStatusComplete      = 1 << 4
)

// HardwareStatusPage owns one engine's global status page buffer and its
// GTT mapping, and decodes the per-generation layout.
type HardwareStatusPage struct {
	engineID EngineID
	layout   statusPageLayout

	buffer  *platform.Buffer
	mapping *platform.GpuMapping
	cpuAddr []byte
}

func newHardwareStatusPage(engineID EngineID, gen registers.Gen, gtt *platform.AddressSpace) (*HardwareStatusPage, error) {
	buffer, err := platform.NewBuffer(platform.PageSize, "status-page-"+engineID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create status page")
	}
	cpuAddr, err := buffer.MapCpu()
	if err != nil {
		return nil, errors.Wrap(err, "failed to map status page")
	}
	mapping, err := gtt.MapBufferGpu(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to gpu-map status page")
	}

	return &HardwareStatusPage{
		engineID: engineID,
		layout:   statusPageLayoutFor(gen),
		buffer:   buffer,
		mapping:  mapping,
		cpuAddr:  cpuAddr,
	}, nil
}

func (p *HardwareStatusPage) GpuAddr() uint64 { return p.mapping.GpuAddr() }

// SequenceNumberGpuAddr is the address completion fences write to.
func (p *HardwareStatusPage) SequenceNumberGpuAddr() uint64 {
	return p.mapping.GpuAddr() + uint64(p.layout.sequenceNumberDword)*dwordSize
}

func (p *HardwareStatusPage) readDword(dword uint32) uint32 {
	b := p.cpuAddr[dword*dwordSize:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (p *HardwareStatusPage) writeDword(dword uint32, value uint32) {
	b := p.cpuAddr[dword*dwordSize:]
	b[0] = byte(value)
	b[1] = byte(value >> 8)
	b[2] = byte(value >> 16)
	b[3] = byte(value >> 24)
}

func (p *HardwareStatusPage) ReadSequenceNumber() uint32 {
	return p.readDword(p.layout.sequenceNumberDword)
}

// InitSequenceNumber seeds the sequence-number slot, done at engine
// initialization so the first hang check sees a consistent value.
func (p *HardwareStatusPage) InitSequenceNumber(sequenceNumber uint32) {
	p.writeDword(p.layout.sequenceNumberDword, sequenceNumber)
}

// contextStatus is one decoded entry of the context-status ring.
type contextStatus struct {
	flags     uint32
	contextID uint32
}

func (s contextStatus) idle() bool {
	return s.flags&(contextStatusActiveToIdle|contextStatusComplete) != 0
}

// ReadContextStatus returns the entries written since readIndex (an entry
// index into the circular status log) along with the new read index.
func (p *HardwareStatusPage) ReadContextStatus(readIndex uint32) ([]contextStatus, uint32) {
	writeIndex := p.readDword(p.layout.statusWriteIndexDword) % p.layout.contextStatusEntries

	var out []contextStatus
	for readIndex != writeIndex {
		readIndex = (readIndex + 1) % p.layout.contextStatusEntries
		base := p.layout.contextStatusStartDword + readIndex*2
		out = append(out, contextStatus{
			flags:     p.readDword(base),
			contextID: p.readDword(base + 1),
		})
	}
	return out, readIndex
}

// Test and mock-hardware hooks: push one status entry and publish the new
// write index the way the hardware does.
func (p *HardwareStatusPage) writeContextStatus(writeIndex uint32, status contextStatus) uint32 {
	writeIndex = (writeIndex + 1) % p.layout.contextStatusEntries
	base := p.layout.contextStatusStartDword + writeIndex*2
	p.writeDword(base, status.flags)
	p.writeDword(base+1, status.contextID)
	p.writeDword(p.layout.statusWriteIndexDword, writeIndex)
	return writeIndex
}

func (p *HardwareStatusPage) teardown() {
	if p.mapping != nil {
		_ = p.mapping.Release()
		p.mapping = nil
	}
	if p.cpuAddr != nil {
		_ = p.buffer.UnmapCpu()
		p.cpuAddr = nil
	}
}
