package registers

import (
	"github.com/vsrinivas/msd-intel-gen/hwio"
)

// AllEngineFault aggregates page-fault state across engines; read during
// hang diagnostics.
type AllEngineFault struct{ Gen Gen }

const (
	gen9AllEngineFault  = 0x04094
	gen12AllEngineFault = 0x0CEC4

	FaultValid       = 1 << 0
	faultTypeShift   = 1
	faultTypeMask    = 0x3
	faultSrcShift    = 3
	faultSrcMask     = 0xFF
	faultEngineShift = 12
	faultEngineMask  = 0x7
)

func (r AllEngineFault) offset() uint32 {
	if r.Gen == Gen12 {
		return gen12AllEngineFault
	}
	return gen9AllEngineFault
}

func (r AllEngineFault) Read(io *hwio.RegisterIo) uint32 {
	return io.Read32(r.offset())
}

func (r AllEngineFault) Clear(io *hwio.RegisterIo) {
	io.Write32(r.offset(), 0)
}

// FaultDecode is the unpacked view of an AllEngineFault read-out.
type FaultDecode struct {
	Valid  bool
	Type   uint32
	Src    uint32
	Engine uint32
}

func DecodeFault(value uint32) FaultDecode {
	return FaultDecode{
		Valid:  value&FaultValid != 0,
		Type:   value >> faultTypeShift & faultTypeMask,
		Src:    value >> faultSrcShift & faultSrcMask,
		Engine: value >> faultEngineShift & faultEngineMask,
	}
}

// FaultTlbReadData holds the faulting GPU address (in 4k pages).
type FaultTlbReadData struct{}

const faultTlbReadData = 0x4B10

func (r FaultTlbReadData) ReadGpuAddress(io *hwio.RegisterIo) uint64 {
	return io.Read64(faultTlbReadData) << 12
}
