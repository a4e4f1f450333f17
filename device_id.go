package msd

import "github.com/vsrinivas/msd-intel-gen/registers"

// EngineID names one hardware command-execution unit.
type EngineID int

const (
	RenderEngineID EngineID = iota
	VideoEngineID
	engineCount
)

func (id EngineID) String() string {
	switch id {
	case RenderEngineID:
		return "render"
	case VideoEngineID:
		return "video"
	}
	return "unknown"
}

// engineIndex maps an EngineID to its index in the interrupt blocks.
func engineIndex(id EngineID) int { return int(id) }

// DeviceID-to-generation mapping for the device families this driver
// handles.
func deviceGen(deviceID uint32) (registers.Gen, bool) {
	switch deviceID &^ 0xF {
	// Skylake / Kaby Lake GT2.
	case 0x1910, 0x5910:
		return registers.Gen9, true
	// Tiger Lake.
	case 0x9A40, 0x9A60:
		return registers.Gen12, true
	}
	return 0, false
}

func videoEngineMmioBase(gen registers.Gen) uint32 {
	if gen == registers.Gen12 {
		return registers.Gen12VideoEngineMmioBase
	}
	return registers.Gen9VideoEngineMmioBase
}
