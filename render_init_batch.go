package msd

import (
	"github.com/cockroachdb/errors"
	"github.com/vsrinivas/msd-intel-gen/platform"
	"github.com/vsrinivas/msd-intel-gen/registers"
)

// The render engine needs a small amount of one-time state programmed from
// a batch before it will execute client work correctly: workaround register
// loads and the cache-mode configuration. Each group is its own batch so a
// failure is attributable.

const renderInitBatchName = "render-init"

// Workaround and cache-mode registers loaded by the bootstrap batches.
// Values are (register, masked value) pairs for MI_LOAD_REGISTER_IMM.
const (
	cacheMode0     = 0x7000
	cacheMode1     = 0x7004
	samplerMode    = 0xE18C
	rowChickenReg  = 0xE4F0
	halfSliceReg   = 0xE100
	cacheModeSs    = 0xE420
)

type registerLoad struct {
	register uint32
	value    uint32
}

func renderWorkaroundLoads(gen registers.Gen) []registerLoad {
	if gen == registers.Gen12 {
		return []registerLoad{
			{samplerMode, 0x00200020},
			{rowChickenReg, 0x10001000},
			{halfSliceReg, 0x00100010},
		}
	}
	return []registerLoad{
		{rowChickenReg, 0x81008100},
		{halfSliceReg, 0x00010001},
	}
}

func renderCacheConfigLoads() []registerLoad {
	return []registerLoad{
		{cacheMode0, 0x00400040},
		{cacheMode1, 0x00800080},
		{cacheModeSs, 0x00040004},
	}
}

func registerLoadDwords(loads []registerLoad) []uint32 {
	dwords := make([]uint32, 0, 2+2*len(loads))
	dwords = append(dwords, miLoadRegisterImm|uint32(2*len(loads)-1))
	for _, load := range loads {
		dwords = append(dwords, load.register, load.value)
	}
	dwords = append(dwords, miBatchBufferEnd)
	if len(dwords)%2 != 0 {
		dwords = append(dwords, miNoop)
	}
	return dwords
}

// buildInitBatch allocates a buffer holding the given instruction stream,
// maps it for the engine, and wraps it as a submittable batch.
func buildInitBatch(context *MsdIntelContext, space *platform.AddressSpace,
	name string, dwords []uint32) (MappedBatch, error) {
	length := uint64(len(dwords)) * dwordSize
	buffer, err := platform.NewBuffer(length, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %s batch", name)
	}

	for i, dword := range dwords {
		if err := buffer.Write32(uint64(i)*dwordSize, dword); err != nil {
			return nil, err
		}
	}

	mapping, err := space.MapBufferGpu(buffer)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %s batch gpu", name)
	}
	return newSimpleMappedBatch(context, mapping, length), nil
}

// renderInitBatches builds the bootstrap batch set for the render engine.
func renderInitBatches(context *MsdIntelContext, space *platform.AddressSpace,
	gen registers.Gen) ([]MappedBatch, error) {
	defs := []struct {
		name  string
		loads []registerLoad
	}{
		{renderInitBatchName, renderWorkaroundLoads(gen)},
		{"cache-config", renderCacheConfigLoads()},
	}

	batches := make([]MappedBatch, 0, len(defs))
	for _, def := range defs {
		batch, err := buildInitBatch(context, space, def.name, registerLoadDwords(def.loads))
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
