package msd

import (
	"github.com/vsrinivas/msd-intel-gen/platform"
)

// MappedBatch is one unit of work for an engine: either a client command
// buffer or a driver-internal batch (render-init, workaround, cache-config,
// mapping-release).
type MappedBatch interface {
	// Context returns the owning context.
	Context() *MsdIntelContext
	// GetGpuAddress returns the batch start address, or false when the
	// batch carries no instructions of its own (only its completion fence
	// is written to the ring).
	GetGpuAddress() (uint64, bool)
	GetLength() uint64

	SetSequenceNumber(sequenceNumber uint32)
	SequenceNumber() uint32

	// useGlobalGtt reports whether the batch start address resolves through
	// the global GTT rather than the context's per-process address space.
	useGlobalGtt() bool

	// batchCompleted runs the batch's completion side effects. It is not
	// run for batches discarded during hang recovery.
	batchCompleted()
}

// simpleMappedBatch wraps a single GPU mapping; used for the driver's
// bootstrap batches.
type simpleMappedBatch struct {
	context        *MsdIntelContext
	mapping        *platform.GpuMapping
	length         uint64
	sequenceNumber uint32
}

func newSimpleMappedBatch(context *MsdIntelContext, mapping *platform.GpuMapping, length uint64) *simpleMappedBatch {
	return &simpleMappedBatch{
		context:        context,
		mapping:        mapping,
		length:         length,
		sequenceNumber: InvalidSequenceNumber,
	}
}

func (b *simpleMappedBatch) Context() *MsdIntelContext { return b.context }

func (b *simpleMappedBatch) GetGpuAddress() (uint64, bool) {
	return b.mapping.GpuAddr(), true
}

func (b *simpleMappedBatch) GetLength() uint64 { return b.length }

func (b *simpleMappedBatch) SetSequenceNumber(sequenceNumber uint32) {
	b.sequenceNumber = sequenceNumber
}

func (b *simpleMappedBatch) SequenceNumber() uint32 { return b.sequenceNumber }

// Bootstrap batches are mapped through the global GTT; no client address
// space exists when they run.
func (b *simpleMappedBatch) useGlobalGtt() bool { return true }

func (b *simpleMappedBatch) batchCompleted() {}

// mappingReleaseBatch defers release of GPU mappings until the engine has
// drained past the point where they could still be referenced. It emits no
// instructions.
type mappingReleaseBatch struct {
	context        *MsdIntelContext
	mappings       []*platform.GpuMapping
	sequenceNumber uint32
}

func newMappingReleaseBatch(context *MsdIntelContext, mappings []*platform.GpuMapping) *mappingReleaseBatch {
	return &mappingReleaseBatch{
		context:        context,
		mappings:       mappings,
		sequenceNumber: InvalidSequenceNumber,
	}
}

func (b *mappingReleaseBatch) Context() *MsdIntelContext   { return b.context }
func (b *mappingReleaseBatch) GetGpuAddress() (uint64, bool) { return 0, false }
func (b *mappingReleaseBatch) GetLength() uint64           { return 0 }

func (b *mappingReleaseBatch) SetSequenceNumber(sequenceNumber uint32) {
	b.sequenceNumber = sequenceNumber
}

func (b *mappingReleaseBatch) SequenceNumber() uint32 { return b.sequenceNumber }

func (b *mappingReleaseBatch) useGlobalGtt() bool { return false }

func (b *mappingReleaseBatch) batchCompleted() {
	for _, mapping := range b.mappings {
		_ = mapping.Release()
	}
	b.mappings = nil
}
