package msd

// Instruction emitters for the handful of commands the submission protocol
// itself needs. Opcode encodings for 3D/media work live in the batches the
// clients hand us; the driver only ever writes batch starts, completion
// fences, and interrupts into the ring.

const (
	miNoop             = 0x0 << 23
	miUserInterrupt    = 0x02 << 23
	miFlushDw          = 0x26 << 23
	miBatchBufferEnd   = 0x0A << 23
	miBatchBufferStart = 0x31 << 23
	miLoadRegisterImm  = 0x22 << 23

	// 3D pipeline command form: type 3, 3D opcode, PIPE_CONTROL sub-opcode.
	pipeControl = 0x3<<29 | 0x3<<27 | 0x2<<24

	// MI_BATCH_BUFFER_START address-space select: the batch address is in
	// the per-process address space.
	batchAddressSpacePpgtt = 1 << 8

	// MI_FLUSH_DW post-sync immediate-data write.
	flushDwPostSyncWrite = 1 << 14

	// PIPE_CONTROL flags dword.
	pipeControlCsStall          = 1 << 20
	pipeControlPostSyncWriteImm = 1 << 14
	pipeControlGlobalGttWrite   = 1 << 24
	pipeControlFlushEnable      = 1 << 7
	pipeControlDcFlush          = 1 << 5
)

// Dword budgets per emitter; every emitter pads to an even dword count so
// the tail stays qword aligned.
const (
	miBatchBufferStartDwords = 4
	miUserInterruptDwords    = 2
	pipeControlDwords        = 6
	miFlushDwDwords          = 6
)

func writeMiNoop(rb *Ringbuffer) {
	rb.Write32(miNoop)
}

// writeMiBatchBufferStart emits the jump into a batch. globalGtt selects
// which address space the batch address resolves in: the global GTT for
// driver-internal bootstrap batches, the per-process space for client work.
func writeMiBatchBufferStart(rb *Ringbuffer, gpuAddr uint64, globalGtt bool) {
	header := uint32(miBatchBufferStart | (miBatchBufferStartDwords - 2))
	if !globalGtt {
		header |= batchAddressSpacePpgtt
	}
	rb.Write32(header)
	rb.Write32(uint32(gpuAddr))
	rb.Write32(uint32(gpuAddr >> 32))
	writeMiNoop(rb)
}

func writeMiUserInterrupt(rb *Ringbuffer) {
	rb.Write32(miUserInterrupt)
	writeMiNoop(rb)
}

// writePipeControl emits the render completion fence: a stalling
// PIPE_CONTROL whose post-sync operation writes sequenceNumber to gpuAddr
// (the status page's sequence-number slot, addressed through the global
// GTT).
func writePipeControl(rb *Ringbuffer, gpuAddr uint64, sequenceNumber uint32) {
	rb.Write32(pipeControl | (pipeControlDwords - 2))
	rb.Write32(pipeControlCsStall | pipeControlPostSyncWriteImm | pipeControlGlobalGttWrite |
		pipeControlFlushEnable | pipeControlDcFlush)
	rb.Write32(uint32(gpuAddr))
	rb.Write32(uint32(gpuAddr >> 32))
	rb.Write32(sequenceNumber)
	rb.Write32(0)
}

// writeMiFlushDw emits the video completion fence. The video engine has no
// in-engine flush equivalent to PIPE_CONTROL, so MI_FLUSH_DW with a
// post-sync immediate write serves as its fence.
func writeMiFlushDw(rb *Ringbuffer, gpuAddr uint64, sequenceNumber uint32) {
	rb.Write32(miFlushDw | flushDwPostSyncWrite | (miFlushDwDwords - 2 - 1))
	rb.Write32(uint32(gpuAddr))
	rb.Write32(uint32(gpuAddr >> 32))
	rb.Write32(sequenceNumber)
	rb.Write32(0)
	writeMiNoop(rb)
}
