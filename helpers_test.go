package msd

// Shared test doubles for context, scheduler, and engine tests.

type recordingSubmitter struct {
	batches []MappedBatch
}

func (s *recordingSubmitter) SubmitBatch(batch MappedBatch) error {
	s.batches = append(s.batches, batch)
	return nil
}

type recordingNotifier struct {
	completedBuffers []uint64
	killedContexts   []uint64
}

func (n *recordingNotifier) NotifyCommandBufferCompleted(bufferID uint64) {
	n.completedBuffers = append(n.completedBuffers, bufferID)
}

func (n *recordingNotifier) NotifyContextKilled(contextID uint64) {
	n.killedContexts = append(n.killedContexts, contextID)
}

// stubBatch is a MappedBatch carrying no instructions.
type stubBatch struct {
	context        *MsdIntelContext
	sequenceNumber uint32
	completed      bool
}

func (b *stubBatch) Context() *MsdIntelContext     { return b.context }
func (b *stubBatch) GetGpuAddress() (uint64, bool) { return 0, false }
func (b *stubBatch) GetLength() uint64             { return 0 }

func (b *stubBatch) SetSequenceNumber(sequenceNumber uint32) {
	b.sequenceNumber = sequenceNumber
}

func (b *stubBatch) SequenceNumber() uint32 { return b.sequenceNumber }
func (b *stubBatch) useGlobalGtt() bool     { return false }
func (b *stubBatch) batchCompleted()        { b.completed = true }

func newTestContext(id uint64) (*MsdIntelContext, *recordingNotifier, *recordingSubmitter) {
	notifier := &recordingNotifier{}
	submitter := &recordingSubmitter{}
	return NewMsdIntelContext(testLogger(), id, notifier, submitter), notifier, submitter
}
