package msd

// InvalidSequenceNumber is never issued by a Sequencer.
const InvalidSequenceNumber uint32 = 0

const firstSequenceNumber uint32 = 0x1000

// Sequencer issues strictly increasing 32-bit sequence numbers for one
// engine. It is only used from the device thread.
type Sequencer struct {
	next uint32
}

func NewSequencer() *Sequencer {
	return &Sequencer{next: firstSequenceNumber}
}

func (s *Sequencer) NextSequenceNumber() uint32 {
	seq := s.next
	s.next++
	return seq
}
