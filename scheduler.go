package msd

import (
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// Scheduler decides which pending context's queued batches may next be
// drained into the ring buffer of an idle engine.
type Scheduler interface {
	// CommandBufferQueued registers that context has at least one pending
	// batch; a context already in the run order is not re-added.
	CommandBufferQueued(context *MsdIntelContext)
	// ScheduleContext returns the context whose pending batches should be
	// drained next, or nil at a switch point: the caller should submit what
	// it has and allow a context switch. Within one drain burst the same
	// context is returned until its queue is empty.
	ScheduleContext() *MsdIntelContext
	// CommandBufferScheduled records that one of context's batches was
	// written to the ring buffer and is now in flight.
	CommandBufferScheduled(context *MsdIntelContext)
	// CommandBufferCompleted records that one of context's batches finished
	// on the hardware.
	CommandBufferCompleted(context *MsdIntelContext)
}

// fifoScheduler serves contexts in arrival order and drains one context
// completely per burst. FIFO between contexts is the simplest policy that
// avoids starvation; work within a context is already strictly ordered by
// its own queue.
type fifoScheduler struct {
	logger   *slog.Logger
	engineID EngineID

	fifo      []*MsdIntelContext
	scheduled map[*MsdIntelContext]bool
	current   *MsdIntelContext

	// Batches handed to hardware and not yet completed, per context.
	inflightCounts *swiss.Map[*MsdIntelContext, int]
}

// NewFifoScheduler creates the default FIFO scheduler for one engine.
func NewFifoScheduler(logger *slog.Logger, engineID EngineID) Scheduler {
	return &fifoScheduler{
		logger:         logger,
		engineID:       engineID,
		scheduled:      map[*MsdIntelContext]bool{},
		inflightCounts: swiss.NewMap[*MsdIntelContext, int](8),
	}
}

func (s *fifoScheduler) CommandBufferQueued(context *MsdIntelContext) {
	if s.scheduled[context] || context == s.current {
		return
	}
	s.scheduled[context] = true
	s.fifo = append(s.fifo, context)
}

func (s *fifoScheduler) ScheduleContext() *MsdIntelContext {
	if s.current != nil {
		// A context may be killed while parked here, for example when a
		// ring-full deferral left it current across a hang recovery. It
		// must never be handed out again; fall through to the FIFO scan.
		if s.current.Killed() {
			s.logger.Debug("FifoScheduler: dropping killed current context",
				slog.Uint64("context_id", s.current.ID()))
			s.current = nil
		} else if s.current.PendingBatchCount(s.engineID) > 0 {
			return s.current
		} else {
			// Current context drained; signal the switch point.
			s.current = nil
			return nil
		}
	}

	for len(s.fifo) > 0 {
		context := s.fifo[0]
		s.fifo = s.fifo[1:]
		delete(s.scheduled, context)

		if context.Killed() {
			s.logger.Debug("FifoScheduler: skipping killed context",
				slog.Uint64("context_id", context.ID()))
			continue
		}
		if context.PendingBatchCount(s.engineID) == 0 {
			continue
		}

		s.current = context
		return context
	}

	return nil
}

func (s *fifoScheduler) CommandBufferCompleted(context *MsdIntelContext) {
	count, _ := s.inflightCounts.Get(context)
	if count <= 1 {
		s.inflightCounts.Delete(context)
	} else {
		s.inflightCounts.Put(context, count-1)
	}
}

func (s *fifoScheduler) CommandBufferScheduled(context *MsdIntelContext) {
	count, _ := s.inflightCounts.Get(context)
	s.inflightCounts.Put(context, count+1)
}

// inflightCount reports batches in flight for the context.
func (s *fifoScheduler) inflightCount(context *MsdIntelContext) int {
	count, _ := s.inflightCounts.Get(context)
	return count
}
