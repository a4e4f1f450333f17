package msd

import (
	"math"
	"time"

	"golang.org/x/exp/slog"
)

// TimeoutNever is returned from GetHangcheckTimeout while the engine is
// idle: no progress deadline applies.
const TimeoutNever = time.Duration(math.MaxInt64)

// GpuProgress tracks one engine's last-submitted and last-completed
// sequence numbers and derives the hang-check deadline from them. Hang
// detection keys off lack of progress within the threshold, not lack of
// activity.
type GpuProgress struct {
	logger *slog.Logger

	lastSubmitted      uint32
	lastCompleted      uint32
	hangcheckStartTime time.Time
	idle               bool
}

func NewGpuProgress(logger *slog.Logger) *GpuProgress {
	return &GpuProgress{
		logger:        logger,
		lastSubmitted: InvalidSequenceNumber,
		lastCompleted: InvalidSequenceNumber,
		idle:          true,
	}
}

func (p *GpuProgress) LastSubmittedSequenceNumber() uint32 { return p.lastSubmitted }
func (p *GpuProgress) LastCompletedSequenceNumber() uint32 { return p.lastCompleted }

// Submitted records a hardware submission. If the engine was idle the
// hang-check window opens at time. Sequence numbers must arrive
// monotonically; resubmitting the current value is a no-op.
func (p *GpuProgress) Submitted(sequenceNumber uint32, now time.Time) {
	if sequenceNumber == p.lastSubmitted {
		return
	}
	if p.lastSubmitted != InvalidSequenceNumber && sequenceNumber < p.lastSubmitted {
		panic("GpuProgress::Submitted: sequence number went backwards")
	}

	if p.idle {
		p.hangcheckStartTime = now
		p.idle = false
	}
	p.lastSubmitted = sequenceNumber
}

// Completed records the hardware-reported last completed sequence number.
// A duplicate report is tolerated as a no-op; going idle clears the
// hang-check deadline, otherwise the window restarts at time.
func (p *GpuProgress) Completed(sequenceNumber uint32, now time.Time) {
	if sequenceNumber == p.lastCompleted {
		p.logger.Debug("GpuProgress::Completed: duplicate completion",
			slog.Any("sequence_number", sequenceNumber))
		return
	}
	if p.lastCompleted != InvalidSequenceNumber && sequenceNumber < p.lastCompleted {
		p.logger.Warn("GpuProgress::Completed: stale completion ignored",
			slog.Any("sequence_number", sequenceNumber),
			slog.Any("last_completed", p.lastCompleted))
		return
	}

	// A completion with nothing ever submitted happens on the
	// engine-initialization path, where the seed sequence number is written
	// directly to the status page. Treat it as the submission too so the
	// engine doesn't look hung or spuriously busy.
	if p.lastSubmitted == InvalidSequenceNumber || sequenceNumber > p.lastSubmitted {
		p.lastSubmitted = sequenceNumber
	}

	p.lastCompleted = sequenceNumber

	if p.lastCompleted == p.lastSubmitted {
		p.idle = true
	} else {
		p.hangcheckStartTime = now
	}
}

// GetHangcheckTimeout returns how long from now until the engine should be
// declared hung, or TimeoutNever while idle. A non-positive result means
// the deadline has passed.
func (p *GpuProgress) GetHangcheckTimeout(threshold time.Duration, now time.Time) time.Duration {
	if p.idle {
		return TimeoutNever
	}
	return p.hangcheckStartTime.Add(threshold).Sub(now)
}

// Reset re-synchronizes bookkeeping with freshly-reset (necessarily idle)
// hardware after hang recovery.
func (p *GpuProgress) Reset() {
	p.lastCompleted = p.lastSubmitted
	p.idle = true
}
