package msd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestGpuProgressIdleHasNoDeadline(t *testing.T) {
	progress := NewGpuProgress(testLogger())

	require.Equal(t, TimeoutNever,
		progress.GetHangcheckTimeout(time.Second, time.Now()))
}

func TestGpuProgressSubmitOpensWindow(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	start := time.Unix(1000, 0)

	progress.Submitted(0x1000, start)

	require.Equal(t, 500*time.Millisecond,
		progress.GetHangcheckTimeout(time.Second, start.Add(500*time.Millisecond)))
	require.LessOrEqual(t,
		progress.GetHangcheckTimeout(time.Second, start.Add(1500*time.Millisecond)),
		time.Duration(0))
}

func TestGpuProgressCompletionRestartsWindow(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	start := time.Unix(1000, 0)

	progress.Submitted(0x1000, start)
	progress.Submitted(0x1001, start)

	// Partial progress restarts the window rather than clearing it.
	mid := start.Add(800 * time.Millisecond)
	progress.Completed(0x1000, mid)
	require.Equal(t, time.Second, progress.GetHangcheckTimeout(time.Second, mid))

	// Full completion goes idle.
	progress.Completed(0x1001, mid.Add(100*time.Millisecond))
	require.Equal(t, TimeoutNever, progress.GetHangcheckTimeout(time.Second, mid))
}

func TestGpuProgressDuplicateCompletionIgnored(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	now := time.Unix(1000, 0)

	progress.Submitted(0x1000, now)
	progress.Completed(0x1000, now)
	progress.Completed(0x1000, now.Add(time.Minute))

	require.Equal(t, uint32(0x1000), progress.LastCompletedSequenceNumber())
	require.Equal(t, TimeoutNever, progress.GetHangcheckTimeout(time.Second, now))
}

func TestGpuProgressStaleCompletionIgnored(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	now := time.Unix(1000, 0)

	progress.Submitted(0x1001, now)
	progress.Completed(0x1001, now)
	progress.Completed(0x1000, now)

	require.Equal(t, uint32(0x1001), progress.LastCompletedSequenceNumber())
}

func TestGpuProgressCompletionWithoutSubmission(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	now := time.Unix(1000, 0)

	// Engine init seeds the status page directly; the engine must come up
	// idle, not hung.
	progress.Completed(0xFFF, now)

	require.Equal(t, uint32(0xFFF), progress.LastSubmittedSequenceNumber())
	require.Equal(t, TimeoutNever, progress.GetHangcheckTimeout(time.Second, now))
}

func TestGpuProgressBackwardsSubmissionPanics(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	now := time.Unix(1000, 0)

	progress.Submitted(0x1001, now)
	require.Panics(t, func() {
		progress.Submitted(0x1000, now)
	})
}

func TestGpuProgressReset(t *testing.T) {
	progress := NewGpuProgress(testLogger())
	now := time.Unix(1000, 0)

	progress.Submitted(0x1005, now)
	progress.Reset()

	require.Equal(t, uint32(0x1005), progress.LastCompletedSequenceNumber())
	require.Equal(t, TimeoutNever, progress.GetHangcheckTimeout(time.Second, now))
}
