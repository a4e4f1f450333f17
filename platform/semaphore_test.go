package platform

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSemaphoreSignalLatches(t *testing.T) {
	sem := NewSemaphore()

	require.False(t, sem.TryWait())

	sem.Signal()
	require.True(t, sem.TryWait())
	require.False(t, sem.TryWait(), "TryWait must consume the signal")
}

func TestSemaphoreSignalDoesNotAccumulate(t *testing.T) {
	sem := NewSemaphore()

	sem.Signal()
	sem.Signal()

	require.True(t, sem.TryWait())
	require.False(t, sem.TryWait())
}

func TestSemaphoreReset(t *testing.T) {
	sem := NewSemaphore()

	sem.Signal()
	sem.Reset()
	require.False(t, sem.TryWait())
}

func TestSemaphoreWaitTimeout(t *testing.T) {
	sem := NewSemaphore()

	start := time.Now()
	require.False(t, sem.Wait(10*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSemaphoreWaitConsumesSignal(t *testing.T) {
	sem := NewSemaphore()

	go func() {
		time.Sleep(5 * time.Millisecond)
		sem.Signal()
	}()

	require.True(t, sem.Wait(time.Second))
	require.False(t, sem.TryWait())
}

func TestSemaphoreWaitAsyncRunsOnSignal(t *testing.T) {
	sem := NewSemaphore()

	done := make(chan struct{})
	sem.WaitAsync(func() { close(done) })

	select {
	case <-done:
		t.Fatal("callback ran before signal")
	case <-time.After(5 * time.Millisecond):
	}

	sem.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}

	require.False(t, sem.TryWait(), "async wait must consume the signal")
}

func TestSemaphoreWaitAsyncAlreadySignaled(t *testing.T) {
	sem := NewSemaphore()
	sem.Signal()

	done := make(chan struct{})
	sem.WaitAsync(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	require.False(t, sem.TryWait())
}

func TestSemaphoreSignalWakesOneWaiter(t *testing.T) {
	sem := NewSemaphore()

	var ran atomic.Int32
	sem.WaitAsync(func() { ran.Add(1) })
	sem.WaitAsync(func() { ran.Add(1) })

	sem.Signal()
	require.Equal(t, int32(1), ran.Load())

	sem.Signal()
	require.Equal(t, int32(2), ran.Load())
	require.False(t, sem.TryWait())
}

func TestSemaphoreDuplicateHandleSharesState(t *testing.T) {
	sem := NewSemaphore()
	dup, err := sem.DuplicateHandle()
	require.NoError(t, err)
	require.Equal(t, sem.ID(), dup.ID())

	dup.Signal()
	require.True(t, sem.TryWait())
	require.False(t, dup.TryWait())
}

func TestSemaphoreUniqueIDs(t *testing.T) {
	a := NewSemaphore()
	b := NewSemaphore()
	require.NotEqual(t, a.ID(), b.ID())
}
