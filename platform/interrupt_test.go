package platform

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInterruptManagerSingleRegistration(t *testing.T) {
	manager := NewInterruptManager()

	require.NoError(t, manager.RegisterCallback(func() {}, 0x3))
	require.Equal(t, uint32(0x3), manager.Mask())

	require.Error(t, manager.RegisterCallback(func() {}, 0x1))
}

func TestInterruptManagerTrigger(t *testing.T) {
	manager := NewInterruptManager()

	var count atomic.Int32
	fired := make(chan struct{}, 4)
	require.NoError(t, manager.RegisterCallback(func() {
		count.Add(1)
		fired <- struct{}{}
	}, 0x1))

	manager.Trigger()
	manager.Trigger()

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("interrupt callback never ran")
		}
	}
	require.Equal(t, int32(2), count.Load())
}

func TestInterruptManagerTriggerWithoutCallback(t *testing.T) {
	manager := NewInterruptManager()
	manager.Trigger()
	manager.Close()
}

func TestInterruptManagerCloseWaitsAndStops(t *testing.T) {
	manager := NewInterruptManager()

	release := make(chan struct{})
	entered := make(chan struct{})
	var count atomic.Int32
	require.NoError(t, manager.RegisterCallback(func() {
		count.Add(1)
		entered <- struct{}{}
		<-release
	}, 0x1))

	manager.Trigger()
	<-entered
	close(release)

	manager.Close()
	require.Equal(t, int32(1), count.Load())

	manager.Trigger()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, int32(1), count.Load(), "no delivery after Close")
}
