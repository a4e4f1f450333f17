package platform

import (
	"sync"
	"time"
)

// Semaphore is a binary event primitive. Signal on an unwaited semaphore
// latches the signaled state; a successful Wait or TryWait consumes it.
// Duplicated handles share one underlying state, matching handle-duplication
// semantics of the kernel primitive this stands in for.
type Semaphore struct {
	state *semaphoreState
}

type semaphoreState struct {
	mutex    sync.Mutex
	id       uint64
	signaled bool
	notify   chan struct{}
	waiters  []func()
}

var (
	semaphoreIDMutex sync.Mutex
	nextSemaphoreID  uint64
)

func NewSemaphore() *Semaphore {
	semaphoreIDMutex.Lock()
	nextSemaphoreID++
	id := nextSemaphoreID
	semaphoreIDMutex.Unlock()

	return &Semaphore{
		state: &semaphoreState{
			id:     id,
			notify: make(chan struct{}, 1),
		},
	}
}

// ID identifies the underlying semaphore object; duplicated handles report
// the same id.
func (s *Semaphore) ID() uint64 { return s.state.id }

// DuplicateHandle returns a new handle sharing this semaphore's state.
func (s *Semaphore) DuplicateHandle() (*Semaphore, error) {
	return &Semaphore{state: s.state}, nil
}

// Signal wakes one registered async waiter if any, otherwise latches the
// signaled state. The waiter callback runs on the signaling goroutine with
// no semaphore locks held.
func (s *Semaphore) Signal() {
	st := s.state

	st.mutex.Lock()
	if len(st.waiters) > 0 {
		fn := st.waiters[0]
		st.waiters = st.waiters[1:]
		st.mutex.Unlock()
		fn()
		return
	}

	if !st.signaled {
		st.signaled = true
		select {
		case st.notify <- struct{}{}:
		default:
		}
	}
	st.mutex.Unlock()
}

// Reset clears a latched signal.
func (s *Semaphore) Reset() {
	st := s.state

	st.mutex.Lock()
	st.signaled = false
	select {
	case <-st.notify:
	default:
	}
	st.mutex.Unlock()
}

// TryWait consumes a latched signal without blocking.
func (s *Semaphore) TryWait() bool {
	st := s.state

	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.signaled {
		return false
	}
	st.signaled = false
	select {
	case <-st.notify:
	default:
	}
	return true
}

// Wait blocks until the semaphore is signaled or the timeout elapses,
// consuming the signal on success. A negative timeout waits forever.
func (s *Semaphore) Wait(timeout time.Duration) bool {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if s.TryWait() {
			return true
		}

		if timeout < 0 {
			<-s.state.notify
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			// One last racing check against a signal that landed after the
			// TryWait above.
			return s.TryWait()
		}

		timer := time.NewTimer(remaining)
		select {
		case <-s.state.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// WaitAsync registers fn to be invoked once the semaphore signals, consuming
// that signal. If the semaphore is already signaled the callback runs on a
// new goroutine; otherwise it runs on the signaling goroutine. The callback
// must not assume any particular calling thread.
func (s *Semaphore) WaitAsync(fn func()) {
	st := s.state

	st.mutex.Lock()
	if st.signaled {
		st.signaled = false
		select {
		case <-st.notify:
		default:
		}
		st.mutex.Unlock()
		go fn()
		return
	}

	st.waiters = append(st.waiters, fn)
	st.mutex.Unlock()
}
