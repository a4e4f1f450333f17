package platform

import (
	"sync"

	"github.com/pkg/errors"
)

// InterruptCallback receives the raw interrupt delivery. It runs on a
// platform-owned goroutine distinct from both client threads and the device
// thread, so it must restrict itself to register read/clear and enqueueing.
type InterruptCallback func()

// InterruptManager is the interrupt-registration capability. The production
// driver backs this with a PCI MSI; here interrupts are raised by Trigger,
// which tests and the mock hardware use.
type InterruptManager struct {
	mutex    sync.Mutex
	callback InterruptCallback
	mask     uint32
	wg       sync.WaitGroup
	closed   bool
}

func NewInterruptManager() *InterruptManager {
	return &InterruptManager{}
}

// RegisterCallback installs the single interrupt callback. Only one
// registration is permitted.
func (m *InterruptManager) RegisterCallback(fn InterruptCallback, mask uint32) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.callback != nil {
		return errors.New("interrupt callback already registered")
	}
	m.callback = fn
	m.mask = mask
	return nil
}

// Mask returns the interrupt mask supplied at registration.
func (m *InterruptManager) Mask() uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.mask
}

// Trigger delivers one interrupt on a fresh goroutine, modeling the
// platform interrupt thread.
func (m *InterruptManager) Trigger() {
	m.mutex.Lock()
	fn := m.callback
	if fn == nil || m.closed {
		m.mutex.Unlock()
		return
	}
	m.wg.Add(1)
	m.mutex.Unlock()

	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Close stops delivery and waits for any in-flight callback to return.
func (m *InterruptManager) Close() {
	m.mutex.Lock()
	m.closed = true
	m.mutex.Unlock()
	m.wg.Wait()
}
