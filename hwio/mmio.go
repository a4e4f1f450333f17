package hwio

import "sync"

// Mmio is the raw register window. Offsets are byte offsets into the GPU's
// register BAR. Implementations must be safe for concurrent use because the
// interrupt callback reads identity registers off the device thread.
type Mmio interface {
	Read32(offset uint32) uint32
	Write32(offset uint32, value uint32)
	Read64(offset uint32) uint64
}

// WriteHook observes a register write on a MockMmio; tests install these to
// emulate hardware reactions to the submission protocol.
type WriteHook func(offset uint32, value uint32)

// MockMmio is an in-memory register window backing tests and the mock
// device. Unwritten registers read as zero.
type MockMmio struct {
	mutex sync.Mutex
	regs  map[uint32]uint32
	hook  WriteHook
}

func NewMockMmio() *MockMmio {
	return &MockMmio{regs: map[uint32]uint32{}}
}

// SetWriteHook installs a hook invoked (without internal locks held) after
// every Write32.
func (m *MockMmio) SetWriteHook(hook WriteHook) {
	m.mutex.Lock()
	m.hook = hook
	m.mutex.Unlock()
}

func (m *MockMmio) Read32(offset uint32) uint32 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.regs[offset]
}

func (m *MockMmio) Write32(offset uint32, value uint32) {
	m.mutex.Lock()
	m.regs[offset] = value
	m.ackForcewakeLocked(offset, value)
	hook := m.hook
	m.mutex.Unlock()

	if hook != nil {
		hook(offset, value)
	}
}

// ackForcewakeLocked mirrors forcewake request writes into the matching
// status register, so driver bring-up succeeds against the mock without
// per-test plumbing.
func (m *MockMmio) ackForcewakeLocked(offset uint32, value uint32) {
	var status uint32
	switch offset {
	case forcewakeGen9RenderRequest:
		status = forcewakeGen9RenderStatus
	case forcewakeGen12GtRequest:
		status = forcewakeGen12GtStatus
	default:
		return
	}

	// Masked write: the upper half selects the bits being written.
	if value&(forcewakeBit<<16) == 0 {
		return
	}
	if value&forcewakeBit != 0 {
		m.regs[status] |= forcewakeBit
	} else {
		m.regs[status] &^= forcewakeBit
	}
}

func (m *MockMmio) Read64(offset uint32) uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return uint64(m.regs[offset]) | uint64(m.regs[offset+4])<<32
}
