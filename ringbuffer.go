package msd

import (
	"github.com/cockroachdb/errors"
	"github.com/vsrinivas/msd-intel-gen/internal/utils"
	"github.com/vsrinivas/msd-intel-gen/platform"
)

const (
	ringbufferSize = 32 * 1024
	dwordSize      = 4
)

// Ringbuffer is a per-(context, engine) circular instruction buffer. The
// tail is the software write position handed to hardware at submission; the
// head is the consumed boundary, advanced only when an in-flight sequence
// completes. Contents are raw instruction dwords; the ringbuffer has no
// knowledge of their meaning.
type Ringbuffer struct {
	buffer  *platform.Buffer
	mapping *platform.GpuMapping
	cpuAddr []byte

	head uint32
	tail uint32
	size uint32
}

// NewRingbuffer creates a ringbuffer of the standard size with a CPU
// mapping held for its lifetime.
func NewRingbuffer(name string) (*Ringbuffer, error) {
	return newRingbuffer(name, ringbufferSize)
}

func newRingbuffer(name string, size uint32) (*Ringbuffer, error) {
	if err := utils.CheckPow2(size, "ringbuffer size"); err != nil {
		return nil, err
	}

	buffer, err := platform.NewBuffer(uint64(size), name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create ringbuffer %q", name)
	}

	cpuAddr, err := buffer.MapCpu()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map ringbuffer %q", name)
	}

	return &Ringbuffer{
		buffer:  buffer,
		cpuAddr: cpuAddr,
		size:    size,
	}, nil
}

func (r *Ringbuffer) Size() uint32 { return r.size }
func (r *Ringbuffer) Head() uint32 { return r.head }

// Tail returns the next write offset, which is also the submission point
// handed to hardware.
func (r *Ringbuffer) Tail() uint32 { return r.tail }

// HasSpace reports whether bytes can be written without wrapping into
// unconsumed hardware-owned space. Callers must check before every write.
func (r *Ringbuffer) HasSpace(bytes uint32) bool {
	used := (r.tail - r.head + r.size) % r.size
	// One dword is kept unused so head==tail always means empty.
	return r.size-used-dwordSize >= bytes
}

// Write32 appends one instruction dword at the tail, wrapping at size.
func (r *Ringbuffer) Write32(value uint32) {
	utils.Assert(r.HasSpace(dwordSize), "ringbuffer write without space")

	offset := r.tail
	r.cpuAddr[offset] = byte(value)
	r.cpuAddr[offset+1] = byte(value >> 8)
	r.cpuAddr[offset+2] = byte(value >> 16)
	r.cpuAddr[offset+3] = byte(value >> 24)
	r.tail = (r.tail + dwordSize) % r.size
}

// UpdateHead advances the consumed boundary; called only when an in-flight
// sequence completes, with that sequence's stored ring offset.
func (r *Ringbuffer) UpdateHead(offset uint32) error {
	if offset%dwordSize != 0 || offset >= r.size {
		return errors.Newf("bad ringbuffer head offset 0x%x", offset)
	}
	r.head = offset
	return nil
}

// MapGpu maps the ringbuffer into the provided address space; the start
// address is loaded into the context image.
func (r *Ringbuffer) MapGpu(space *platform.AddressSpace) error {
	if r.mapping != nil {
		return errors.New("ringbuffer already mapped")
	}
	mapping, err := space.MapBufferGpu(r.buffer)
	if err != nil {
		return errors.Wrap(err, "failed to map ringbuffer gpu")
	}
	r.mapping = mapping
	return nil
}

// GetGpuAddress returns the ringbuffer start address; only valid after
// MapGpu succeeds.
func (r *Ringbuffer) GetGpuAddress() (uint64, bool) {
	if r.mapping == nil {
		return 0, false
	}
	return r.mapping.GpuAddr(), true
}

// ReadDword returns the instruction dword at the given byte offset; used by
// tests and diagnostics.
func (r *Ringbuffer) ReadDword(offset uint32) uint32 {
	p := r.cpuAddr[offset%r.size:]
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func (r *Ringbuffer) teardown() {
	if r.mapping != nil {
		_ = r.mapping.Release()
		r.mapping = nil
	}
	if r.cpuAddr != nil {
		_ = r.buffer.UnmapCpu()
		r.cpuAddr = nil
	}
}
