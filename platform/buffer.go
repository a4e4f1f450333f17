package platform

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vsrinivas/msd-intel-gen/internal/utils"
)

const PageSize = 4096

// Buffer is a page-aligned allocation that can be mapped for CPU access and
// handed to an AddressSpace for GPU mapping. It stands in for the kernel's
// contiguous-memory object; the backing store here is process memory.
type Buffer struct {
	mutex sync.Mutex

	name     string
	size     uint64
	data     []byte
	mapCount int
}

// NewBuffer creates a buffer of at least size bytes, rounded up to a whole
// number of pages.
func NewBuffer(size uint64, name string) (*Buffer, error) {
	if size == 0 {
		return nil, errors.Errorf("attempted to create zero-size buffer %q", name)
	}

	size = utils.AlignUp(size, uint64(PageSize))
	return &Buffer{
		name: name,
		size: size,
		data: make([]byte, size),
	}, nil
}

func (b *Buffer) Name() string { return b.name }
func (b *Buffer) Size() uint64 { return b.size }

// MapCpu returns a CPU-accessible view of the buffer contents. Mappings are
// counted; each MapCpu must be balanced by an UnmapCpu.
func (b *Buffer) MapCpu() ([]byte, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.mapCount++
	return b.data, nil
}

func (b *Buffer) UnmapCpu() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.mapCount == 0 {
		return errors.Errorf("unbalanced UnmapCpu on buffer %q", b.name)
	}
	b.mapCount--
	return nil
}

// Write32 stores a dword at the given byte offset without requiring the
// caller to hold a CPU mapping. Offset must be dword aligned and in bounds.
func (b *Buffer) Write32(offset uint64, value uint32) error {
	if offset%4 != 0 || offset+4 > b.size {
		return errors.Errorf("buffer %q: bad dword write at offset 0x%x", b.name, offset)
	}
	putDword(b.data[offset:], value)
	return nil
}

// Read32 loads a dword at the given byte offset.
func (b *Buffer) Read32(offset uint64) (uint32, error) {
	if offset%4 != 0 || offset+4 > b.size {
		return 0, errors.Errorf("buffer %q: bad dword read at offset 0x%x", b.name, offset)
	}
	return getDword(b.data[offset:]), nil
}

func putDword(p []byte, v uint32) {
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
}

func getDword(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}
