package platform

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vsrinivas/msd-intel-gen/internal/utils"
)

// AddressSpace models a GPU page-table hierarchy as an address allocator:
// it hands out GPU virtual ranges for buffers and tracks live mappings.
// Page-table maintenance itself is outside this core.
type AddressSpace struct {
	mutex sync.Mutex

	name string
	base uint64
	size uint64
	next uint64

	mappings map[uint64]*GpuMapping
}

// GpuMapping is a live GPU virtual mapping of (a page range of) a buffer.
type GpuMapping struct {
	space      *AddressSpace
	buffer     *Buffer
	gpuAddr    uint64
	pageOffset uint64
	length     uint64
}

func (m *GpuMapping) GpuAddr() uint64 { return m.gpuAddr }
func (m *GpuMapping) Length() uint64  { return m.length }
func (m *GpuMapping) Buffer() *Buffer { return m.buffer }

// Release unmaps the range. Releasing twice is an error.
func (m *GpuMapping) Release() error {
	if m.space == nil {
		return errors.New("mapping released twice")
	}
	err := m.space.unmap(m)
	m.space = nil
	return err
}

func NewAddressSpace(name string, base, size uint64) *AddressSpace {
	return &AddressSpace{
		name:     name,
		base:     base,
		size:     size,
		next:     base,
		mappings: map[uint64]*GpuMapping{},
	}
}

func (s *AddressSpace) Name() string { return s.name }

// MapBufferGpu maps the whole buffer at the next free GPU address.
func (s *AddressSpace) MapBufferGpu(buffer *Buffer) (*GpuMapping, error) {
	return s.MapBufferGpuRange(buffer, 0, buffer.Size()/PageSize)
}

// MapBufferGpuRange maps pageCount pages starting at pageOffset.
func (s *AddressSpace) MapBufferGpuRange(buffer *Buffer, pageOffset, pageCount uint64) (*GpuMapping, error) {
	length := pageCount * PageSize
	if (pageOffset+pageCount)*PageSize > buffer.Size() {
		return nil, errors.Errorf("%s: map of %q out of range: page offset %d count %d size 0x%x",
			s.name, buffer.Name(), pageOffset, pageCount, buffer.Size())
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	gpuAddr := utils.AlignUp(s.next, uint64(PageSize))
	if gpuAddr+length > s.base+s.size {
		return nil, errors.Errorf("%s: address space exhausted mapping %q (0x%x bytes)",
			s.name, buffer.Name(), length)
	}

	return s.insertLocked(buffer, gpuAddr, pageOffset, length)
}

// MapBufferGpuFixed maps the whole buffer at a caller-chosen GPU address.
func (s *AddressSpace) MapBufferGpuFixed(buffer *Buffer, gpuAddr uint64) (*GpuMapping, error) {
	if gpuAddr%PageSize != 0 {
		return nil, errors.Errorf("%s: fixed address 0x%x not page aligned", s.name, gpuAddr)
	}
	if gpuAddr < s.base || gpuAddr+buffer.Size() > s.base+s.size {
		return nil, errors.Errorf("%s: fixed address 0x%x outside space", s.name, gpuAddr)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.mappings[gpuAddr]; ok {
		return nil, errors.Errorf("%s: fixed address 0x%x already mapped", s.name, gpuAddr)
	}

	return s.insertLocked(buffer, gpuAddr, 0, buffer.Size())
}

func (s *AddressSpace) insertLocked(buffer *Buffer, gpuAddr, pageOffset, length uint64) (*GpuMapping, error) {
	mapping := &GpuMapping{
		space:      s,
		buffer:     buffer,
		gpuAddr:    gpuAddr,
		pageOffset: pageOffset,
		length:     length,
	}
	s.mappings[gpuAddr] = mapping
	if gpuAddr+length > s.next {
		s.next = gpuAddr + length
	}
	return mapping, nil
}

func (s *AddressSpace) unmap(mapping *GpuMapping) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.mappings[mapping.gpuAddr]; !ok {
		return errors.Errorf("%s: no mapping at 0x%x", s.name, mapping.gpuAddr)
	}
	delete(s.mappings, mapping.gpuAddr)
	return nil
}

// MappingCount returns the number of live mappings.
func (s *AddressSpace) MappingCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.mappings)
}
