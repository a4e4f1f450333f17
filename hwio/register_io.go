package hwio

import (
	"time"

	"github.com/pkg/errors"
	"github.com/vsrinivas/msd-intel-gen/internal/utils"
)

// ForcewakeDomain names a power-gated register domain that must be woken
// before registers inside it may be touched.
type ForcewakeDomain int

const (
	ForcewakeGen9Render ForcewakeDomain = iota
	ForcewakeGen12Gt
)

func (d ForcewakeDomain) String() string {
	switch d {
	case ForcewakeGen9Render:
		return "ForcewakeGen9Render"
	case ForcewakeGen12Gt:
		return "ForcewakeGen12Gt"
	}
	return "ForcewakeUnknown"
}

const (
	forcewakeGen9RenderRequest = 0xA278
	forcewakeGen9RenderStatus  = 0x0D84
	forcewakeGen12GtRequest    = 0xA188
	forcewakeGen12GtStatus     = 0x130044

	forcewakeBit = 1 << 0

	forcewakeMaxRetries = 20
	forcewakeRetryDelay = time.Millisecond
)

// RegisterIo mediates all register access. It layers forcewake bookkeeping
// over the raw Mmio; with the debug_msd build tag, access to a power-gated
// range without an active wake panics.
type RegisterIo struct {
	mmio  Mmio
	sleep func(time.Duration)

	activeDomains map[ForcewakeDomain]int
}

func NewRegisterIo(mmio Mmio) *RegisterIo {
	return &RegisterIo{
		mmio:          mmio,
		sleep:         time.Sleep,
		activeDomains: map[ForcewakeDomain]int{},
	}
}

func (r *RegisterIo) Read32(offset uint32) uint32 {
	r.checkForcewake(offset)
	return r.mmio.Read32(offset)
}

func (r *RegisterIo) Write32(offset uint32, value uint32) {
	r.checkForcewake(offset)
	r.mmio.Write32(offset, value)
}

func (r *RegisterIo) Read64(offset uint32) uint64 {
	r.checkForcewake(offset)
	return r.mmio.Read64(offset)
}

func (r *RegisterIo) Mmio() Mmio { return r.mmio }

func forcewakeOffsets(domain ForcewakeDomain) (request, status uint32) {
	switch domain {
	case ForcewakeGen9Render:
		return forcewakeGen9RenderRequest, forcewakeGen9RenderStatus
	case ForcewakeGen12Gt:
		return forcewakeGen12GtRequest, forcewakeGen12GtStatus
	}
	panic("unknown forcewake domain")
}

// ForcewakeRequest wakes the domain, polling the ack register with bounded
// ms-granularity retries. Requests nest.
func (r *RegisterIo) ForcewakeRequest(domain ForcewakeDomain) error {
	if r.activeDomains[domain] > 0 {
		r.activeDomains[domain]++
		return nil
	}

	request, status := forcewakeOffsets(domain)
	// Set bit with write mask in the upper word.
	r.mmio.Write32(request, forcewakeBit<<16|forcewakeBit)

	for retry := 0; retry < forcewakeMaxRetries; retry++ {
		if r.mmio.Read32(status)&forcewakeBit != 0 {
			r.activeDomains[domain] = 1
			return nil
		}
		r.sleep(forcewakeRetryDelay)
	}

	return errors.Errorf("forcewake ack timed out for %s", domain)
}

// ForcewakeRelease drops one wake reference, clearing the hardware request
// when the count reaches zero.
func (r *RegisterIo) ForcewakeRelease(domain ForcewakeDomain) error {
	count := r.activeDomains[domain]
	if count == 0 {
		return errors.Errorf("forcewake release without request for %s", domain)
	}
	if count > 1 {
		r.activeDomains[domain] = count - 1
		return nil
	}

	request, _ := forcewakeOffsets(domain)
	r.mmio.Write32(request, forcewakeBit<<16)
	delete(r.activeDomains, domain)
	return nil
}

// ForcewakeActive reports whether the domain currently holds a wake.
func (r *RegisterIo) ForcewakeActive(domain ForcewakeDomain) bool {
	return r.activeDomains[domain] > 0
}

// Interrupt-identity blocks and the forcewake registers themselves stay
// powered; everything else requires an active wake.
func forcewakeExempt(offset uint32) bool {
	switch offset {
	case forcewakeGen9RenderRequest, forcewakeGen9RenderStatus,
		forcewakeGen12GtRequest, forcewakeGen12GtStatus:
		return true
	}
	if offset >= 0x44000 && offset < 0x45000 {
		return true
	}
	if offset >= 0x190000 && offset < 0x191000 {
		return true
	}
	return false
}

func (r *RegisterIo) checkForcewake(offset uint32) {
	if !utils.DebugAssertsEnabled || forcewakeExempt(offset) {
		return
	}
	utils.Assertf(len(r.activeDomains) > 0,
		"register access at offset 0x%x without forcewake", offset)
}
