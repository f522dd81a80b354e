package vm

import (
	"errors"
	"sync"

	"diskdrv"
)

// sectorsPerSlot is how many disk sectors one page-sized swap slot
// occupies (grounded on swap.c's "multiply by 8: block size is 512,
// page size is 4KB").
const sectorsPerSlot = PageSize / diskdrv.SectorSize

// / NumSwapSlots is the size of the swap bitmap (grounded on swap.c's
// / bitmap_create(1024*8)).
const NumSwapSlots = 1024 * 8

var errSwapFull = errors.New("vm: swap device is full")

// / Swap_t is the anonymous-page backing store (spec §4.4, "swap"). The
// / bitmap lock is always a leaf lock: Swap_t takes no other lock of this
// / package while holding it, though FrameTable_t holds its own lock
// / across SwapOut during eviction (spec §5, lock ordering).
type Swap_t struct {
	mu   sync.Mutex
	used [NumSwapSlots]bool
	disk diskdrv.Disk_i
}

// / NewSwap creates a swap device backed by disk, which must have at
// / least NumSwapSlots*sectorsPerSlot sectors.
func NewSwap(disk diskdrv.Disk_i) *Swap_t {
	return &Swap_t{disk: disk}
}

// / SwapOut writes one page's worth of data (len(data) == PageSize) to a
// / free slot and returns its index (grounded on swap.c's swap_out).
func (s *Swap_t) SwapOut(data []byte) (int, error) {
	if len(data) != PageSize {
		return 0, errors.New("vm: swap_out requires exactly one page")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := -1
	for i, u := range s.used {
		if !u {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, errSwapFull
	}
	s.used[slot] = true

	base := slot * sectorsPerSlot
	for i := 0; i < sectorsPerSlot; i++ {
		if err := s.disk.WriteSector(base+i, data[i*diskdrv.SectorSize:(i+1)*diskdrv.SectorSize]); err != nil {
			return 0, err
		}
	}
	return slot, nil
}

// / Used reports how many swap slots currently hold a page, for
// / diagnostics (cmd/kdiag) and the "swap round-trip" testable property
// / (spec §8).
func (s *Swap_t) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.used {
		if u {
			n++
		}
	}
	return n
}

// / SwapIn reads the page stored at slot into buf (len(buf) == PageSize)
// / and frees the slot (grounded on swap.c's swap_in).
func (s *Swap_t) SwapIn(slot int, buf []byte) error {
	if len(buf) != PageSize {
		return errors.New("vm: swap_in requires exactly one page")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 0 || slot >= NumSwapSlots || !s.used[slot] {
		return errors.New("vm: swap_in on an unused slot")
	}
	s.used[slot] = false

	base := slot * sectorsPerSlot
	for i := 0; i < sectorsPerSlot; i++ {
		if err := s.disk.ReadSector(base+i, buf[i*diskdrv.SectorSize:(i+1)*diskdrv.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}
