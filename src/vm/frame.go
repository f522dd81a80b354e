package vm

import (
	"fmt"
	"sync"

	"sched"
)

// / PageSize is the size of one virtual (and physical-frame) page: 8
// / disk sectors, matching the swap device's transfer unit (grounded on
// / swap.c's 8-sectors-per-slot loop).
const PageSize = 8 * 512

// / Page_t is a physical frame holding one VmEntry's content (spec §4.4,
// / "frame table entry"; grounded on page.h's struct page).
type Page_t struct {
	Vme      *VmEntry
	Kaddr    []byte
	Owner    *sched.Thread_t
	accessed bool

	// Dirty stands in for the hardware dirty bit the original reads via
	// pagedir_is_dirty (spec §4.4, "frame eviction" / "mmap flush"): Go
	// has no page-table dirty bit to consult, so callers that actually
	// write into Kaddr call MarkDirty to record it explicitly.
	Dirty bool
}

// / MarkDirty flags p as having been written since it was loaded, so
// / eviction and munmap know to write it back before discarding it.
func (p *Page_t) MarkDirty() {
	p.Dirty = true
}

// / FrameTable_t is the shared pool of physical frames, reclaimed by a
// / second-chance (clock) sweep over insertion order when full (spec
// / §4.4, "frame LRU"; grounded on page.c's lru_list, simplified from a
// / true recency list to a clock sweep in the same spirit as the buffer
// / cache's eviction, per the design note on unifying the two
// / reclamation strategies).
type FrameTable_t struct {
	mu       sync.Mutex
	capacity int
	frames   []*Page_t
	hand     int
	swap     *Swap_t

	// evictions is a diagnostics counter (cmd/kdiag), not part of
	// replacement correctness; read with Stats.
	evictions int64
}

// / NewFrameTable creates a frame table holding at most capacity pages,
// / swapping evicted anonymous pages out to swap.
func NewFrameTable(capacity int, swap *Swap_t) *FrameTable_t {
	return &FrameTable_t{capacity: capacity, swap: swap}
}

// / AllocPage reserves a frame for vme, evicting another page if the
// / table is at capacity (spec §4.4, "alloc_page"; grounded on page.c's
// / alloc_page, which calls palloc_get_page and falls back to eviction on
// / OOM).
func (ft *FrameTable_t) AllocPage(owner *sched.Thread_t, vme *VmEntry) (*Page_t, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if len(ft.frames) >= ft.capacity {
		if err := ft.evictLocked(); err != nil {
			return nil, err
		}
	}

	p := &Page_t{Vme: vme, Kaddr: make([]byte, PageSize), Owner: owner, accessed: true}
	ft.frames = append(ft.frames, p)
	return p, nil
}

// / Touch marks p as recently accessed, giving it a second chance during
// / the next eviction sweep.
func (ft *FrameTable_t) Touch(p *Page_t) {
	ft.mu.Lock()
	p.accessed = true
	ft.mu.Unlock()
}

// / Free removes p from the table without evicting anything else (spec
// / §4.4, "free_page"; e.g. munmap of a clean page).
func (ft *FrameTable_t) Free(p *Page_t) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for i, f := range ft.frames {
		if f == p {
			ft.frames = append(ft.frames[:i], ft.frames[i+1:]...)
			if ft.hand > i {
				ft.hand--
			}
			return
		}
	}
}

// evictLocked picks a victim via clock sweep, writes it back (to its
// file, if a dirty File page, or to swap, if Anon) and removes it from
// the table. Caller must hold ft.mu.
func (ft *FrameTable_t) evictLocked() error {
	if len(ft.frames) == 0 {
		return fmt.Errorf("vm: frame table is empty, nothing to evict")
	}
	for i := 0; i < 2*len(ft.frames); i++ {
		idx := ft.hand % len(ft.frames)
		ft.hand = (ft.hand + 1) % len(ft.frames)
		p := ft.frames[idx]
		if p.Vme.Pinned {
			continue
		}
		if p.accessed {
			p.accessed = false
			continue
		}

		if err := ft.writeBackLocked(p); err != nil {
			return err
		}
		p.Vme.IsLoaded = false
		ft.frames = append(ft.frames[:idx], ft.frames[idx+1:]...)
		if ft.hand > idx {
			ft.hand--
		}
		ft.evictions++
		return nil
	}
	return fmt.Errorf("vm: every frame is pinned, cannot evict")
}

// / FindByVme returns the live Page materializing vme, or nil if vme is
// / not currently loaded into any frame (grounded on page.h's "struct
// / page" back-pointer to its vm_entry, walked in the opposite direction
// / here since Go gives us a plain slice to scan rather than an intrusive
// / list element living inside vm_entry itself).
func (ft *FrameTable_t) FindByVme(vme *VmEntry) *Page_t {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	for _, p := range ft.frames {
		if p.Vme == vme {
			return p
		}
	}
	return nil
}

// / Stats reports the frame table's current occupancy, capacity, and
// / cumulative eviction count, for diagnostics (cmd/kdiag) and the "frame
// / invariant" testable property (spec §8).
func (ft *FrameTable_t) Stats() (inUse, capacity int, evictions int64) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.frames), ft.capacity, ft.evictions
}

// writeBackLocked preserves p's content before its frame is reused,
// according to its VmEntry's type (spec §4.4, "frame eviction"):
//   - BIN: a clean page is simply dropped (it can be re-read from the
//     executable); a dirty one (a writable data-segment page that was
//     actually modified) is written back to the binary file, retyped to
//     ANON since the executable's own sectors cannot hold per-process
//     state, and then swapped out like any anonymous page.
//   - FILE: if dirty, written back to the mapped file; never swapped.
//   - ANON: always swapped out, dirty or not, since it has no other
//     backing store.
//
// Caller must hold ft.mu.
func (ft *FrameTable_t) writeBackLocked(p *Page_t) error {
	switch p.Vme.Type {
	case Bin:
		if !p.Dirty {
			return nil
		}
		if w, ok := p.Vme.File.(WritableBackingFile_i); ok {
			if _, err := w.WriteAt(p.Kaddr[:p.Vme.ReadBytes], p.Vme.Offset); err != nil {
				return err
			}
		}
		p.Vme.Type = Anon
		slot, err := ft.swap.SwapOut(p.Kaddr)
		if err != nil {
			return err
		}
		p.Vme.SwapSlot = slot

	case File:
		if p.Dirty {
			if w, ok := p.Vme.File.(WritableBackingFile_i); ok {
				if _, err := w.WriteAt(p.Kaddr[:p.Vme.ReadBytes], p.Vme.Offset); err != nil {
					return err
				}
			}
		}

	case Anon:
		slot, err := ft.swap.SwapOut(p.Kaddr)
		if err != nil {
			return err
		}
		p.Vme.SwapSlot = slot
	}
	return nil
}
