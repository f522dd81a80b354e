package vm

import (
	"fmt"
	"log"
	"sync"

	"sched"
)

// / AddrSpace_t is a thread's virtual-address table: every VmEntry it has
// / mapped, keyed by page-aligned address (spec §4.4; grounded on
// / page.c's per-thread hash table, simplified to a map since Go's map
// / already gives O(1) lookup without a hand-written hash function).
// / It implements sched.AddressSpace so a *sched.Thread_t can hold one
// / without package sched importing vm.
type AddrSpace_t struct {
	mu     sync.Mutex
	owner  *sched.Thread_t
	table  map[uintptr]*VmEntry
	mmaps  map[int]*MmapFile_t
	nextID int

	frames *FrameTable_t
}

// / MmapFile_t groups every VmEntry backing one memory-mapped file (spec
// / §4.4, "mmap"; grounded on page.h's struct mmap_file).
type MmapFile_t struct {
	ID      int
	File    BackingFile_i
	Entries []*VmEntry
}

// / NewAddrSpace creates an empty address space for owner, allocating
// / frames from frames.
func NewAddrSpace(owner *sched.Thread_t, frames *FrameTable_t) *AddrSpace_t {
	as := &AddrSpace_t{
		owner:  owner,
		table:  make(map[uintptr]*VmEntry),
		mmaps:  make(map[int]*MmapFile_t),
		frames: frames,
	}
	owner.VM = as
	return as
}

func pageRoundDown(vaddr uintptr) uintptr {
	return vaddr &^ (PageSize - 1)
}

// / InsertVme adds vme to the table, keyed by its page-aligned address
// / (grounded on page.c's insert_vme).
func (as *AddrSpace_t) InsertVme(vme *VmEntry) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	key := pageRoundDown(vme.Vaddr)
	if _, exists := as.table[key]; exists {
		return fmt.Errorf("vm: vaddr %#x already mapped", key)
	}
	as.table[key] = vme
	return nil
}

// / DeleteVme removes vme from the table (grounded on page.c's
// / delete_vme).
func (as *AddrSpace_t) DeleteVme(vme *VmEntry) {
	as.mu.Lock()
	defer as.mu.Unlock()
	delete(as.table, pageRoundDown(vme.Vaddr))
}

// / FindVme looks up the entry covering vaddr, or nil (grounded on
// / page.c's find_vme).
func (as *AddrSpace_t) FindVme(vaddr uintptr) *VmEntry {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.table[pageRoundDown(vaddr)]
}

// / HandleFault resolves a page fault at vaddr: loads the entry's
// / content from its binary image, mapped file, or swap slot into a
// / fresh frame (spec §4.4, "page fault handling"; grounded on page.c's
// / load_file plus as.go's Sys_pgfault dispatch shape, not its COW
// / semantics, which this layer does not implement).
func (as *AddrSpace_t) HandleFault(vaddr uintptr, swap *Swap_t) error {
	vme := as.FindVme(vaddr)
	if vme == nil {
		return fmt.Errorf("vm: page fault at %#x has no backing vm_entry", vaddr)
	}
	if vme.IsLoaded {
		return nil
	}

	page, err := as.frames.AllocPage(as.owner, vme)
	if err != nil {
		return err
	}

	switch vme.Type {
	case Bin, File:
		if vme.ReadBytes > 0 {
			n, err := vme.File.ReadAt(page.Kaddr[:vme.ReadBytes], vme.Offset)
			if err != nil {
				as.frames.Free(page)
				return err
			}
			if n != vme.ReadBytes {
				as.frames.Free(page)
				return fmt.Errorf("vm: short read loading vaddr %#x: got %d, want %d", vaddr, n, vme.ReadBytes)
			}
		}
		for i := vme.ReadBytes; i < PageSize; i++ {
			page.Kaddr[i] = 0
		}

	case Anon:
		if vme.SwapSlot != NoSwapSlot {
			if err := swap.SwapIn(vme.SwapSlot, page.Kaddr); err != nil {
				as.frames.Free(page)
				return err
			}
			vme.SwapSlot = NoSwapSlot
		} else {
			for i := range page.Kaddr {
				page.Kaddr[i] = 0
			}
		}
	}

	vme.IsLoaded = true
	return nil
}

// / Mmap maps f into the address space starting at vaddr, one VmEntry per
// / page, and returns an id usable with Munmap (spec §4.4, "mmap";
// / grounded on page.h's struct mmap_file).
func (as *AddrSpace_t) Mmap(vaddr uintptr, f BackingFile_i, size int) (int, error) {
	as.mu.Lock()
	id := as.nextID
	as.nextID++
	as.mu.Unlock()

	mf := &MmapFile_t{ID: id, File: f}
	for off := 0; off < size; off += PageSize {
		readBytes := size - off
		if readBytes > PageSize {
			readBytes = PageSize
		}
		vme := NewFileEntry(vaddr+uintptr(off), f, int64(off), readBytes)
		if err := as.InsertVme(vme); err != nil {
			for _, placed := range mf.Entries {
				as.DeleteVme(placed)
			}
			return 0, err
		}
		mf.Entries = append(mf.Entries, vme)
	}

	as.mu.Lock()
	as.mmaps[id] = mf
	as.mu.Unlock()
	return id, nil
}

// / Munmap writes back every dirty page of the mapping (spec §8, "mmap
// / flush") and removes its entries (grounded on page.c's do_munmap,
// / called via syscall.c's mmap teardown).
func (as *AddrSpace_t) Munmap(id int) error {
	as.mu.Lock()
	mf, ok := as.mmaps[id]
	delete(as.mmaps, id)
	as.mu.Unlock()
	if !ok {
		return fmt.Errorf("vm: no such mmap id %d", id)
	}

	err := as.flushMmap(mf)
	for _, vme := range mf.Entries {
		as.DeleteVme(vme)
	}
	return err
}

// flushMmap writes back every dirty, still-resident page of mf and frees
// its frames (spec §4.4, "munmap... flush dirty pages back to the file
// (using the hardware dirty bit)"; shared by Munmap and Teardown, since
// process exit without an explicit munmap has the identical obligation
// per spec §3, MmapFile "destroyed by munmap or process exit"). It
// keeps flushing every page even after a write-back fails, and returns
// the first error encountered, so one bad page can't hide the frames
// that still need to be freed behind it.
func (as *AddrSpace_t) flushMmap(mf *MmapFile_t) error {
	var firstErr error
	for _, vme := range mf.Entries {
		if !vme.IsLoaded {
			continue
		}
		if p := as.frames.FindByVme(vme); p != nil {
			if p.Dirty {
				if w, ok := vme.File.(WritableBackingFile_i); ok {
					if _, err := w.WriteAt(p.Kaddr[:vme.ReadBytes], vme.Offset); err != nil && firstErr == nil {
						firstErr = fmt.Errorf("vm: write back mmap page at offset %d: %w", vme.Offset, err)
					}
				}
			}
			as.frames.Free(p)
		}
		vme.IsLoaded = false
	}
	return firstErr
}

// / Teardown flushes every live mmap this address space still holds and
// / releases every frame it owns (spec §4.4, "process exit"; satisfies
// / sched.AddressSpace so thread exit can tear down VM state without
// / package sched importing vm). Process exit has no caller left to hand
// / an error to, so a failed write-back is logged rather than dropped
// / silently (ufs.go uses the same bare log.Printf for reporting errors
// / it has no caller to return to).
func (as *AddrSpace_t) Teardown() {
	as.mu.Lock()
	mmaps := as.mmaps
	table := as.table
	as.mmaps = make(map[int]*MmapFile_t)
	as.table = make(map[uintptr]*VmEntry)
	as.mu.Unlock()

	for _, mf := range mmaps {
		if err := as.flushMmap(mf); err != nil {
			log.Printf("vm: teardown: %v", err)
		}
	}
	for _, vme := range table {
		vme.Pinned = false
		if vme.IsLoaded {
			if p := as.frames.FindByVme(vme); p != nil {
				as.frames.Free(p)
			}
			vme.IsLoaded = false
		}
	}
}
