package vm

import (
	"bytes"
	"testing"

	"diskdrv"
	"sched"
)

// fakeDisk is an in-memory diskdrv.Disk_i, sized lazily so tests don't
// have to allocate the full swap bitmap's worth of sectors up front.
type fakeDisk struct {
	sectors map[int][]byte
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{sectors: make(map[int][]byte)}
}

func (d *fakeDisk) ReadSector(sector int, buf []byte) error {
	data, ok := d.sectors[sector]
	if !ok {
		data = make([]byte, diskdrv.SectorSize)
	}
	copy(buf, data)
	return nil
}

func (d *fakeDisk) WriteSector(sector int, buf []byte) error {
	data := make([]byte, diskdrv.SectorSize)
	copy(data, buf)
	d.sectors[sector] = data
	return nil
}

func (d *fakeDisk) Flush() error { return nil }

func (d *fakeDisk) NumSectors() int { return NumSwapSlots * sectorsPerSlot }

// fakeFile is a BackingFile_i and WritableBackingFile_i backed by an
// in-memory byte slice.
type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(buf []byte, offset int64) (int, error) {
	n := copy(buf, f.data[offset:])
	return n, nil
}

func (f *fakeFile) WriteAt(buf []byte, offset int64) (int, error) {
	n := copy(f.data[offset:], buf)
	return n, nil
}

func newTestThread() *sched.Thread_t {
	_, main := sched.NewSched("main", false)
	return main
}

func TestHandleFaultLoadsBinContent(t *testing.T) {
	content := make([]byte, PageSize)
	copy(content, []byte("HelloWorld"))
	f := &fakeFile{data: content}

	frames := NewFrameTable(2, nil)
	as := NewAddrSpace(newTestThread(), frames)

	vme := NewBinEntry(0x1000, f, 0, 10, PageSize-10, false)
	if err := as.InsertVme(vme); err != nil {
		t.Fatalf("InsertVme: %v", err)
	}

	if err := as.HandleFault(0x1000, nil); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if !vme.IsLoaded {
		t.Fatalf("expected vme to be loaded")
	}

	var page *Page_t
	for _, p := range frames.frames {
		if p.Vme == vme {
			page = p
		}
	}
	if page == nil {
		t.Fatalf("no frame allocated for vme")
	}
	if !bytes.Equal(page.Kaddr[:10], []byte("HelloWorld")) {
		t.Fatalf("page content mismatch: %q", page.Kaddr[:10])
	}
	for _, b := range page.Kaddr[10:] {
		if b != 0 {
			t.Fatalf("expected zero padding past read_bytes")
		}
	}
}

func TestHandleFaultAnonZeroFill(t *testing.T) {
	swap := NewSwap(newFakeDisk())
	frames := NewFrameTable(2, swap)
	as := NewAddrSpace(newTestThread(), frames)

	vme := NewAnonEntry(0x2000)
	if err := as.InsertVme(vme); err != nil {
		t.Fatalf("InsertVme: %v", err)
	}
	if err := as.HandleFault(0x2000, swap); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}

	var page *Page_t
	for _, p := range frames.frames {
		if p.Vme == vme {
			page = p
		}
	}
	if page == nil {
		t.Fatalf("no frame allocated for vme")
	}
	for _, b := range page.Kaddr {
		if b != 0 {
			t.Fatalf("expected anonymous page to be zero-filled")
		}
	}
}

func TestHandleFaultIsIdempotent(t *testing.T) {
	swap := NewSwap(newFakeDisk())
	frames := NewFrameTable(2, swap)
	as := NewAddrSpace(newTestThread(), frames)

	vme := NewAnonEntry(0x3000)
	as.InsertVme(vme)
	if err := as.HandleFault(0x3000, swap); err != nil {
		t.Fatalf("first HandleFault: %v", err)
	}
	before := len(frames.frames)
	if err := as.HandleFault(0x3000, swap); err != nil {
		t.Fatalf("second HandleFault: %v", err)
	}
	if len(frames.frames) != before {
		t.Fatalf("second fault on an already-loaded page should not allocate another frame")
	}
}

// TestEvictionSwapsOutAndBackIn forces a one-frame table to evict an
// anonymous page to swap, then fault it back in, and checks the
// written content survives the round trip.
func TestEvictionSwapsOutAndBackIn(t *testing.T) {
	swap := NewSwap(newFakeDisk())
	frames := NewFrameTable(1, swap)
	as := NewAddrSpace(newTestThread(), frames)

	vme1 := NewAnonEntry(0x1000)
	vme2 := NewAnonEntry(0x2000)
	as.InsertVme(vme1)
	as.InsertVme(vme2)

	if err := as.HandleFault(0x1000, swap); err != nil {
		t.Fatalf("fault vme1: %v", err)
	}
	var page1 *Page_t
	for _, p := range frames.frames {
		if p.Vme == vme1 {
			page1 = p
		}
	}
	if page1 == nil {
		t.Fatalf("no frame for vme1")
	}
	page1.Kaddr[0] = 0xAB

	// Allocating vme2's frame must evict vme1: capacity is 1.
	if err := as.HandleFault(0x2000, swap); err != nil {
		t.Fatalf("fault vme2: %v", err)
	}
	if vme1.IsLoaded {
		t.Fatalf("expected vme1 to have been evicted")
	}
	if vme1.SwapSlot == NoSwapSlot {
		t.Fatalf("expected vme1 to have been swapped out")
	}

	// Faulting vme1 back in evicts vme2 in turn and must restore the
	// byte written before eviction.
	if err := as.HandleFault(0x1000, swap); err != nil {
		t.Fatalf("re-fault vme1: %v", err)
	}
	if vme1.SwapSlot != NoSwapSlot {
		t.Fatalf("expected swap slot to be freed after swap-in")
	}
	var restored *Page_t
	for _, p := range frames.frames {
		if p.Vme == vme1 {
			restored = p
		}
	}
	if restored == nil {
		t.Fatalf("no frame for vme1 after re-fault")
	}
	if restored.Kaddr[0] != 0xAB {
		t.Fatalf("swap round trip lost data: got %#x, want 0xab", restored.Kaddr[0])
	}
}

func TestMmapMunmap(t *testing.T) {
	content := make([]byte, PageSize*2+100)
	for i := range content {
		content[i] = byte(i)
	}
	f := &fakeFile{data: content}

	frames := NewFrameTable(4, nil)
	as := NewAddrSpace(newTestThread(), frames)

	id, err := as.Mmap(0x4000, f, len(content))
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	if vme := as.FindVme(0x4000); vme == nil {
		t.Fatalf("expected a vm_entry at the mapping's first page")
	}
	if vme := as.FindVme(0x4000 + PageSize); vme == nil {
		t.Fatalf("expected a vm_entry at the mapping's second page")
	}
	if vme := as.FindVme(0x4000 + 2*PageSize); vme == nil {
		t.Fatalf("expected a vm_entry for the mapping's partial last page")
	}

	if err := as.Munmap(id); err != nil {
		t.Fatalf("Munmap: %v", err)
	}
	if vme := as.FindVme(0x4000); vme != nil {
		t.Fatalf("expected mapping to be gone after Munmap")
	}
}

func TestTeardownClearsTable(t *testing.T) {
	frames := NewFrameTable(2, nil)
	as := NewAddrSpace(newTestThread(), frames)
	vme := NewAnonEntry(0x5000)
	as.InsertVme(vme)

	as.Teardown()

	if got := as.FindVme(0x5000); got != nil {
		t.Fatalf("expected address table to be empty after Teardown")
	}
}

// TestTeardownFreesFrames checks the frame invariant (spec §8): once
// every address space referencing a page has torn down, that page's
// frame must be gone from the frame table, not merely unreachable from
// the address space.
func TestTeardownFreesFrames(t *testing.T) {
	swap := NewSwap(newFakeDisk())
	frames := NewFrameTable(4, swap)
	as := NewAddrSpace(newTestThread(), frames)

	vme := NewAnonEntry(0x6000)
	as.InsertVme(vme)
	if err := as.HandleFault(0x6000, swap); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if inUse, _, _ := frames.Stats(); inUse != 1 {
		t.Fatalf("frames in use before teardown = %d, want 1", inUse)
	}

	as.Teardown()

	if inUse, _, _ := frames.Stats(); inUse != 0 {
		t.Fatalf("frames in use after teardown = %d, want 0", inUse)
	}
}

// TestEvictionWritesBackDirtyBinPage exercises the BIN branch of frame
// eviction (spec §4.4): a dirty BIN page must be flushed to its backing
// file, retyped to ANON, and swapped out — never silently discarded.
func TestEvictionWritesBackDirtyBinPage(t *testing.T) {
	content := make([]byte, PageSize)
	copy(content, []byte("original"))
	f := &fakeFile{data: content}

	swap := NewSwap(newFakeDisk())
	frames := NewFrameTable(1, swap)
	as := NewAddrSpace(newTestThread(), frames)

	vme := NewBinEntry(0x1000, f, 0, len("modified!"), PageSize-len("modified!"), true)
	as.InsertVme(vme)
	if err := as.HandleFault(0x1000, swap); err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	page := frames.FindByVme(vme)
	if page == nil {
		t.Fatalf("no frame for vme")
	}
	copy(page.Kaddr, []byte("modified!"))
	page.MarkDirty()

	// Force eviction: a second fault with capacity 1.
	other := NewAnonEntry(0x2000)
	as.InsertVme(other)
	if err := as.HandleFault(0x2000, swap); err != nil {
		t.Fatalf("HandleFault(other): %v", err)
	}

	if vme.Type != Anon {
		t.Fatalf("dirty BIN page should retype to ANON on eviction, got %v", vme.Type)
	}
	if vme.SwapSlot == NoSwapSlot {
		t.Fatalf("dirty BIN page should be swapped out on eviction")
	}
	if string(content[:len("modified!")]) != "modified!" {
		t.Fatalf("dirty BIN page content not written back to file: got %q", content[:len("modified!")])
	}
}

// TestMmapWriteBackOnMunmap is seed scenario 6 (spec §8): writing a
// pattern into a mapped file and unmapping it must leave the written
// bytes on "disk" (the backing fakeFile), and the VmEntries gone.
func TestMmapWriteBackOnMunmap(t *testing.T) {
	const size = 6000
	content := make([]byte, size)
	f := &fakeFile{data: content}

	swap := NewSwap(newFakeDisk())
	frames := NewFrameTable(16, swap)
	as := NewAddrSpace(newTestThread(), frames)

	id, err := as.Mmap(0x4000, f, size)
	if err != nil {
		t.Fatalf("Mmap: %v", err)
	}

	pattern := bytes.Repeat([]byte{'X'}, size)
	written := 0
	for vaddr := uintptr(0x4000); written < size; vaddr += PageSize {
		if err := as.HandleFault(vaddr, swap); err != nil {
			t.Fatalf("HandleFault(%#x): %v", vaddr, err)
		}
		vme := as.FindVme(vaddr)
		page := frames.FindByVme(vme)
		if page == nil {
			t.Fatalf("no frame for vme at %#x", vaddr)
		}
		n := copy(page.Kaddr, pattern[written:])
		page.MarkDirty()
		written += n
	}

	if err := as.Munmap(id); err != nil {
		t.Fatalf("Munmap: %v", err)
	}

	if !bytes.Equal(content, pattern) {
		t.Fatalf("backing file content after munmap mismatch")
	}
	if vme := as.FindVme(0x4000); vme != nil {
		t.Fatalf("expected mapping to be gone after Munmap")
	}
	if inUse, _, _ := frames.Stats(); inUse != 0 {
		t.Fatalf("frames in use after munmap = %d, want 0", inUse)
	}
}
