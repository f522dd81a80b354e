package inode

import (
	"bytes"
	"path/filepath"
	"testing"

	"cache"
	"diskdrv"
)

func newTestTable(t *testing.T, numSectors int) *Table_t {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	disk, err := diskdrv.NewFileDisk(path, numSectors)
	if err != nil {
		t.Fatalf("NewFileDisk: %v", err)
	}
	t.Cleanup(func() { disk.Close() })
	c := cache.NewCache(disk)
	fm := NewFreeMap(numSectors, 1) // sector 0 reserved for the inode itself
	return NewTable(c, fm)
}

func TestCreateReadWriteRoundTrip(t *testing.T) {
	tbl := newTestTable(t, 32)
	if err := tbl.Create(0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	im := tbl.Open(0)

	data := []byte("hello, extensible file")
	n, err := im.WriteAt(data, 0)
	if err != nil || n != len(data) {
		t.Fatalf("WriteAt = %d, %v", n, err)
	}

	got := make([]byte, len(data))
	n, err = im.ReadAt(got, 0)
	if err != nil || n != len(data) {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %q, want %q", got, data)
	}

	length, err := im.Length()
	if err != nil || length != int64(len(data)) {
		t.Fatalf("Length = %d, %v, want %d", length, err, len(data))
	}

	if err := tbl.Close(im); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// A write offset beyond DirectBlocks sectors forces the block map into
// the indirect tier, then back out again when read.
func TestWriteThroughIndirectTier(t *testing.T) {
	tbl := newTestTable(t, DirectBlocks+IndirectBlocks+16)
	if err := tbl.Create(0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	im := tbl.Open(0)
	defer tbl.Close(im)

	offset := int64(DirectBlocks+2) * diskdrv.SectorSize
	payload := bytes.Repeat([]byte{0x42}, 100)

	if _, err := im.WriteAt(payload, offset); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := im.ReadAt(got, offset); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("indirect-tier read mismatch")
	}

	// The hole before offset must read back as zero.
	hole := make([]byte, diskdrv.SectorSize)
	if _, err := im.ReadAt(hole, int64(DirectBlocks)*diskdrv.SectorSize); err != nil {
		t.Fatalf("ReadAt hole: %v", err)
	}
	for i, b := range hole {
		if b != 0 {
			t.Fatalf("hole byte %d = %#x, want 0", i, b)
		}
	}
}

// Removing an inode while it is still open must defer freeing its
// sectors until the last Close (spec §4.3, edge case "remove while
// open").
func TestRemoveDefersUntilLastClose(t *testing.T) {
	tbl := newTestTable(t, 32)
	if err := tbl.Create(0, 512); err != nil {
		t.Fatalf("Create: %v", err)
	}
	a := tbl.Open(0)
	b := tbl.Open(0)
	if a != b {
		t.Fatalf("Open on an already-open sector should return the same InodeMem")
	}

	a.Remove()
	if err := tbl.Close(a); err != nil {
		t.Fatalf("Close(a): %v", err)
	}
	// b still holds it open; sector 1 (the file's first data block)
	// should not yet be reusable.
	if !tbl.fm.used[1] {
		t.Fatalf("data sector was freed while an opener remains")
	}

	if err := tbl.Close(b); err != nil {
		t.Fatalf("Close(b): %v", err)
	}
	if tbl.fm.used[1] {
		t.Fatalf("data sector was not freed after the last close")
	}
}

// TestWriteThroughDoubleIndirectTier is seed scenario 4 (spec §8): a
// write far enough into the file to require the double-indirect block
// map tier must succeed, report the right length, and round-trip.
func TestWriteThroughDoubleIndirectTier(t *testing.T) {
	tbl := newTestTable(t, 2000)
	if err := tbl.Create(0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	im := tbl.Open(0)
	defer tbl.Close(im)

	offset := int64(10 * 512 * 125) // well past direct+indirect (124+128 sectors)
	payload := bytes.Repeat([]byte{0x5A}, 4096)

	n, err := im.WriteAt(payload, offset)
	if err != nil || n != len(payload) {
		t.Fatalf("WriteAt = %d, %v", n, err)
	}

	wantLength := offset + int64(len(payload))
	length, err := im.Length()
	if err != nil || length != wantLength {
		t.Fatalf("Length = %d, %v, want %d", length, err, wantLength)
	}

	got := make([]byte, len(payload))
	if _, err := im.ReadAt(got, offset); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("double-indirect-tier read mismatch")
	}
}
