// Package inode is the extensible-file layer: an on-disk inode with a
// direct/indirect/double-indirect block map (spec §4.3), opened through
// a sector buffer cache (package cache) rather than raw disk I/O.
package inode

import (
	"sync"

	"cache"
)

// / InodeMem is an in-memory handle on an open inode (spec §4.3,
// / "InodeMem"; grounded on inode.c's struct inode).
type InodeMem struct {
	sector  uint32
	cache   *cache.Cache_t
	freemap *FreeMap_t

	mu           sync.Mutex
	openCount    int
	removed      bool
	denyWriteCnt int
	extendLock   sync.Mutex
}

// / Table_t deduplicates concurrent opens of the same sector, so two
// / callers opening the same file share one InodeMem and its open count
// / (spec §4.3, "open inode table"; grounded on inode.c's open_inodes
// / list).
type Table_t struct {
	mu    sync.Mutex
	cache *cache.Cache_t
	fm    *FreeMap_t
	open  map[uint32]*InodeMem
}

// / NewTable creates an inode table backed by c and allocating sectors
// / from fm.
func NewTable(c *cache.Cache_t, fm *FreeMap_t) *Table_t {
	return &Table_t{cache: c, fm: fm, open: make(map[uint32]*InodeMem)}
}

// / Create initializes a new, empty-or-sized inode at sector and writes
// / it to disk (spec §4.3, "inode_create"; grounded on inode.c's
// / inode_create).
func (t *Table_t) Create(sector uint32, length int64) error {
	d := NewInodeDisk(0)
	if length > 0 {
		if err := growFile(t.cache, t.fm, d, 0, length); err != nil {
			return err
		}
		d.Length = int32(length)
	}
	return writeInodeDisk(t.cache, sector, d)
}

// / Open returns the InodeMem for sector, opening it if not already open
// / (grounded on inode.c's inode_open/inode_reopen).
func (t *Table_t) Open(sector uint32) *InodeMem {
	t.mu.Lock()
	defer t.mu.Unlock()
	if im, ok := t.open[sector]; ok {
		im.mu.Lock()
		im.openCount++
		im.mu.Unlock()
		return im
	}
	im := &InodeMem{sector: sector, cache: t.cache, freemap: t.fm, openCount: 1}
	t.open[sector] = im
	return im
}

// / Close drops one reference to im; once the last opener closes a
// / removed inode, its sectors are returned to the free map (grounded on
// / inode.c's inode_close).
func (t *Table_t) Close(im *InodeMem) error {
	im.mu.Lock()
	im.openCount--
	last := im.openCount == 0
	removed := im.removed
	im.mu.Unlock()
	if !last {
		return nil
	}

	t.mu.Lock()
	delete(t.open, im.sector)
	t.mu.Unlock()

	if !removed {
		return nil
	}
	d, err := readInodeDisk(t.cache, im.sector)
	if err != nil {
		return err
	}
	freeInodeSectors(t.cache, t.fm, d)
	t.fm.Release(im.sector)
	return nil
}

// / Remove marks im for deletion once its last opener closes it (spec
// / §4.3, edge case "remove while open"; grounded on inode.c's
// / inode_remove).
func (im *InodeMem) Remove() {
	im.mu.Lock()
	im.removed = true
	im.mu.Unlock()
}

// / Sector returns the sector this inode is stored at.
func (im *InodeMem) Sector() uint32 {
	return im.sector
}

// / DenyWrite disables writes to im; may be called once per opener
// / (grounded on inode.c's inode_deny_write, used while an executable is
// / running).
func (im *InodeMem) DenyWrite() {
	im.mu.Lock()
	im.denyWriteCnt++
	im.mu.Unlock()
}

// / AllowWrite re-enables writes previously denied by DenyWrite.
func (im *InodeMem) AllowWrite() {
	im.mu.Lock()
	if im.denyWriteCnt > 0 {
		im.denyWriteCnt--
	}
	im.mu.Unlock()
}

// / Length returns the inode's current length in bytes.
func (im *InodeMem) Length() (int64, error) {
	d, err := readInodeDisk(im.cache, im.sector)
	if err != nil {
		return 0, err
	}
	return int64(d.Length), nil
}

// / ReadAt reads len(buf) bytes starting at offset, returning the number
// / of bytes actually read (fewer at end of file; spec §4.3,
// / "inode_read_at"; grounded on inode.c's inode_read_at).
func (im *InodeMem) ReadAt(buf []byte, offset int64) (int, error) {
	d, err := readInodeDisk(im.cache, im.sector)
	if err != nil {
		return 0, err
	}

	read := 0
	for len(buf) > 0 {
		sectorIdx, ok := byteToSector(im.cache, d, offset)
		if !ok {
			break
		}
		sectorOfs := int(offset % 512)
		inodeLeft := int64(d.Length) - offset
		sectorLeft := int64(512 - sectorOfs)
		chunk := sectorLeft
		if inodeLeft < chunk {
			chunk = inodeLeft
		}
		if int64(len(buf)) < chunk {
			chunk = int64(len(buf))
		}
		if chunk <= 0 {
			break
		}

		e, err := im.cache.Get(int(sectorIdx))
		if err != nil {
			return read, err
		}
		copy(buf[:chunk], e.Data()[sectorOfs:int64(sectorOfs)+chunk])
		im.cache.Release(e)

		buf = buf[chunk:]
		offset += chunk
		read += int(chunk)
	}
	return read, nil
}

// / WriteAt writes len(buf) bytes at offset, extending the file (and
// / zero-filling any gap before offset) if the write reaches past the
// / current length (spec §4.3, "inode_write_at" and edge case "sparse
// / write"; grounded on inode.c's inode_write_at).
func (im *InodeMem) WriteAt(buf []byte, offset int64) (int, error) {
	im.mu.Lock()
	denied := im.denyWriteCnt > 0
	im.mu.Unlock()
	if denied {
		return 0, nil
	}

	im.extendLock.Lock()
	d, err := readInodeDisk(im.cache, im.sector)
	if err != nil {
		im.extendLock.Unlock()
		return 0, err
	}
	oldLength := int64(d.Length)
	writeEnd := offset + int64(len(buf))

	if writeEnd > oldLength {
		if writeEnd > MaxFileLength {
			im.extendLock.Unlock()
			return 0, ErrOutOfRange
		}
		if err := growFile(im.cache, im.freemap, d, oldLength, writeEnd); err != nil {
			im.extendLock.Unlock()
			return 0, err
		}
		d.Length = int32(writeEnd)
		if err := writeInodeDisk(im.cache, im.sector, d); err != nil {
			im.extendLock.Unlock()
			return 0, err
		}
	}
	im.extendLock.Unlock()

	written := 0
	for len(buf) > 0 {
		sectorIdx, ok := byteToSector(im.cache, d, offset)
		if !ok {
			break
		}
		sectorOfs := int(offset % 512)
		inodeLeft := int64(d.Length) - offset
		sectorLeft := int64(512 - sectorOfs)
		chunk := sectorLeft
		if inodeLeft < chunk {
			chunk = inodeLeft
		}
		if int64(len(buf)) < chunk {
			chunk = int64(len(buf))
		}
		if chunk <= 0 {
			break
		}

		e, err := im.cache.Get(int(sectorIdx))
		if err != nil {
			return written, err
		}
		copy(e.Data()[sectorOfs:int64(sectorOfs)+chunk], buf[:chunk])
		e.MarkDirty()
		im.cache.Release(e)

		buf = buf[chunk:]
		offset += chunk
		written += int(chunk)
	}
	return written, nil
}

func readInodeDisk(c *cache.Cache_t, sector uint32) (*InodeDisk, error) {
	e, err := c.Get(int(sector))
	if err != nil {
		return nil, err
	}
	d := DecodeInodeDisk(e.Data()[:])
	c.Release(e)
	return d, nil
}

func writeInodeDisk(c *cache.Cache_t, sector uint32, d *InodeDisk) error {
	e, err := c.Get(int(sector))
	if err != nil {
		return err
	}
	buf := d.Encode()
	copy(e.Data()[:], buf[:])
	e.MarkDirty()
	c.Release(e)
	return nil
}

// freeInodeSectors releases every data and index-block sector d
// addresses, walking the double-indirect, then indirect, then direct
// tiers (grounded on inode.c's free_inode_sectors).
func freeInodeSectors(c *cache.Cache_t, fm *FreeMap_t, d *InodeDisk) {
	if d.DoubleIndirectBlock != NoSector {
		outer, err := readPtrBlock(c, d.DoubleIndirectBlock)
		if err == nil {
			for _, inner := range outer {
				if inner == NoSector {
					break
				}
				innerPtrs, err := readPtrBlock(c, inner)
				if err == nil {
					for _, s := range innerPtrs {
						if s == NoSector {
							break
						}
						fm.Release(s)
					}
				}
				fm.Release(inner)
			}
		}
		fm.Release(d.DoubleIndirectBlock)
	}

	if d.IndirectBlock != NoSector {
		ptrs, err := readPtrBlock(c, d.IndirectBlock)
		if err == nil {
			for _, s := range ptrs {
				if s == NoSector {
					break
				}
				fm.Release(s)
			}
		}
		fm.Release(d.IndirectBlock)
	}

	for _, s := range d.DirectMapTable {
		if s != NoSector {
			fm.Release(s)
		}
	}
}
