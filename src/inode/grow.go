package inode

import "cache"

// growFile extends d's block map to cover every byte in [startPos,
// endPos), zero-filling each newly allocated data sector (grounded on
// inode.c's inode_update_file_length).
//
// Unlike the original, a mid-loop allocation failure here does not leave
// the already-allocated sectors for this call dangling: every data
// sector and index block this call itself allocated is released before
// the error is returned, so a failed write never silently grows the
// file's actual footprint beyond what inode_write_at reports succeeding.
func growFile(c *cache.Cache_t, fm *FreeMap_t, d *InodeDisk, startPos, endPos int64) error {
	var allocated []uint32
	rollback := func() {
		for _, s := range allocated {
			fm.Release(s)
		}
	}

	var zero [512]byte
	offset := startPos
	for offset < endPos {
		sectorOfs := offset % 512
		if sectorOfs != 0 {
			offset += 512 - sectorOfs
			continue
		}

		loc := locateByte(offset)
		sectorIdx, ok := fm.Allocate()
		if !ok {
			rollback()
			return errNoFreeSectors
		}
		allocated = append(allocated, sectorIdx)

		indexAllocs, err := registerSector(c, fm, d, sectorIdx, loc)
		allocated = append(allocated, indexAllocs...)
		if err != nil {
			rollback()
			return err
		}
		if err := writeZeroSector(c, sectorIdx, zero); err != nil {
			rollback()
			return err
		}
		offset += 512
	}
	return nil
}

func writeZeroSector(c *cache.Cache_t, sector uint32, zero [512]byte) error {
	e, err := c.Get(int(sector))
	if err != nil {
		return err
	}
	copy(e.Data()[:], zero[:])
	e.MarkDirty()
	c.Release(e)
	return nil
}
