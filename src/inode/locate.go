package inode

import (
	"errors"

	"cache"
	"diskdrv"
)

// ErrOutOfRange is returned when a byte offset falls outside every block
// map tier (spec §4.3, edge case "offset beyond the double-indirect
// range").
var ErrOutOfRange = errors.New("inode: offset out of addressable range")

type directness int

const (
	direct directness = iota
	indirectTier
	doubleIndirectTier
	outOfRange
)

// sectorLocation describes where in the block map a byte offset's sector
// pointer lives (grounded on inode.c's struct sector_location).
type sectorLocation struct {
	directness directness
	index1     int
	index2     int
}

// locateByte classifies a byte offset into a tier and index pair
// (grounded on inode.c's locate_byte).
func locateByte(pos int64) sectorLocation {
	posSector := int(pos / diskdrv.SectorSize)

	switch {
	case posSector < DirectBlocks:
		return sectorLocation{directness: direct, index1: posSector}
	case posSector < DirectBlocks+IndirectBlocks:
		return sectorLocation{directness: indirectTier, index1: posSector - DirectBlocks}
	case posSector < DirectBlocks+IndirectBlocks*(IndirectBlocks+1):
		rel := posSector - DirectBlocks - IndirectBlocks
		return sectorLocation{directness: doubleIndirectTier, index1: rel / IndirectBlocks, index2: rel % IndirectBlocks}
	default:
		return sectorLocation{directness: outOfRange}
	}
}

func readPtrBlock(c *cache.Cache_t, sector uint32) ([PtrsPerSector]uint32, error) {
	e, err := c.Get(int(sector))
	if err != nil {
		return [PtrsPerSector]uint32{}, err
	}
	ptrs := decodeSectorPtrs(e.Data()[:])
	c.Release(e)
	return ptrs, nil
}

func writePtrBlock(c *cache.Cache_t, sector uint32, ptrs [PtrsPerSector]uint32) error {
	e, err := c.Get(int(sector))
	if err != nil {
		return err
	}
	buf := encodeSectorPtrs(ptrs)
	copy(e.Data()[:], buf[:])
	e.MarkDirty()
	c.Release(e)
	return nil
}

// byteToSector returns the data sector backing the byte at pos, or false
// if pos lies at or past d.Length, or at an unallocated hole (grounded on
// inode.c's byte_to_sector).
func byteToSector(c *cache.Cache_t, d *InodeDisk, pos int64) (uint32, bool) {
	if pos >= int64(d.Length) {
		return NoSector, false
	}
	loc := locateByte(pos)
	switch loc.directness {
	case direct:
		s := d.DirectMapTable[loc.index1]
		return s, s != NoSector
	case indirectTier:
		if d.IndirectBlock == NoSector {
			return NoSector, false
		}
		ptrs, err := readPtrBlock(c, d.IndirectBlock)
		if err != nil {
			return NoSector, false
		}
		s := ptrs[loc.index1]
		return s, s != NoSector
	case doubleIndirectTier:
		if d.DoubleIndirectBlock == NoSector {
			return NoSector, false
		}
		outer, err := readPtrBlock(c, d.DoubleIndirectBlock)
		if err != nil {
			return NoSector, false
		}
		inner := outer[loc.index1]
		if inner == NoSector {
			return NoSector, false
		}
		innerPtrs, err := readPtrBlock(c, inner)
		if err != nil {
			return NoSector, false
		}
		s := innerPtrs[loc.index2]
		return s, s != NoSector
	default:
		return NoSector, false
	}
}

// registerSector records that newSector now backs the block map slot at
// loc, allocating an indirect or double-indirect index block from fm the
// first time one is needed (grounded on inode.c's register_sector). It
// returns any index-block sectors it allocated during this call, so a
// caller growing a file across several sectors can roll every one of
// them back if a later sector in the same growth fails to allocate.
func registerSector(c *cache.Cache_t, fm *FreeMap_t, d *InodeDisk, newSector uint32, loc sectorLocation) ([]uint32, error) {
	var indexAllocs []uint32

	switch loc.directness {
	case direct:
		d.DirectMapTable[loc.index1] = newSector
		return nil, nil

	case indirectTier:
		if d.IndirectBlock == NoSector {
			idx, ok := fm.Allocate()
			if !ok {
				return indexAllocs, errNoFreeSectors
			}
			d.IndirectBlock = idx
			indexAllocs = append(indexAllocs, idx)
			if err := writePtrBlock(c, idx, newEmptyPtrBlock()); err != nil {
				d.IndirectBlock = NoSector
				return indexAllocs, err
			}
		}
		ptrs, err := readPtrBlock(c, d.IndirectBlock)
		if err != nil {
			return indexAllocs, err
		}
		ptrs[loc.index1] = newSector
		return indexAllocs, writePtrBlock(c, d.IndirectBlock, ptrs)

	case doubleIndirectTier:
		if d.DoubleIndirectBlock == NoSector {
			idx, ok := fm.Allocate()
			if !ok {
				return indexAllocs, errNoFreeSectors
			}
			d.DoubleIndirectBlock = idx
			indexAllocs = append(indexAllocs, idx)
			if err := writePtrBlock(c, idx, newEmptyPtrBlock()); err != nil {
				d.DoubleIndirectBlock = NoSector
				return indexAllocs, err
			}
		}
		outer, err := readPtrBlock(c, d.DoubleIndirectBlock)
		if err != nil {
			return indexAllocs, err
		}
		inner := outer[loc.index1]
		if inner == NoSector {
			idx, ok := fm.Allocate()
			if !ok {
				return indexAllocs, errNoFreeSectors
			}
			inner = idx
			indexAllocs = append(indexAllocs, idx)
			outer[loc.index1] = idx
			if err := writePtrBlock(c, inner, newEmptyPtrBlock()); err != nil {
				outer[loc.index1] = NoSector
				return indexAllocs, err
			}
			if err := writePtrBlock(c, d.DoubleIndirectBlock, outer); err != nil {
				return indexAllocs, err
			}
		}
		innerPtrs, err := readPtrBlock(c, inner)
		if err != nil {
			return indexAllocs, err
		}
		innerPtrs[loc.index2] = newSector
		return indexAllocs, writePtrBlock(c, inner, innerPtrs)

	default:
		return indexAllocs, ErrOutOfRange
	}
}

var errNoFreeSectors = errors.New("inode: no free sectors remain")
