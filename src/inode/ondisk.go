package inode

import (
	"encoding/binary"

	"diskdrv"
)

// / Magic identifies a valid on-disk inode (spec §4.3, "inode layout";
// / grounded on inode.c's INODE_MAGIC).
const Magic uint32 = 0x494E4F44

// / NoSector is the sentinel value for "this block pointer is unset"
// / (grounded on inode.c's use of -1, reinterpreted as the all-ones
// / uint32 it is bit-for-bit on disk).
const NoSector uint32 = 0xFFFFFFFF

// Layout constants (spec §4.3, "inode layout"; grounded on inode.c's
// DIRECT_BLOCKS/INDIRECT_BLOCKS). Chosen so InodeDisk.Encode is exactly
// one sector: 4 (length) + 4 (magic) + 124*4 (direct) + 4 (indirect) +
// 4 (double indirect) = 512.
const (
	DirectBlocks   = 124
	PtrsPerSector  = diskdrv.SectorSize / 4
	IndirectBlocks = PtrsPerSector

	// MaxFileLength is the largest file this layout can address:
	// (direct + indirect + indirect*indirect) sectors, each SectorSize
	// bytes.
	MaxFileLength = (DirectBlocks + PtrsPerSector + PtrsPerSector*PtrsPerSector) * diskdrv.SectorSize
)

// / InodeDisk is the exactly-one-sector on-disk inode layout (spec §4.3).
type InodeDisk struct {
	Length              int32
	Magic               uint32
	DirectMapTable      [DirectBlocks]uint32
	IndirectBlock       uint32
	DoubleIndirectBlock uint32
}

// / NewInodeDisk returns an InodeDisk with the given length and every
// / block pointer set to NoSector.
func NewInodeDisk(length int32) *InodeDisk {
	d := &InodeDisk{Length: length, Magic: Magic}
	for i := range d.DirectMapTable {
		d.DirectMapTable[i] = NoSector
	}
	d.IndirectBlock = NoSector
	d.DoubleIndirectBlock = NoSector
	return d
}

// / Encode serializes d into exactly one sector.
func (d *InodeDisk) Encode() [diskdrv.SectorSize]byte {
	var buf [diskdrv.SectorSize]byte
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.Length))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.Magic)
	off += 4
	for _, s := range d.DirectMapTable {
		binary.LittleEndian.PutUint32(buf[off:], s)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], d.IndirectBlock)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.DoubleIndirectBlock)
	return buf
}

// / DecodeInodeDisk parses one sector's worth of bytes into an InodeDisk.
func DecodeInodeDisk(buf []byte) *InodeDisk {
	d := &InodeDisk{}
	off := 0
	d.Length = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.Magic = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	for i := range d.DirectMapTable {
		d.DirectMapTable[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	d.IndirectBlock = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.DoubleIndirectBlock = binary.LittleEndian.Uint32(buf[off:])
	return d
}

// decodeSectorPtrs reinterprets a raw sector as an array of block
// pointers, for the indirect and double-indirect index blocks.
func decodeSectorPtrs(buf []byte) [PtrsPerSector]uint32 {
	var ptrs [PtrsPerSector]uint32
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return ptrs
}

func encodeSectorPtrs(ptrs [PtrsPerSector]uint32) [diskdrv.SectorSize]byte {
	var buf [diskdrv.SectorSize]byte
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], p)
	}
	return buf
}

func newEmptyPtrBlock() [PtrsPerSector]uint32 {
	var ptrs [PtrsPerSector]uint32
	for i := range ptrs {
		ptrs[i] = NoSector
	}
	return ptrs
}
