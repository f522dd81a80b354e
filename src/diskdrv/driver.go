// Package diskdrv is the block-device layer: a sector-addressed disk
// backed by a regular file, in the same spirit as ufs's ahci_disk_t
// simulated disk. Its clients are the buffer cache (package cache) and the
// swap device (package vm's Swap_t); nothing above them ever seeks or
// reads the file directly.
package diskdrv

import (
	"fmt"
	"os"
	"sync"
)

// / SectorSize is the fixed block size every Disk_i implementation reads
// / and writes in (spec §3, "sector").
const SectorSize = 512

// / Disk_i is a sector-addressed block device.
type Disk_i interface {
	ReadSector(sec int, buf []byte) error
	WriteSector(sec int, buf []byte) error
	Flush() error
	NumSectors() int
}

// / FileDisk simulates a disk backed by a regular file, seeking to
// / sec*SectorSize before every read or write (grounded on ufs's
// / ahci_disk_t.Start/Seek).
type FileDisk struct {
	mu      sync.Mutex
	f       *os.File
	sectors int
	trace   *Trace_t
}

// / NewFileDisk opens (creating if necessary) a file at path and sizes it
// / to hold the given number of sectors.
func NewFileDisk(path string, sectors int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	size := int64(sectors) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk{f: f, sectors: sectors}, nil
}

// / StartTrace begins recording every WriteSector call for later
// / inspection through Trace.
func (d *FileDisk) StartTrace() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace = newTrace()
}

// / Trace returns the write trace, or nil if StartTrace was never called.
func (d *FileDisk) Trace() *Trace_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trace
}

func (d *FileDisk) seek(sec int) error {
	_, err := d.f.Seek(int64(sec)*SectorSize, 0)
	return err
}

// / ReadSector reads sector sec into buf, which must be SectorSize bytes.
func (d *FileDisk) ReadSector(sec int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("diskdrv: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sec < 0 || sec >= d.sectors {
		return fmt.Errorf("diskdrv: sector %d out of range [0,%d)", sec, d.sectors)
	}
	if err := d.seek(sec); err != nil {
		return err
	}
	n, err := d.f.Read(buf)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("diskdrv: short read of sector %d: %d bytes", sec, n)
	}
	return nil
}

// / WriteSector writes buf, which must be SectorSize bytes, to sector sec.
func (d *FileDisk) WriteSector(sec int, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("diskdrv: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sec < 0 || sec >= d.sectors {
		return fmt.Errorf("diskdrv: sector %d out of range [0,%d)", sec, d.sectors)
	}
	if err := d.seek(sec); err != nil {
		return err
	}
	n, err := d.f.Write(buf)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return fmt.Errorf("diskdrv: short write of sector %d: %d bytes", sec, n)
	}
	if d.trace != nil {
		d.trace.record(sec, buf)
	}
	return nil
}

// / Flush forces any OS-buffered writes out to stable storage.
func (d *FileDisk) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trace != nil {
		d.trace.sync()
	}
	return d.f.Sync()
}

// / NumSectors reports the disk's fixed capacity.
func (d *FileDisk) NumSectors() int {
	return d.sectors
}

// / Close releases the underlying file.
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
