// Package cache is the sector buffer cache: a fixed 64-entry pool in
// front of a diskdrv.Disk_i, replaced by a clock (second-chance)
// algorithm when full. The inode package is its only client; nothing
// above inode ever issues a raw ReadSector/WriteSector itself.
package cache

import (
	"sync"
	"sync/atomic"

	"diskdrv"
)

// / NumEntries is the fixed size of the buffer cache (spec §4.2, "buffer
// / cache").
const NumEntries = 64

// / Entry_t is one cached sector. Pin keeps an entry out of the clock
// / sweep while its contents are in use (mirrors Bdev_block_t's
// / ref-counted hold in blk.go, simplified to a pin count since there is
// / no separate release-callback object here).
type Entry_t struct {
	mu sync.Mutex

	valid  bool
	dirty  bool
	sector int
	data   [diskdrv.SectorSize]byte

	accessed bool
	pin      int
}

// / Data returns the entry's backing buffer. Callers must hold the entry
// / pinned (via Cache_t.Get) for the duration of any access.
func (e *Entry_t) Data() *[diskdrv.SectorSize]byte {
	return &e.data
}

// / MarkDirty flags the entry as needing write-back before eviction.
func (e *Entry_t) MarkDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

// / Cache_t is the sector buffer cache proper (spec §4.2).
type Cache_t struct {
	mu        sync.Mutex
	disk      diskdrv.Disk_i
	entries   [NumEntries]*Entry_t
	clockHand int

	// hits and misses are diagnostics counters (cmd/kdiag), not part of
	// cache correctness; read with Stats.
	hits   int64
	misses int64
}

// / NewCache creates an empty cache in front of disk.
func NewCache(disk diskdrv.Disk_i) *Cache_t {
	c := &Cache_t{disk: disk}
	for i := range c.entries {
		c.entries[i] = &Entry_t{}
	}
	return c
}

// / Get returns the cache entry for sector, pinned so it will not be
// / evicted, loading it from disk on a miss (spec §4.2, "buffer cache
// / lookup"). Callers must call Release when done.
func (c *Cache_t) Get(sector int) (*Entry_t, error) {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.valid && e.sector == sector {
			e.mu.Lock()
			e.pin++
			e.accessed = true
			e.mu.Unlock()
			c.mu.Unlock()
			atomic.AddInt64(&c.hits, 1)
			return e, nil
		}
	}
	atomic.AddInt64(&c.misses, 1)

	e, err := c.selectVictim()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	e.mu.Lock()
	if err := c.disk.ReadSector(sector, e.data[:]); err != nil {
		e.mu.Unlock()
		c.mu.Unlock()
		return nil, err
	}
	e.valid = true
	e.dirty = false
	e.sector = sector
	e.pin++
	e.accessed = true
	e.mu.Unlock()
	c.mu.Unlock()
	return e, nil
}

// / Release unpins e, making it eligible for eviction again.
func (c *Cache_t) Release(e *Entry_t) {
	e.mu.Lock()
	if e.pin > 0 {
		e.pin--
	}
	e.mu.Unlock()
}

// selectVictim runs the clock algorithm over the fixed entry array,
// flushing and reusing the first unpinned entry whose accessed bit is
// already clear, clearing accessed bits as it passes over them
// otherwise (spec §4.2, "clock eviction"; grounded on buffer_cache.c's
// bc_select_victim). Caller must hold c.mu.
func (c *Cache_t) selectVictim() (*Entry_t, error) {
	for i := 0; i < 2*NumEntries; i++ {
		e := c.entries[c.clockHand]
		c.clockHand = (c.clockHand + 1) % NumEntries

		e.mu.Lock()
		if !e.valid {
			e.mu.Unlock()
			return e, nil
		}
		if e.pin > 0 {
			e.mu.Unlock()
			continue
		}
		if e.accessed {
			e.accessed = false
			e.mu.Unlock()
			continue
		}
		if e.dirty {
			if err := c.disk.WriteSector(e.sector, e.data[:]); err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.dirty = false
		}
		e.valid = false
		e.mu.Unlock()
		return e, nil
	}
	return nil, errAllPinned
}

// / FlushEntry writes e back to disk if dirty, without evicting it.
func (c *Cache_t) FlushEntry(e *Entry_t) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.valid || !e.dirty {
		return nil
	}
	if err := c.disk.WriteSector(e.sector, e.data[:]); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// / Stats reports cumulative hit/miss counts, for diagnostics (cmd/kdiag).
func (c *Cache_t) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// / FlushAll writes back every dirty entry (spec §4.2, "cache flush on
// / shutdown").
func (c *Cache_t) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if err := c.FlushEntry(e); err != nil {
			return err
		}
	}
	return c.disk.Flush()
}
