// Package cache implements the buffer cache (component B): a fixed set of
// in-memory sector slots with clock-based eviction, write-back, and
// per-slot exclusion. It is the sole legitimate caller of the block device
// adapter; every other component reaches sectors through here.
package cache

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"

	"pintosfs/internal/device"
)

// DefaultSlots is the default buffer cache size (spec §6: cache_slots).
const DefaultSlots = 64

const noSector = ^uint32(0)

type slot struct {
	sector  uint32 // noSector when empty
	pinned  bool
	ref     bool
	dirty   bool
	buf     [device.SectorSize]byte
	waiters *sync.Cond // signaled when this slot becomes unpinned
}

// Stats is a point-in-time snapshot of cache counters. These are test
// hooks, not correctness-critical (spec §4.2).
type Stats struct {
	Hits         uint64
	Misses       uint64
	DeviceReads  uint64
	DeviceWrites uint64
}

// Cache is the fixed-size buffer cache described in spec §3/§4.2.
type Cache struct {
	dev device.Device

	mu          syncutil.InvariantMutex
	slots       []*slot
	bySector    map[uint32]int
	clockHand   int
	pinnedCount int
	anyUnpinned *sync.Cond

	stats Stats
}

// New creates a Cache with the given number of slots over dev. Allocation
// of the cache region happens once here; there is no runtime allocation on
// the hot path afterwards.
func New(dev device.Device, slots int) *Cache {
	if slots <= 0 {
		slots = DefaultSlots
	}
	c := &Cache{
		dev:      dev,
		slots:    make([]*slot, slots),
		bySector: make(map[uint32]int, slots),
	}
	for i := range c.slots {
		c.slots[i] = &slot{sector: noSector}
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	c.anyUnpinned = sync.NewCond(&c.mu)
	for _, s := range c.slots {
		s.waiters = sync.NewCond(&c.mu)
	}
	return c
}

func (c *Cache) checkInvariants() {
	seen := make(map[uint32]int, len(c.slots))
	pinned := 0
	for i, s := range c.slots {
		if s.sector == noSector {
			continue
		}
		if prev, ok := seen[s.sector]; ok {
			panic(fmt.Sprintf("cache: sector %d resident in both slot %d and slot %d", s.sector, prev, i))
		}
		seen[s.sector] = i
		if s.pinned {
			pinned++
		}
		idx, ok := c.bySector[s.sector]
		if !ok || idx != i {
			panic(fmt.Sprintf("cache: reverse map mismatch for sector %d (slot says %d, map says %d, ok=%v)", s.sector, i, idx, ok))
		}
	}
	if pinned != c.pinnedCount {
		panic(fmt.Sprintf("cache: pinnedCount %d does not match actual pinned slot count %d", c.pinnedCount, pinned))
	}
	if len(c.bySector) != len(seen) {
		panic(fmt.Sprintf("cache: bySector has %d entries, %d slots are resident", len(c.bySector), len(seen)))
	}
}

// Handle is a pinned reference to a cache slot returned by Get. Callers
// must pass it to Release exactly once.
type Handle struct {
	c     *Cache
	index int
}

// Bytes returns the slot's buffer. Valid only while the handle is held
// (i.e. before Release is called).
func (h *Handle) Bytes() []byte {
	return h.c.slots[h.index].buf[:]
}

// Get ensures sector is resident, pins the returned slot, and returns a
// handle to its buffer (spec §4.2).
func (c *Cache) Get(sector uint32) *Handle {
	c.mu.Lock()

	// Waiting drops the lock, so residency is looked up again after every
	// wake-up: the awaited slot may have been given to another sector, or
	// another caller may have loaded sector in the meantime.
	for {
		if idx, ok := c.bySector[sector]; ok {
			s := c.slots[idx]
			if s.pinned {
				s.waiters.Wait()
				continue
			}
			s.pinned = true
			c.pinnedCount++
			c.stats.Hits++
			c.mu.Unlock()
			return &Handle{c: c, index: idx}
		}
		// Wait until some slot is not pinned; a get for a non-resident
		// sector must never evict a pinned slot.
		if c.pinnedCount == len(c.slots) {
			c.anyUnpinned.Wait()
			continue
		}
		break
	}

	c.stats.Misses++

	// Clock algorithm: advance past pinned slots, clearing and skipping
	// referenced ones, until an evictable slot is found.
	victim := -1
	for {
		s := c.slots[c.clockHand]
		if s.pinned {
			c.clockHand = (c.clockHand + 1) % len(c.slots)
			continue
		}
		if s.ref {
			s.ref = false
			c.clockHand = (c.clockHand + 1) % len(c.slots)
			continue
		}
		victim = c.clockHand
		c.clockHand = (c.clockHand + 1) % len(c.slots)
		break
	}

	vs := c.slots[victim]
	oldSector := vs.sector
	needWriteBack := oldSector != noSector && vs.dirty
	if oldSector != noSector {
		delete(c.bySector, oldSector)
	}

	// Reserve the slot for the new sector and pin it immediately, before
	// releasing the lock, so no other caller can select it as a victim or
	// race ahead of the load below; a concurrent Get(sector) will hit the
	// entry we install now and wait on its queue like any pinned slot.
	vs.sector = sector
	vs.pinned = true
	vs.dirty = false
	vs.ref = false
	c.bySector[sector] = victim
	c.pinnedCount++

	c.mu.Unlock()

	// Device I/O happens without holding the metadata lock.
	if needWriteBack {
		c.dev.WriteSector(oldSector, vs.buf[:])
		c.mu.Lock()
		c.stats.DeviceWrites++
		c.mu.Unlock()
	}
	c.dev.ReadSector(sector, vs.buf[:])
	c.mu.Lock()
	c.stats.DeviceReads++
	c.mu.Unlock()

	return &Handle{c: c, index: victim}
}

// Release unpins the slot held by h. If dirty is true the slot is marked
// dirty. Exactly one waiter on the slot's queue and one on the global
// "any unpinned" queue are signaled (spec §4.2).
func (c *Cache) Release(h *Handle, dirty bool) {
	c.mu.Lock()
	s := c.slots[h.index]
	if !s.pinned {
		panic("cache: Release of an already-unpinned slot")
	}
	if dirty {
		s.dirty = true
	}
	s.ref = true
	s.pinned = false
	c.pinnedCount--
	s.waiters.Signal()
	c.anyUnpinned.Signal()
	c.mu.Unlock()
}

// Flush writes every dirty-and-unpinned slot back to the device and clears
// its dirty bit. Each slot observed is either not written (pinned, skipped)
// or written and no longer dirty by the time Flush returns.
func (c *Cache) Flush() {
	c.mu.Lock()
	type pending struct {
		index  int
		sector uint32
	}
	var work []pending
	for i, s := range c.slots {
		if s.sector != noSector && s.dirty && !s.pinned {
			s.pinned = true
			c.pinnedCount++
			work = append(work, pending{index: i, sector: s.sector})
		}
	}
	c.mu.Unlock()

	for _, p := range work {
		s := c.slots[p.index]
		c.dev.WriteSector(p.sector, s.buf[:])
		c.mu.Lock()
		s.dirty = false
		s.pinned = false
		c.pinnedCount--
		c.stats.DeviceWrites++
		s.waiters.Signal()
		c.anyUnpinned.Signal()
		c.mu.Unlock()
	}
}

// Reset flushes the cache, then, if no slot is pinned, evicts all entries
// and zeroes statistics. It is for tests only and panics if any slot is
// pinned (spec §4.2).
func (c *Cache) Reset() {
	c.Flush()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinnedCount != 0 {
		panic("cache: Reset called while a slot is pinned")
	}
	for _, s := range c.slots {
		s.sector = noSector
		s.dirty = false
		s.ref = false
	}
	c.bySector = make(map[uint32]int, len(c.slots))
	c.clockHand = 0
	c.stats = Stats{}
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
