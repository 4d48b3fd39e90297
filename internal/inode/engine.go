// Package inode implements the indexed inode layer (components D and E): a
// multi-level direct/indirect/doubly-indirect sector-index structure
// supporting sparse-free growth, shrink, and byte-addressable read/write,
// plus the in-memory handle table that deduplicates open references to an
// inode's sector.
package inode

import (
	"errors"
	"fmt"
	"sync"

	"pintosfs/internal/cache"
	"pintosfs/internal/freemap"
)

// Errors surfaced by this package (spec §7). These are sentinel values
// rather than an exception channel; byte I/O (ReadAt/WriteAt) reports
// failure as a short byte count instead.
var (
	ErrOutOfSpace     = errors.New("inode: out of space")
	ErrNotADirectory  = errors.New("inode: not a directory")
	ErrBadMagic       = errors.New("inode: bad magic")
	ErrLengthTooLarge = errors.New("inode: length exceeds MaxLength")
)

// Engine owns the cache and free map and deduplicates open handles per
// sector (component E). At most one Handle exists per sector system-wide.
type Engine struct {
	cache   *cache.Cache
	freeMap *freemap.Map

	mu    sync.Mutex
	table map[uint32]*Handle
}

// New creates an inode engine over c and fm. fm need not be loaded yet;
// growth/shrink during format-time bootstrap is allowed to run against an
// unattached (not-yet-persisted) free map, as spec §9's cyclic-structure
// note describes.
func New(c *cache.Cache, fm *freemap.Map) *Engine {
	return &Engine{
		cache:   c,
		freeMap: fm,
		table:   make(map[uint32]*Handle),
	}
}

// Create initializes a fresh inode with length bytes of data and writes it
// to sector, through the cache. parent is set to sector itself; callers
// rebind it later via AddChild. (spec §4.4)
func (e *Engine) Create(sector uint32, length int32, isDir bool) error {
	if length < 0 {
		return fmt.Errorf("inode: Create: negative length")
	}
	if length > MaxLength {
		return ErrLengthTooLarge
	}

	h := e.cache.Get(sector)
	d := onDiskInode{
		Parent:   sector,
		Length:   0,
		IsDir:    isDir,
		NumFiles: 0,
		Magic:    inodeMagic,
	}
	encodeInode(h.Bytes(), d)
	e.cache.Release(h, true)

	if length > 0 {
		if err := e.extendTo(sector, length); err != nil {
			return err
		}
	}
	return nil
}

// Open returns the handle for sector, allocating one if none exists yet,
// and increments its open count (spec §4.5).
func (e *Engine) Open(sector uint32) *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.table[sector]; ok {
		h.reopenLocked()
		return h
	}
	h := newHandle(e, sector)
	e.table[sector] = h
	return h
}

// OpenCount returns the number of distinct sectors with a live handle.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.table)
}

// closeHandle is called by Handle.Close once its open count reaches zero.
// If the handle was marked removed, its sector chain and the inode sector
// itself are returned to the free map.
func (e *Engine) closeHandle(h *Handle) {
	e.mu.Lock()
	delete(e.table, h.sector)
	e.mu.Unlock()

	if h.removed {
		// Shrink to zero, releasing every data/pointer sector, then
		// release the inode's own sector.
		if err := e.truncateTo(h.sector, 0); err != nil {
			panic(fmt.Sprintf("inode: closeHandle: truncate to 0 failed for a removed inode: %v", err))
		}
		if err := e.freeMap.ReleaseContig(h.sector, 1); err != nil {
			panic(fmt.Sprintf("inode: closeHandle: release inode sector: %v", err))
		}
	}
}

func (e *Engine) load(sector uint32) onDiskInode {
	h := e.cache.Get(sector)
	d := decodeInode(h.Bytes())
	e.cache.Release(h, false)
	if d.Magic != inodeMagic {
		panic(ErrBadMagic)
	}
	return d
}

func (e *Engine) store(sector uint32, d onDiskInode) {
	h := e.cache.Get(sector)
	encodeInode(h.Bytes(), d)
	e.cache.Release(h, true)
}

// transaction pins an inode's own sector for the duration of a whole
// logical read-modify-write operation (grow, shrink, link, unlink, child
// bookkeeping), mirroring the single buffer_cache_get held across
// extend_inode_length/shorten_inode_length in the source this package
// translates. Because cache.Cache.Get blocks a second Get on an
// already-pinned sector, holding one transaction open for an operation's
// full duration totally orders it against every other transaction on the
// same sector; begin must therefore be called at most once per sector per
// goroutine at a time, and every transaction must end in exactly one
// commit or abort.
type transaction struct {
	e      *Engine
	h      *cache.Handle
	sector uint32
	d      onDiskInode
}

func (e *Engine) begin(sector uint32) *transaction {
	h := e.cache.Get(sector)
	d := decodeInode(h.Bytes())
	if d.Magic != inodeMagic {
		e.cache.Release(h, false)
		panic(ErrBadMagic)
	}
	return &transaction{e: e, h: h, sector: sector, d: d}
}

// commit writes the transaction's (possibly mutated) inode back and
// releases the sector pin.
func (t *transaction) commit() {
	encodeInode(t.h.Bytes(), t.d)
	t.e.cache.Release(t.h, true)
}

// abort releases the sector pin without writing anything back, discarding
// whatever the transaction mutated in its local copy.
func (t *transaction) abort() {
	t.e.cache.Release(t.h, false)
}
