package inode

import (
	"fmt"

	"github.com/jacobsa/syncutil"
)

// Handle is an in-memory reference to an open inode, shared by all
// concurrent openers (spec §3: "at most one handle exists per sector
// system-wide"). The zero-to-one-to-many lifecycle is managed entirely by
// Engine.Open/Handle.Close/Handle.Reopen.
type Handle struct {
	e      *Engine
	sector uint32

	mu           syncutil.InvariantMutex
	openCnt      int
	removed      bool
	denyWriteCnt int
}

func newHandle(e *Engine, sector uint32) *Handle {
	h := &Handle{e: e, sector: sector, openCnt: 1}
	h.mu = syncutil.NewInvariantMutex(h.checkInvariants)
	return h
}

func (h *Handle) checkInvariants() {
	if h.openCnt < 0 {
		panic(fmt.Sprintf("inode: handle %d: negative open count %d", h.sector, h.openCnt))
	}
	if h.denyWriteCnt < 0 || h.denyWriteCnt > h.openCnt {
		panic(fmt.Sprintf("inode: handle %d: deny_write_cnt %d out of [0, open_cnt=%d]", h.sector, h.denyWriteCnt, h.openCnt))
	}
}

// Sector returns the inode's on-disk location (its identity).
func (h *Handle) Sector() uint32 { return h.sector }

func (h *Handle) reopenLocked() {
	h.mu.Lock()
	h.openCnt++
	h.mu.Unlock()
}

// Reopen increments the handle's open count and returns it, for callers
// that already hold a *Handle and want to hand out another reference
// without going back through Engine.Open.
func (h *Handle) Reopen() *Handle {
	h.reopenLocked()
	return h
}

// Close decrements the open count. If it reaches zero, the handle is
// destroyed; if Remove had been called, the inode's sector chain and its
// own sector are returned to the free map.
func (h *Handle) Close() {
	h.mu.Lock()
	h.openCnt--
	last := h.openCnt == 0
	h.mu.Unlock()

	if last {
		h.e.closeHandle(h)
	}
}

// Remove marks the handle to be deleted once the last opener closes it.
func (h *Handle) Remove() {
	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
}

// DenyWrite disables writes to this inode. May be called at most once per
// opener.
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	h.denyWriteCnt++
	h.mu.Unlock()
}

// AllowWrite re-enables writes. Must be called once for every DenyWrite.
func (h *Handle) AllowWrite() {
	h.mu.Lock()
	if h.denyWriteCnt == 0 {
		h.mu.Unlock()
		panic("inode: AllowWrite without a matching DenyWrite")
	}
	h.denyWriteCnt--
	h.mu.Unlock()
}

func (h *Handle) writeDenied() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.denyWriteCnt > 0
}

// Length returns the inode's current logical length in bytes.
func (h *Handle) Length() int32 {
	return h.e.load(h.sector).Length
}

// IsDir reports whether this inode is a directory.
func (h *Handle) IsDir() bool {
	return h.e.load(h.sector).IsDir
}

// NumChildren returns the number of directory entries recorded against
// this inode (meaningful only when IsDir is true).
func (h *Handle) NumChildren() uint32 {
	return h.e.load(h.sector).NumFiles
}

// ParentSector returns the sector of this inode's parent directory (self
// for the root).
func (h *Handle) ParentSector() uint32 {
	return h.e.load(h.sector).Parent
}

// OpenParent opens and returns a handle on this inode's parent directory.
func (h *Handle) OpenParent() *Handle {
	return h.e.Open(h.ParentSector())
}

// ExtendTo grows the inode to newLength, allocating sectors as needed
// (spec §4.4). newLength must be >= the current length.
func (h *Handle) ExtendTo(newLength int32) error {
	return h.e.extendTo(h.sector, newLength)
}

// TruncateTo shrinks the inode to newLength, releasing sectors as needed
// (spec §4.4). newLength must be <= the current length.
func (h *Handle) TruncateTo(newLength int32) error {
	return h.e.truncateTo(h.sector, newLength)
}

// ReadAt reads up to len(buf) bytes starting at offset, returning the
// number of bytes actually read (spec §4.4).
func (h *Handle) ReadAt(buf []byte, offset int32) int32 {
	return h.e.readAt(h.sector, buf, offset)
}

// WriteAt writes up to len(buf) bytes starting at offset, returning the
// number of bytes actually written (spec §4.4). Returns 0 without
// modifying length if writes are currently denied.
func (h *Handle) WriteAt(buf []byte, offset int32) int32 {
	if h.writeDenied() {
		return 0
	}
	return h.e.writeAt(h.sector, buf, offset)
}

// AddChild registers child as a new directory entry of this (directory)
// inode: sets the child's parent back-pointer and increments this inode's
// num_files. Fails if this inode is not a directory. Both sectors are
// pinned for the whole update, lowest sector number first, so two
// concurrent AddChild calls (the exact case CreateFile triggers when
// several goroutines populate the same directory) can never lose an
// increment to each other and can never deadlock against each other even
// with parent/child sectors swapped.
func (h *Handle) AddChild(child *Handle) error {
	if h.sector == child.sector {
		t := h.e.begin(h.sector)
		if !t.d.IsDir {
			t.abort()
			return ErrNotADirectory
		}
		t.d.Parent = h.sector
		t.d.NumFiles++
		t.commit()
		return nil
	}

	first, second := h.sector, child.sector
	swapped := false
	if second < first {
		first, second = second, first
		swapped = true
	}
	t1 := h.e.begin(first)
	t2 := h.e.begin(second)
	tParent, tChild := t1, t2
	if swapped {
		tParent, tChild = t2, t1
	}

	if !tParent.d.IsDir {
		t1.abort()
		t2.abort()
		return ErrNotADirectory
	}
	tChild.d.Parent = h.sector
	tParent.d.NumFiles++
	t1.commit()
	t2.commit()
	return nil
}

// RemoveChild decrements this (directory) inode's num_files. Fails if this
// inode is not a directory.
func (h *Handle) RemoveChild() error {
	t := h.e.begin(h.sector)
	if !t.d.IsDir {
		t.abort()
		return ErrNotADirectory
	}
	if t.d.NumFiles > 0 {
		t.d.NumFiles--
	}
	t.commit()
	return nil
}
