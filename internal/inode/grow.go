package inode

import "pintosfs/internal/freemap"

const (
	border1 = NumDirect              // first logical sector index in the indirect range
	border2 = NumDirect + NumIndirect // first logical sector index in the doubly-indirect range
)

func ceilDiv(a, b uint32) uint32 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// tablesFor returns how many second-level tables are needed to cover the
// first x logical sectors, i.e. indices [0, x) (0 if all of them fall
// within the indirect range or earlier).
func tablesFor(x uint32) uint32 {
	if x <= border2 {
		return 0
	}
	return ceilDiv(x-border2, NumIndirect)
}

// getSector resolves the physical sector backing logical index i, per the
// traversal rule in spec §4.4. It assumes i is within the inode's
// currently-allocated range.
func (e *Engine) getSector(d onDiskInode, i uint32) uint32 {
	if i < NumDirect {
		return d.Direct[i]
	}
	if i < border2 {
		h := e.cache.Get(d.Indirect)
		t := decodeIndirect(h.Bytes())
		e.cache.Release(h, false)
		return t[i-NumDirect]
	}
	h := e.cache.Get(d.DoublyIndirect)
	dt := decodeIndirect(h.Bytes())
	e.cache.Release(h, false)
	idx2 := (i - border2) / NumIndirect
	off2 := (i - border2) % NumIndirect
	h2 := e.cache.Get(dt[idx2])
	t2 := decodeIndirect(h2.Bytes())
	e.cache.Release(h2, false)
	return t2[off2]
}

// setSector records sector as the physical backing for logical index i.
// For i within the doubly-indirect range, the second-level table it lands
// in must already be linked from d.DoublyIndirect.
func (e *Engine) setSector(d *onDiskInode, i uint32, sector uint32) {
	if i < NumDirect {
		d.Direct[i] = sector
		return
	}
	if i < border2 {
		h := e.cache.Get(d.Indirect)
		t := decodeIndirect(h.Bytes())
		t[i-NumDirect] = sector
		encodeIndirect(h.Bytes(), t)
		e.cache.Release(h, true)
		return
	}
	h := e.cache.Get(d.DoublyIndirect)
	dt := decodeIndirect(h.Bytes())
	e.cache.Release(h, false)
	idx2 := (i - border2) / NumIndirect
	off2 := (i - border2) % NumIndirect
	h2 := e.cache.Get(dt[idx2])
	t2 := decodeIndirect(h2.Bytes())
	t2[off2] = sector
	encodeIndirect(h2.Bytes(), t2)
	e.cache.Release(h2, true)
}

func (e *Engine) zeroFillSector(sector uint32) {
	h := e.cache.Get(sector)
	buf := h.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	e.cache.Release(h, true)
}

// extendTo grows the inode at sector to newLength, allocating sectors as
// needed (spec §4.4). The whole operation runs against one transaction, so
// it is totally ordered against any other transaction on the same sector,
// and the multi-step allocation itself runs under the free-map lock so a
// partial grow cannot race another grower into over-commit (spec §5).
func (e *Engine) extendTo(sector uint32, newLength int32) error {
	t := e.begin(sector)
	if err := e.growWithin(t, newLength); err != nil {
		t.abort()
		return err
	}
	t.commit()
	return nil
}

// growWithin performs extendTo's allocation logic against an
// already-open transaction, without acquiring a new sector pin, so callers
// that need to grow an inode as one step of a larger operation already
// holding that inode's transaction (writeAt, Link) can call it directly.
func (e *Engine) growWithin(t *transaction, newLength int32) error {
	if newLength > MaxLength {
		return ErrLengthTooLarge
	}
	d := &t.d
	if newLength <= d.Length {
		return nil // preconditions say callers shouldn't shrink here; no-op rather than corrupt
	}

	start := bytesToSectors(d.Length)
	end := bytesToSectors(uint32FromInt32(newLength))
	if start == end {
		d.Length = newLength
		return nil
	}

	needIndirect := start <= border1 && border1 < end && d.Indirect == 0
	needDoubly := start <= border2 && border2 < end && d.DoublyIndirect == 0
	existingTables := tablesFor(start)
	neededTables := tablesFor(end)
	added := end - start

	total := added
	if needIndirect {
		total++
	}
	if needDoubly {
		total++
	}
	total += neededTables - existingTables

	var outErr error
	e.freeMap.WithLock(func(l *freemap.Locked) {
		if l.Available() < total {
			outErr = ErrOutOfSpace
			return
		}

		if needIndirect {
			s, err := l.AllocateContig(1)
			if err != nil {
				outErr = err
				return
			}
			d.Indirect = s
		}
		if needDoubly {
			s, err := l.AllocateContig(1)
			if err != nil {
				outErr = err
				return
			}
			d.DoublyIndirect = s
		}
		for i := existingTables; i < neededTables; i++ {
			s, err := l.AllocateContig(1)
			if err != nil {
				outErr = err
				return
			}
			e.linkSecondLevelTable(d.DoublyIndirect, i, s)
		}

		leaf := make([]uint32, added)
		if err := l.AllocateScatter(added, leaf); err != nil {
			outErr = err
			return
		}
		for _, s := range leaf {
			e.zeroFillSector(s)
		}
		for i := uint32(0); i < added; i++ {
			e.setSector(d, start+i, leaf[i])
		}

		d.Length = newLength
	})
	return outErr
}

// linkSecondLevelTable records sector as the backing for second-level
// table index idx within the doubly-indirect table at doublyIndirect.
func (e *Engine) linkSecondLevelTable(doublyIndirect uint32, idx uint32, sector uint32) {
	h := e.cache.Get(doublyIndirect)
	t := decodeIndirect(h.Bytes())
	t[idx] = sector
	encodeIndirect(h.Bytes(), t)
	e.cache.Release(h, true)
}

func (e *Engine) secondLevelTableSector(doublyIndirect uint32, idx uint32) uint32 {
	h := e.cache.Get(doublyIndirect)
	t := decodeIndirect(h.Bytes())
	e.cache.Release(h, false)
	return t[idx]
}

// truncateTo shrinks the inode at sector to newLength, releasing sectors
// as needed (spec §4.4), including the doubly-indirect table sector itself
// when a shrink crosses its boundary downward (per the Open Question
// resolution in spec §9). The whole operation runs against one
// transaction, totally ordering it against any other transaction on the
// same sector.
func (e *Engine) truncateTo(sector uint32, newLength int32) error {
	t := e.begin(sector)
	if err := e.shrinkWithin(t, newLength); err != nil {
		t.abort()
		return err
	}
	t.commit()
	return nil
}

// shrinkWithin performs truncateTo's release logic against an
// already-open transaction, without acquiring a new sector pin.
func (e *Engine) shrinkWithin(t *transaction, newLength int32) error {
	d := &t.d
	if newLength >= d.Length {
		return nil // preconditions say callers shouldn't grow here; no-op rather than corrupt
	}

	start := bytesToSectors(uint32FromInt32(newLength))
	end := bytesToSectors(d.Length)

	if start < end {
		leaf := make([]uint32, 0, end-start)
		for i := start; i < end; i++ {
			leaf = append(leaf, e.getSector(*d, i))
		}
		if err := e.freeMap.ReleaseScatter(leaf); err != nil {
			return err
		}
		for i := start; i < end; i++ {
			e.setSector(d, i, 0)
		}
	}

	existingTables := tablesFor(end)
	neededTables := tablesFor(start)
	for i := neededTables; i < existingTables; i++ {
		s := e.secondLevelTableSector(d.DoublyIndirect, i)
		if s != 0 {
			if err := e.freeMap.ReleaseContig(s, 1); err != nil {
				return err
			}
		}
	}

	if start <= border1 && border1 < end && d.Indirect != 0 {
		if err := e.freeMap.ReleaseContig(d.Indirect, 1); err != nil {
			return err
		}
		d.Indirect = 0
	}

	if start <= border2 && border2 < end && d.DoublyIndirect != 0 && neededTables == 0 {
		if err := e.freeMap.ReleaseContig(d.DoublyIndirect, 1); err != nil {
			return err
		}
		d.DoublyIndirect = 0
	}

	d.Length = newLength
	return nil
}

// Footprint returns the number of sectors (data plus index tables, not
// counting the inode's own sector) a file of the given length occupies.
// Used by consistency checks and tests to verify free-map conservation
// (spec §8).
func Footprint(length int32) uint32 {
	sectors := bytesToSectors(length)
	footprint := sectors
	if sectors > border1 {
		footprint++ // indirect table
	}
	if sectors > border2 {
		footprint++ // doubly-indirect table
		footprint += tablesFor(sectors)
	}
	return footprint
}

func uint32FromInt32(v int32) uint32 {
	if v < 0 {
		return 0
	}
	return uint32(v)
}
