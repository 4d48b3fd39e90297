package inode

// readAt reads up to len(buf) bytes of the inode at sector starting at
// offset, splicing through the cache one physical sector at a time (spec
// §4.4). Bytes past the inode's current length are never read; the
// returned count reflects only what overlaps [0, length). The inode's own
// sector stays pinned for the whole splice via a single transaction, so a
// concurrent grow or shrink can't be observed halfway through.
func (e *Engine) readAt(sector uint32, buf []byte, offset int32) int32 {
	t := e.begin(sector)
	n := e.readWithin(t, buf, offset)
	t.abort()
	return n
}

// readWithin performs readAt's splice against an already-open transaction,
// without acquiring a new sector pin, so callers assembling a larger
// operation out of several reads (dir.go's Link/Unlink scans) can reuse
// the transaction they already hold.
func (e *Engine) readWithin(t *transaction, buf []byte, offset int32) int32 {
	d := t.d
	if offset < 0 || offset >= d.Length || len(buf) == 0 {
		return 0
	}

	remaining := d.Length - offset
	want := int32(len(buf))
	if want > remaining {
		want = remaining
	}

	var done int32
	for done < want {
		pos := offset + done
		sectorIdx := uint32(pos) / SectorSize
		sectorOfs := int(uint32(pos) % SectorSize)
		chunk := SectorSize - sectorOfs
		if int32(chunk) > want-done {
			chunk = int(want - done)
		}

		phys := e.getSector(d, sectorIdx)
		h := e.cache.Get(phys)
		copy(buf[done:int(done)+chunk], h.Bytes()[sectorOfs:sectorOfs+chunk])
		e.cache.Release(h, false)

		done += int32(chunk)
	}
	return done
}

// writeAt writes up to len(buf) bytes of the inode at sector starting at
// offset, growing the inode first if the write would run past its current
// length (spec §4.4). Returns the number of bytes actually written. The
// grow and the splice share one transaction, so a concurrent writer or
// grower of the same sector can't interleave with either half.
func (e *Engine) writeAt(sector uint32, buf []byte, offset int32) int32 {
	if offset < 0 || len(buf) == 0 {
		return 0
	}

	end := offset + int32(len(buf))
	if end > MaxLength {
		end = MaxLength
	}
	if end <= offset {
		return 0
	}

	t := e.begin(sector)
	if end > t.d.Length {
		if err := e.growWithin(t, end); err != nil {
			// Partial extension is impossible (growWithin either fully
			// succeeds or leaves length unchanged), so a failed grow
			// here means no bytes can be written at all.
			t.abort()
			return 0
		}
	}

	n := e.writeWithin(t, buf, offset)
	t.commit()
	return n
}

// writeWithin performs writeAt's splice against an already-open
// transaction, without acquiring a new sector pin, writing only the
// portion of [offset, offset+len(buf)) that falls within the transaction's
// current length.
func (e *Engine) writeWithin(t *transaction, buf []byte, offset int32) int32 {
	d := t.d
	end := offset + int32(len(buf))
	if end > d.Length {
		end = d.Length
	}
	want := end - offset
	if want <= 0 {
		return 0
	}

	var done int32
	for done < want {
		pos := offset + done
		sectorIdx := uint32(pos) / SectorSize
		sectorOfs := int(uint32(pos) % SectorSize)
		chunk := SectorSize - sectorOfs
		if int32(chunk) > want-done {
			chunk = int(want - done)
		}

		phys := e.getSector(d, sectorIdx)
		h := e.cache.Get(phys)
		copy(h.Bytes()[sectorOfs:sectorOfs+chunk], buf[done:int(done)+chunk])
		e.cache.Release(h, true)

		done += int32(chunk)
	}
	return done
}
