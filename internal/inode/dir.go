package inode

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// NameMax is the longest file name this directory codec stores, matching
// the source's NAME_MAX.
const NameMax = 14

// dirEntrySize is the packed size of one DirEntry record: inode_sector
// (u32) + name (NameMax+1 bytes) + in_use (1 byte).
const dirEntrySize = 4 + (NameMax + 1) + 1

// ErrNameTooLong is returned by Link when name exceeds NameMax bytes.
var ErrNameTooLong = errors.New("inode: name exceeds NameMax")

// ErrNotFound is returned by Lookup when no in-use entry matches.
var ErrNotFound = errors.New("inode: directory entry not found")

// DirEntry is one slot in a directory inode's byte stream: the minimal
// on-disk directory-entry record the distilled spec describes only as a
// constraint on the inode layer ("is_dir bit, parent back-pointer, child
// count"). This codec supplements that with the concrete entry format the
// original source keeps in a sibling file, so a directory inode can
// actually hold children.
type DirEntry struct {
	Sector uint32
	Name   string
	InUse  bool
}

func decodeDirEntry(buf []byte) DirEntry {
	var e DirEntry
	e.Sector = binary.LittleEndian.Uint32(buf[0:4])
	name := buf[4 : 4+NameMax+1]
	if nul := bytes.IndexByte(name, 0); nul >= 0 {
		name = name[:nul]
	}
	e.Name = string(name)
	e.InUse = buf[4+NameMax+1] != 0
	return e
}

func encodeDirEntry(buf []byte, e DirEntry) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], e.Sector)
	copy(buf[4:4+NameMax], e.Name)
	if e.InUse {
		buf[4+NameMax+1] = 1
	}
}

// ReadDir returns every in-use entry in the directory inode h.
func (h *Handle) ReadDir() ([]DirEntry, error) {
	if !h.IsDir() {
		return nil, ErrNotADirectory
	}
	length := h.Length()
	var out []DirEntry
	buf := make([]byte, dirEntrySize)
	for off := int32(0); off+int32(dirEntrySize) <= length; off += int32(dirEntrySize) {
		n := h.ReadAt(buf, off)
		if n < int32(dirEntrySize) {
			break
		}
		e := decodeDirEntry(buf)
		if e.InUse {
			out = append(out, e)
		}
	}
	return out, nil
}

// Lookup returns the entry named name in directory inode h.
func (h *Handle) Lookup(name string) (DirEntry, error) {
	entries, err := h.ReadDir()
	if err != nil {
		return DirEntry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return DirEntry{}, ErrNotFound
}

// Link adds an entry named name pointing at childSector to directory inode
// h, reusing the first free (not-in-use) slot if one exists, or appending a
// new one otherwise. The name-uniqueness check, the free-slot scan, any
// growth needed to append, and the final entry write all run against one
// transaction on h's sector, so two concurrent Links (or a Link racing an
// Unlink) on the same directory are totally ordered instead of both
// observing the same stale length and clobbering each other's entry.
func (h *Handle) Link(name string, childSector uint32) error {
	if len(name) > NameMax {
		return ErrNameTooLong
	}

	t := h.e.begin(h.sector)
	if err := h.linkWithin(t, name, childSector); err != nil {
		t.abort()
		return err
	}
	t.commit()
	return nil
}

func (h *Handle) linkWithin(t *transaction, name string, childSector uint32) error {
	if !t.d.IsDir {
		return ErrNotADirectory
	}

	buf := make([]byte, dirEntrySize)
	length := t.d.Length
	freeOff := int32(-1)
	for off := int32(0); off+int32(dirEntrySize) <= length; off += int32(dirEntrySize) {
		n := h.e.readWithin(t, buf, off)
		if n < int32(dirEntrySize) {
			break
		}
		e := decodeDirEntry(buf)
		if e.InUse && e.Name == name {
			return errors.New("inode: name already in use")
		}
		if !e.InUse && freeOff < 0 {
			freeOff = off
		}
	}

	encodeDirEntry(buf, DirEntry{Sector: childSector, Name: name, InUse: true})
	if freeOff >= 0 {
		if h.e.writeWithin(t, buf, freeOff) != int32(dirEntrySize) {
			return errors.New("inode: short directory write")
		}
		return nil
	}

	if err := h.e.growWithin(t, length+int32(dirEntrySize)); err != nil {
		return err
	}
	if h.e.writeWithin(t, buf, length) != int32(dirEntrySize) {
		return errors.New("inode: short directory write")
	}
	return nil
}

// Unlink clears the entry named name from directory inode h. The scan and
// the clearing write run against one transaction on h's sector, for the
// same reason Link does.
func (h *Handle) Unlink(name string) error {
	t := h.e.begin(h.sector)
	if err := h.unlinkWithin(t, name); err != nil {
		t.abort()
		return err
	}
	t.commit()
	return nil
}

func (h *Handle) unlinkWithin(t *transaction, name string) error {
	if !t.d.IsDir {
		return ErrNotADirectory
	}

	buf := make([]byte, dirEntrySize)
	length := t.d.Length
	for off := int32(0); off+int32(dirEntrySize) <= length; off += int32(dirEntrySize) {
		n := h.e.readWithin(t, buf, off)
		if n < int32(dirEntrySize) {
			break
		}
		e := decodeDirEntry(buf)
		if e.InUse && e.Name == name {
			encodeDirEntry(buf, DirEntry{})
			if h.e.writeWithin(t, buf, off) != int32(dirEntrySize) {
				return errors.New("inode: short directory write")
			}
			return nil
		}
	}
	return ErrNotFound
}
