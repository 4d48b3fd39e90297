package inode

import (
	"encoding/binary"

	"pintosfs/internal/device"
)

// Sizing constants (spec §3, §6). NumDirect is chosen so the on-disk
// record is exactly one sector; NumIndirect is the number of sector
// pointers that fit in one sector.
const (
	SectorSize   = device.SectorSize
	NumIndirect  = SectorSize / 4 // 128
	NumDirect    = 120
	MaxLength    = 8 * 1024 * 1024 // 8 MiB
	inodeMagic   = 0x494E4F44
	noSectorZero = uint32(0) // unallocated pointer slots read back as 0
)

// Byte offsets of each field in the 512-byte on-disk inode record. The
// layout must match exactly (spec §6), so fields are encoded/decoded
// explicitly rather than cast from a Go struct: Go does not guarantee the
// same field padding C does, and this layout is a persistent wire format
// that existing images must keep parsing.
const (
	offDirect         = 0
	offIndirect       = offDirect + NumDirect*4
	offDoublyIndirect = offIndirect + 4
	offParent         = offDoublyIndirect + 4
	offNumFiles       = offParent + 4
	offIsDir          = offNumFiles + 4
	offLength         = offIsDir + 4 // 3 bytes of alignment padding before length, as in the source struct
	offMagic          = offLength + 4
	recordSize        = offMagic + 4 + 4 // + trailing pad to round out to SectorSize
)

// Compile-time enforcement that the record fits in exactly one sector
// (spec §4.4: "a compile-time check").
var _ [SectorSize - recordSize]byte
var _ [recordSize - SectorSize]byte

// onDiskInode is the decoded form of an inode record. bytesToSectors and
// all traversal logic work from this struct; (en|de)code move it to/from a
// cache slot's raw buffer.
type onDiskInode struct {
	Direct         [NumDirect]uint32
	Indirect       uint32
	DoublyIndirect uint32
	Parent         uint32
	NumFiles       uint32
	IsDir          bool
	Length         int32
	Magic          uint32
}

func decodeInode(buf []byte) onDiskInode {
	var d onDiskInode
	for i := 0; i < NumDirect; i++ {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[offDirect+i*4:])
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[offIndirect:])
	d.DoublyIndirect = binary.LittleEndian.Uint32(buf[offDoublyIndirect:])
	d.Parent = binary.LittleEndian.Uint32(buf[offParent:])
	d.NumFiles = binary.LittleEndian.Uint32(buf[offNumFiles:])
	d.IsDir = buf[offIsDir] != 0
	d.Length = int32(binary.LittleEndian.Uint32(buf[offLength:]))
	d.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	return d
}

func encodeInode(buf []byte, d onDiskInode) {
	for i := range buf {
		buf[i] = 0
	}
	for i := 0; i < NumDirect; i++ {
		binary.LittleEndian.PutUint32(buf[offDirect+i*4:], d.Direct[i])
	}
	binary.LittleEndian.PutUint32(buf[offIndirect:], d.Indirect)
	binary.LittleEndian.PutUint32(buf[offDoublyIndirect:], d.DoublyIndirect)
	binary.LittleEndian.PutUint32(buf[offParent:], d.Parent)
	binary.LittleEndian.PutUint32(buf[offNumFiles:], d.NumFiles)
	if d.IsDir {
		buf[offIsDir] = 1
	}
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(d.Length))
	binary.LittleEndian.PutUint32(buf[offMagic:], d.Magic)
}

// indirectTable is a sector holding NumIndirect sector-number pointers.
func decodeIndirect(buf []byte) [NumIndirect]uint32 {
	var t [NumIndirect]uint32
	for i := range t {
		t[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return t
}

func encodeIndirect(buf []byte, t [NumIndirect]uint32) {
	for i, v := range t {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
}

func bytesToSectors(size int32) uint32 {
	if size <= 0 {
		return 0
	}
	return (uint32(size) + SectorSize - 1) / SectorSize
}
