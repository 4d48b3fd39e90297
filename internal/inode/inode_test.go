package inode

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosfs/internal/cache"
	"pintosfs/internal/freemap"
)

type memDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

func newMemDevice(n uint32) *memDevice {
	return &memDevice{sectors: make([][SectorSize]byte, n)}
}

func (d *memDevice) SectorCount() uint32 { return uint32(len(d.sectors)) }

func (d *memDevice) ReadSector(sector uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(buf, d.sectors[sector][:])
	return nil
}

func (d *memDevice) WriteSector(sector uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.sectors[sector][:], buf)
	return nil
}

func newTestEngine(t *testing.T, sectors uint32) (*Engine, *freemap.Map) {
	t.Helper()
	dev := newMemDevice(sectors)
	c := cache.New(dev, 32)
	fm := freemap.New(sectors)
	return New(c, fm), fm
}

func TestCreateFillReadBack(t *testing.T) {
	e, fm := newTestEngine(t, 4096)
	require.NoError(t, fm.MarkReserved(50))
	require.NoError(t, e.Create(50, 0, false))

	h := e.Open(50)
	defer h.Close()

	want := make([]byte, 1024)
	for i := range want {
		want[i] = byte(i)
	}
	n := h.WriteAt(want, 0)
	require.EqualValues(t, 1024, n)

	got := make([]byte, 1024)
	n = h.ReadAt(got, 0)
	require.EqualValues(t, 1024, n)
	assert.Equal(t, want, got)
	assert.EqualValues(t, 1024, h.Length())
}

func TestGrowAcrossIndirectBoundary(t *testing.T) {
	e, fm := newTestEngine(t, 8192)
	require.NoError(t, fm.MarkReserved(10))
	require.NoError(t, e.Create(10, 0, false))

	h := e.Open(10)
	defer h.Close()

	off := int32(NumDirect * SectorSize)
	n := h.WriteAt([]byte{0xAB}, off)
	require.EqualValues(t, 1, n)
	assert.EqualValues(t, off+1, h.Length())

	buf := make([]byte, SectorSize)
	got := h.ReadAt(buf, 0)
	require.EqualValues(t, SectorSize, got)
	for i, b := range buf {
		assert.Equalf(t, byte(0), b, "byte %d of first sector should be zero", i)
	}

	one := make([]byte, 1)
	n = h.ReadAt(one, off)
	require.EqualValues(t, 1, n)
	assert.Equal(t, byte(0xAB), one[0])
}

func TestGrowAcrossDoublyIndirectBoundary(t *testing.T) {
	e, fm := newTestEngine(t, 8192)
	require.NoError(t, fm.MarkReserved(10))
	require.NoError(t, e.Create(10, 0, false))

	h := e.Open(10)
	defer h.Close()

	off := int32((NumDirect + NumIndirect) * SectorSize)
	n := h.WriteAt([]byte{0xCD}, off)
	require.EqualValues(t, 1, n)

	one := make([]byte, 1)
	n = h.ReadAt(one, off)
	require.EqualValues(t, 1, n)
	assert.Equal(t, byte(0xCD), one[0])

	zero := make([]byte, 1)
	n = h.ReadAt(zero, off-1)
	require.EqualValues(t, 1, n)
	assert.Equal(t, byte(0), zero[0])
}

func TestTruncateReleasesSectors(t *testing.T) {
	e, fm := newTestEngine(t, 8192)
	// Sector 0 is reserved on a formatted device; a zero table pointer
	// means "no table", so a table must never be allocated there.
	require.NoError(t, fm.MarkReserved(0))

	before := fm.Available()
	require.NoError(t, fm.MarkReserved(20))
	require.NoError(t, e.Create(20, 128*1024, false))
	assert.Less(t, fm.Available(), before)

	h := e.Open(20)
	h.Remove()
	h.Close()

	assert.Equal(t, before, fm.Available())
}

func TestGrowShrinkIdempotence(t *testing.T) {
	e, fm := newTestEngine(t, 8192)
	require.NoError(t, fm.MarkReserved(30))
	require.NoError(t, e.Create(30, 0, false))

	h := e.Open(30)
	L := int32(300 * SectorSize) // crosses both boundaries
	require.NoError(t, h.ExtendTo(L))
	grownFootprint := Footprint(h.Length())

	Lp := int32(10 * SectorSize)
	require.NoError(t, h.TruncateTo(Lp))
	shrunkFootprint := Footprint(h.Length())
	h.Close()

	require.NoError(t, fm.MarkReserved(31))
	require.NoError(t, e.Create(31, Lp, false))
	h2 := e.Open(31)
	freshFootprint := Footprint(h2.Length())
	h2.Close()

	assert.NotEqual(t, grownFootprint, shrunkFootprint)
	assert.Equal(t, freshFootprint, shrunkFootprint)
}

func TestSparseZero(t *testing.T) {
	e, fm := newTestEngine(t, 8192)
	require.NoError(t, fm.MarkReserved(40))
	require.NoError(t, e.Create(40, 0, false))

	h := e.Open(40)
	defer h.Close()
	require.NoError(t, h.ExtendTo(4096))

	buf := make([]byte, 4096)
	n := h.ReadAt(buf, 0)
	require.EqualValues(t, 4096, n)
	for i, b := range buf {
		assert.Equalf(t, byte(0), b, "byte %d should be zero (grown, never written)", i)
	}
}

func TestDenyWriteSafety(t *testing.T) {
	e, fm := newTestEngine(t, 4096)
	require.NoError(t, fm.MarkReserved(60))
	require.NoError(t, e.Create(60, 512, false))

	h := e.Open(60)
	defer h.Close()

	h.DenyWrite()
	n := h.WriteAt([]byte{1, 2, 3}, 0)
	assert.EqualValues(t, 0, n)
	assert.EqualValues(t, 512, h.Length())
	h.AllowWrite()

	n = h.WriteAt([]byte{1, 2, 3}, 0)
	assert.EqualValues(t, 3, n)
}

func TestHandleUniqueness(t *testing.T) {
	e, fm := newTestEngine(t, 4096)
	require.NoError(t, fm.MarkReserved(70))
	require.NoError(t, e.Create(70, 0, false))

	h1 := e.Open(70)
	h2 := e.Open(70)
	assert.Same(t, h1, h2)

	h1.Close()
	h2.Close()
}

func TestOutOfSpace(t *testing.T) {
	e, fm := newTestEngine(t, NumDirect+1)
	require.NoError(t, fm.MarkReserved(0))

	before := fm.Available()
	err := e.Create(0, MaxLength, false)
	assert.ErrorIs(t, err, ErrOutOfSpace)
	assert.Equal(t, before, fm.Available())
}

func TestConcurrentWritersDistinctOffsets(t *testing.T) {
	e, fm := newTestEngine(t, 8192)
	require.NoError(t, fm.MarkReserved(80))
	require.NoError(t, e.Create(80, 128*1024, false))

	h := e.Open(80)
	defer h.Close()

	var wg sync.WaitGroup
	const chunk = 64 * 1024
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, chunk)
			for j := range buf {
				buf[j] = byte(i + 1)
			}
			n := h.WriteAt(buf, int32(i*chunk))
			assert.EqualValues(t, chunk, n)
		}()
	}
	wg.Wait()

	full := make([]byte, 128*1024)
	n := h.ReadAt(full, 0)
	require.EqualValues(t, 128*1024, n)
	assert.Equal(t, byte(1), full[0])
	assert.Equal(t, byte(2), full[chunk])
}

func TestDirLinkLookupUnlink(t *testing.T) {
	e, fm := newTestEngine(t, 4096)
	require.NoError(t, fm.MarkReserved(90))
	require.NoError(t, e.Create(90, 0, true))

	dir := e.Open(90)
	defer dir.Close()

	require.NoError(t, fm.MarkReserved(91))
	require.NoError(t, e.Create(91, 0, false))

	require.NoError(t, dir.Link("child.txt", 91))
	entry, err := dir.Lookup("child.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 91, entry.Sector)

	entries, err := dir.ReadDir()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, dir.Unlink("child.txt"))
	_, err = dir.Lookup("child.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	e.Open(91).Close()
}

func TestNotADirectory(t *testing.T) {
	e, fm := newTestEngine(t, 4096)
	require.NoError(t, fm.MarkReserved(95))
	require.NoError(t, e.Create(95, 0, false))

	h := e.Open(95)
	defer h.Close()

	assert.ErrorIs(t, h.Link("x", 1), ErrNotADirectory)
	_, err := h.ReadDir()
	assert.ErrorIs(t, err, ErrNotADirectory)
}
