package freemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ buf []byte }

func newMemStore(n int) *memStore { return &memStore{buf: make([]byte, n)} }

func (s *memStore) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, s.buf[off:]), nil
}

func (s *memStore) WriteAt(p []byte, off int64) (int, error) {
	return copy(s.buf[off:], p), nil
}

func TestAllocateContigFindsAndPersists(t *testing.T) {
	m := New(64)
	store := newMemStore(m.ByteLen())
	m.Attach(store)

	first, err := m.AllocateContig(5)
	require.NoError(t, err)
	assert.EqualValues(t, 0, first)
	assert.EqualValues(t, 59, m.Available())

	m2 := New(64)
	require.NoError(t, m2.LoadFrom(store))
	assert.EqualValues(t, 59, m2.Available())
}

func TestAllocateContigSkipsReserved(t *testing.T) {
	m := New(8)
	require.NoError(t, m.MarkReserved(0))
	require.NoError(t, m.MarkReserved(1))

	first, err := m.AllocateContig(3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first)
}

func TestAllocateContigOutOfSpace(t *testing.T) {
	m := New(4)
	_, err := m.AllocateContig(5)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestReleaseContigFreesConservation(t *testing.T) {
	m := New(16)
	before := m.Available()

	first, err := m.AllocateContig(4)
	require.NoError(t, err)
	require.NoError(t, m.ReleaseContig(first, 4))

	assert.Equal(t, before, m.Available())
}

func TestAllocateScatterFillsNonContiguousGaps(t *testing.T) {
	m := New(8)
	first, err := m.AllocateContig(8)
	require.NoError(t, err)
	require.NoError(t, m.ReleaseContig(first+1, 1))
	require.NoError(t, m.ReleaseContig(first+3, 1))

	out := make([]uint32, 2)
	require.NoError(t, m.AllocateScatter(2, out))
	assert.ElementsMatch(t, []uint32{first + 1, first + 3}, out)
}

func TestWithLockAtomicMultiStepAllocation(t *testing.T) {
	m := New(16)
	var got uint32
	var allocErr error
	m.WithLock(func(l *Locked) {
		if l.Available() < 3 {
			allocErr = ErrOutOfSpace
			return
		}
		got, allocErr = l.AllocateContig(1)
		if allocErr == nil {
			l.ReleaseContig(got, 1)
		}
	})
	require.NoError(t, allocErr)
	assert.EqualValues(t, 16, m.Available())
}
