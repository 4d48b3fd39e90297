package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosfs/internal/device"
)

type memDevice struct {
	mu      sync.Mutex
	sectors [][device.SectorSize]byte
}

func newMemDevice(n int) *memDevice {
	return &memDevice{sectors: make([][device.SectorSize]byte, n)}
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

func TestCacheResidencyUniqueness(t *testing.T) {
	dev := newMemDevice(256)
	c := New(dev, 8)

	for s := uint32(0); s < 64; s++ {
		h := c.Get(s)
		c.Release(h, false)
		seen := map[uint32]bool{}
		for _, sl := range c.slots {
			if sl.sector == noSector {
				continue
			}
			assert.False(t, seen[sl.sector], "sector %d claimed resident twice", sl.sector)
			seen[sl.sector] = true
		}
	}
}

func TestCacheCorrectness(t *testing.T) {
	dev := newMemDevice(16)
	c := New(dev, 4)

	h := c.Get(3)
	copy(h.Bytes(), []byte("hello, sector three"))
	c.Release(h, false)

	h2 := c.Get(3)
	got := string(h2.Bytes()[:len("hello, sector three")])
	c.Release(h2, false)
	assert.Equal(t, "hello, sector three", got)
}

func TestFlushCleanliness(t *testing.T) {
	dev := newMemDevice(16)
	c := New(dev, 4)

	for s := uint32(0); s < 4; s++ {
		h := c.Get(s)
		h.Bytes()[0] = byte(s + 1)
		c.Release(h, true)
	}
	c.Flush()

	for i, sl := range c.slots {
		assert.False(t, sl.dirty, "slot %d still dirty after Flush", i)
	}
}

func TestCacheEvictionSurvives128DistinctSectors(t *testing.T) {
	dev := newMemDevice(128)
	c := New(dev, 64)

	for s := uint32(0); s < 128; s++ {
		h := c.Get(s)
		h.Bytes()[0] = byte(s)
		c.Release(h, true)
	}
	for s := uint32(0); s < 128; s++ {
		h := c.Get(s)
		got := h.Bytes()[0]
		c.Release(h, false)
		require.Equal(t, byte(s), got, "sector %d corrupted across eviction", s)
	}
}

func TestGetNeverEvictsAPinnedSlot(t *testing.T) {
	dev := newMemDevice(4)
	c := New(dev, 2)

	h0 := c.Get(0)
	h1 := c.Get(1)

	done := make(chan struct{})
	go func() {
		h2 := c.Get(2) // must wait; both slots pinned
		c.Release(h2, false)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Get(2) returned while all slots were pinned")
	case <-time.After(50 * time.Millisecond):
	}

	c.Release(h0, false)
	<-done
	c.Release(h1, false)
}
