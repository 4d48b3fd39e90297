package fsengine

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintosfs/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DevicePath = filepath.Join(t.TempDir(), "test.img")
	cfg.SectorCount = 4096
	cfg.CacheSlots = 32
	cfg.WriteDelayMs = 60000 // long enough that write-behind never fires mid-test
	return cfg
}

func TestFormatThenRemount(t *testing.T) {
	cfg := testConfig(t)

	fs, err := Mount(cfg, true)
	require.NoError(t, err)

	h, err := fs.CreateFile(fs.Root(), "hello.txt", 0, false)
	require.NoError(t, err)
	n := h.WriteAt([]byte("hello, pintosfs"), 0)
	require.EqualValues(t, len("hello, pintosfs"), n)
	h.Close()
	fs.Unmount()

	fs2, err := Mount(cfg, false)
	require.NoError(t, err)
	defer fs2.Unmount()

	entry, err := fs2.Root().Lookup("hello.txt")
	require.NoError(t, err)

	h2 := fs2.Open(entry.Sector)
	defer h2.Close()
	buf := make([]byte, len("hello, pintosfs"))
	n = h2.ReadAt(buf, 0)
	require.EqualValues(t, len(buf), n)
	assert.Equal(t, "hello, pintosfs", string(buf))
}

func TestRemoveFreesFreeMapSectors(t *testing.T) {
	cfg := testConfig(t)
	fs, err := Mount(cfg, true)
	require.NoError(t, err)
	defer fs.Unmount()

	before := fs.fm.Available()

	h, err := fs.CreateFile(fs.Root(), "big.bin", 64*1024, false)
	require.NoError(t, err)
	afterCreate := fs.fm.Available()
	assert.Less(t, afterCreate, before)

	h.Remove()
	h.Close()
	require.NoError(t, fs.Root().Unlink("big.bin"))

	assert.Equal(t, before, fs.fm.Available())
}

func TestConcurrentWritersDistinctFiles(t *testing.T) {
	cfg := testConfig(t)
	fs, err := Mount(cfg, true)
	require.NoError(t, err)
	defer fs.Unmount()

	const n = 6
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := "w" + string(rune('0'+i))
			h, err := fs.CreateFile(fs.Root(), name, 0, false)
			if err != nil {
				t.Errorf("worker %d: CreateFile: %v", i, err)
				return
			}
			defer h.Close()
			payload := []byte{byte(i), byte(i), byte(i), byte(i)}
			if wn := h.WriteAt(payload, 0); wn != int32(len(payload)) {
				t.Errorf("worker %d: short write", i)
			}
		}()
	}
	wg.Wait()

	entries, err := fs.Root().ReadDir()
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestSnapshotReflectsActivity(t *testing.T) {
	cfg := testConfig(t)
	fs, err := Mount(cfg, true)
	require.NoError(t, err)
	defer fs.Unmount()

	before := fs.Stats().Snapshot()

	h, err := fs.CreateFile(fs.Root(), "stats.bin", 4096, false)
	require.NoError(t, err)
	h.WriteAt([]byte("x"), 0)
	h.Close()

	fs.cache.Flush()
	fs.stats.RecordFlush()

	after := fs.Stats().Snapshot()
	assert.Greater(t, after.Flushes, before.Flushes)
	assert.LessOrEqual(t, after.FreeSectors, before.FreeSectors)
}
