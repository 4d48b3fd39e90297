// Package fsengine implements bootstrap, shutdown, and write-behind
// (component F): it wires the block device, buffer cache, free map, and
// inode engine together into a mountable file system, exactly as spec §4.6
// describes.
package fsengine

import (
	"fmt"
	"sync"
	"time"

	"pintosfs/internal/cache"
	"pintosfs/internal/config"
	"pintosfs/internal/device"
	"pintosfs/internal/enginestats"
	"pintosfs/internal/freemap"
	"pintosfs/internal/inode"
)

const (
	freeMapSector = 0 // reserved for the free-map file's inode (spec §6)
	rootSector    = 1 // reserved for the root directory's inode (spec §6)
)

// FS is a mounted instance of the storage engine.
type FS struct {
	dev    *device.FileDevice
	cache  *cache.Cache
	fm     *freemap.Map
	inodes *inode.Engine

	freeMapHandle *inode.Handle
	root          *inode.Handle

	stats  *enginestats.Hub
	events *enginestats.EventLog

	writeDelay time.Duration
	stop       chan struct{}
	wg         sync.WaitGroup
}

// handleStore adapts an inode.Handle to freemap.Store, closing the import
// cycle the spec's own cyclic-structure note describes (spec §9): the free
// map's bitmap lives in a file whose content is itself served by the
// cache, through an inode the free map cannot import.
type handleStore struct{ h *inode.Handle }

func (s handleStore) ReadAt(p []byte, off int64) (int, error) {
	n := s.h.ReadAt(p, int32(off))
	return int(n), nil
}

func (s handleStore) WriteAt(p []byte, off int64) (int, error) {
	n := s.h.WriteAt(p, int32(off))
	if n != int32(len(p)) {
		return int(n), fmt.Errorf("fsengine: short write to free-map file (%d of %d)", n, len(p))
	}
	return int(n), nil
}

// Mount attaches the device at cfg.DevicePath, initializes the cache and
// inode table, and either formats a fresh file system or loads an existing
// one (spec §4.6). The write-behind task is started before Mount returns.
func Mount(cfg config.Config, format bool) (*FS, error) {
	var dev *device.FileDevice
	var err error
	if format {
		dev, err = device.CreateImage(cfg.DevicePath, cfg.SectorCount)
	} else {
		dev, err = device.OpenFile(cfg.DevicePath)
	}
	if err != nil {
		return nil, fmt.Errorf("fsengine: mount: %w", err)
	}

	c := cache.New(dev, cfg.CacheSlots)
	fm := freemap.New(dev.SectorCount())
	engine := inode.New(c, fm)

	fs := &FS{
		dev:        dev,
		cache:      c,
		fm:         fm,
		inodes:     engine,
		writeDelay: time.Duration(cfg.WriteDelayMs) * time.Millisecond,
		stop:       make(chan struct{}),
		events:     enginestats.NewEventLog(256),
	}
	fs.stats = enginestats.New(c.Stats, fm.Available, fs.openHandleCount)

	if format {
		if err := fs.format(); err != nil {
			return nil, err
		}
	} else {
		fm.MarkReserved(freeMapSector)
		fm.MarkReserved(rootSector)
		fs.freeMapHandle = engine.Open(freeMapSector)
		if err := fm.LoadFrom(handleStore{fs.freeMapHandle}); err != nil {
			return nil, fmt.Errorf("fsengine: mount: %w", err)
		}
		fs.root = engine.Open(rootSector)
	}

	fs.startWriteBehind()
	return fs, nil
}

// format initializes an empty free map, creates the free-map file's inode
// directly through the cache (bypassing free-map consultation, per spec
// §9's cyclic-structure resolution), creates the root directory inode, and
// writes the bitmap out.
func (fs *FS) format() error {
	fs.fm.MarkReserved(freeMapSector)
	fs.fm.MarkReserved(rootSector)

	if err := fs.inodes.Create(freeMapSector, int32(fs.fm.ByteLen()), false); err != nil {
		return fmt.Errorf("fsengine: format: create free-map file: %w", err)
	}
	if err := fs.inodes.Create(rootSector, 0, true); err != nil {
		return fmt.Errorf("fsengine: format: create root directory: %w", err)
	}

	fs.freeMapHandle = fs.inodes.Open(freeMapSector)
	fs.fm.Attach(handleStore{fs.freeMapHandle})
	if _, err := handleStore{fs.freeMapHandle}.WriteAt(fs.fm.SnapshotBits(), 0); err != nil {
		return fmt.Errorf("fsengine: format: persist free map: %w", err)
	}

	fs.root = fs.inodes.Open(rootSector)
	fs.events.Add(enginestats.EngineEvent{Kind: enginestats.EventCreate, Sector: rootSector, Detail: "root directory"})
	return nil
}

// CreateFile allocates a fresh inode sector, initializes an inode of the
// given length and kind there, and links it into parent under name. This
// is the orchestration step spec §4.4's add_child helper assumes already
// happened: something upstream of the inode layer (the path-resolution
// layer, out of this core's scope) must first reserve a sector and wire it
// into a directory before add_child has anything to bind.
func (fs *FS) CreateFile(parent *inode.Handle, name string, length int32, isDir bool) (*inode.Handle, error) {
	sector, err := fs.fm.AllocateContig(1)
	if err != nil {
		return nil, fmt.Errorf("fsengine: CreateFile: %w", err)
	}
	if err := fs.inodes.Create(sector, length, isDir); err != nil {
		fs.fm.ReleaseContig(sector, 1)
		return nil, fmt.Errorf("fsengine: CreateFile: %w", err)
	}
	if err := parent.Link(name, sector); err != nil {
		fs.fm.ReleaseContig(sector, 1)
		return nil, fmt.Errorf("fsengine: CreateFile: %w", err)
	}
	child := fs.inodes.Open(sector)
	if err := parent.AddChild(child); err != nil {
		return nil, fmt.Errorf("fsengine: CreateFile: %w", err)
	}
	fs.events.Add(enginestats.EngineEvent{Kind: enginestats.EventCreate, Sector: sector, Detail: name})
	return child, nil
}

// Open opens the inode at sector, for callers (like consistency checkers)
// that need to walk the tree by sector number rather than through a parent
// handle's directory entries.
func (fs *FS) Open(sector uint32) *inode.Handle { return fs.inodes.Open(sector) }

// Root returns the root directory handle: the expansion's analogue of "the
// current execution context's working directory becomes the root directory
// inode" (spec §4.6), exposed as an explicit value since this core has no
// process/thread table.
func (fs *FS) Root() *inode.Handle { return fs.root }

// Stats returns the engine's diagnostics hub.
func (fs *FS) Stats() *enginestats.Hub { return fs.stats }

// Events returns the engine's structural event log.
func (fs *FS) Events() *enginestats.EventLog { return fs.events }

func (fs *FS) openHandleCount() int { return fs.inodes.OpenCount() }

func (fs *FS) startWriteBehind() {
	fs.wg.Add(1)
	go func() {
		defer fs.wg.Done()
		for {
			select {
			case <-time.After(fs.writeDelay):
				fs.cache.Flush()
				fs.stats.RecordFlush()
				fs.events.Add(enginestats.EngineEvent{Kind: enginestats.EventFlush})
			case <-fs.stop:
				return
			}
		}
	}()
}

// Unmount closes the free-map file and flushes the cache (spec §4.6).
func (fs *FS) Unmount() {
	close(fs.stop)
	fs.wg.Wait()

	fs.root.Close()
	fs.freeMapHandle.Close()
	fs.cache.Flush()
	fs.stats.RecordFlush()
	fs.dev.Close()
}
