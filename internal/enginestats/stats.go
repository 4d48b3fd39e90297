// Package enginestats collects lightweight counters for the storage
// engine's buffer cache, free map, and inode table, exposed read-only for
// diagnostics (SPEC_FULL.md §2: "structured diagnostics... purely
// observational; no core operation's return value depends on it").
package enginestats

import (
	"sync"
	"time"

	"github.com/jacobsa/timeutil"

	"pintosfs/internal/cache"
)

// StatsPoint is an aggregated per-minute counter used for dashboards.
type StatsPoint struct {
	MinuteUnix  int64  `json:"minute_unix"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`
	Flushes     uint64 `json:"flushes"`
}

// Snapshot is a JSON-friendly snapshot of collected stats.
type Snapshot struct {
	StartedUnix int64        `json:"started_unix"`
	NowUnix     int64        `json:"now_unix"`
	UptimeSec   int64        `json:"uptime_sec"`
	CacheHits   uint64       `json:"cache_hits"`
	CacheMisses uint64       `json:"cache_misses"`
	DeviceReads uint64       `json:"device_reads"`
	DeviceWrite uint64       `json:"device_writes"`
	FreeSectors uint32       `json:"free_sectors"`
	OpenHandles int          `json:"open_handles"`
	Flushes     uint64       `json:"flushes"`
	Recent      []StatsPoint `json:"recent"`
}

// Hub keeps lightweight counters for the debug endpoint. Cache and free-map
// figures are pulled on demand from the live components (cacheSource /
// freeSource / openSource) rather than pushed, so the hub never races with
// the components it observes; only the flush counter and the per-minute
// ring are owned by the hub itself.
type Hub struct {
	mu      sync.Mutex
	started time.Time

	flushes uint64

	// per-minute ring (last 60 minutes), sampled each time Snapshot or
	// RecordFlush advances the clock.
	curMin  int64
	idx     int
	minUnix [60]int64
	hits    [60]uint64
	misses  [60]uint64
	flush   [60]uint64

	lastHits, lastMisses uint64

	cacheSource func() cache.Stats
	freeSource  func() uint32
	openSource  func() int
	clock       timeutil.Clock
}

// New creates a Hub. The three sources are called lazily on every Snapshot.
func New(cacheSource func() cache.Stats, freeSource func() uint32, openSource func() int) *Hub {
	return newWithClock(cacheSource, freeSource, openSource, timeutil.RealClock())
}

// newWithClock is the injectable constructor tests use to control the
// per-minute ring deterministically, the way gcsfuse's inode tests drive a
// SimulatedClock instead of sleeping on wall-clock time.
func newWithClock(cacheSource func() cache.Stats, freeSource func() uint32, openSource func() int, clock timeutil.Clock) *Hub {
	now := clock.Now()
	m := now.Unix() / 60
	h := &Hub{
		started:     now,
		curMin:      m,
		cacheSource: cacheSource,
		freeSource:  freeSource,
		openSource:  openSource,
		clock:       clock,
	}
	h.minUnix[0] = m * 60
	return h
}

func (h *Hub) advanceLocked(targetMin int64) {
	for h.curMin < targetMin {
		h.curMin++
		h.idx = (h.idx + 1) % len(h.hits)
		h.minUnix[h.idx] = h.curMin * 60
		h.hits[h.idx] = 0
		h.misses[h.idx] = 0
		h.flush[h.idx] = 0
	}
}

// RecordFlush increments the flush counter. Called by the write-behind loop
// and by an explicit Unmount flush.
func (h *Hub) RecordFlush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.advanceLocked(h.clock.Now().Unix() / 60)
	h.flushes++
	h.flush[h.idx]++
}

// Snapshot returns the current counters, including the last 60 one-minute
// buckets of cache hit/miss/flush activity.
func (h *Hub) Snapshot() Snapshot {
	cs := h.cacheSource()

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	h.advanceLocked(now.Unix() / 60)

	// Fold the deltas since the last snapshot into the current bucket so
	// Recent reflects hit/miss activity even though the counters
	// themselves live in the cache, not the hub.
	h.hits[h.idx] += cs.Hits - h.lastHits
	h.misses[h.idx] += cs.Misses - h.lastMisses
	h.lastHits, h.lastMisses = cs.Hits, cs.Misses

	recent := make([]StatsPoint, 0, len(h.hits))
	n := len(h.hits)
	for i := 0; i < n; i++ {
		j := (h.idx + 1 + i) % n
		if h.minUnix[j] == 0 {
			continue
		}
		recent = append(recent, StatsPoint{
			MinuteUnix:  h.minUnix[j],
			CacheHits:   h.hits[j],
			CacheMisses: h.misses[j],
			Flushes:     h.flush[j],
		})
	}

	return Snapshot{
		StartedUnix: h.started.Unix(),
		NowUnix:     now.Unix(),
		UptimeSec:   int64(now.Sub(h.started).Seconds()),
		CacheHits:   cs.Hits,
		CacheMisses: cs.Misses,
		DeviceReads: cs.DeviceReads,
		DeviceWrite: cs.DeviceWrites,
		FreeSectors: h.freeSource(),
		OpenHandles: h.openSource(),
		Flushes:     h.flushes,
		Recent:      recent,
	}
}
