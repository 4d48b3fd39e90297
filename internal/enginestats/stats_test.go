package enginestats

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"

	"pintosfs/internal/cache"
)

func TestSnapshotFoldsCacheDeltasIntoCurrentMinute(t *testing.T) {
	var clock timeutil.SimulatedClock
	clock.SetTime(time.Unix(1_700_000_000, 0))

	cs := cache.Stats{Hits: 10, Misses: 2, DeviceReads: 2, DeviceWrites: 0}
	h := newWithClock(func() cache.Stats { return cs }, func() uint32 { return 100 }, func() int { return 1 }, &clock)

	snap := h.Snapshot()
	require.Len(t, snap.Recent, 1)
	require.EqualValues(t, 10, snap.Recent[0].CacheHits)
	require.EqualValues(t, 2, snap.Recent[0].CacheMisses)

	cs.Hits += 5
	snap2 := h.Snapshot()
	require.EqualValues(t, 15, snap2.Recent[0].CacheHits, "deltas since the last snapshot fold into the same minute bucket")
}

func TestSnapshotAdvancesMinuteBucketsOverTime(t *testing.T) {
	var clock timeutil.SimulatedClock
	clock.SetTime(time.Unix(1_700_000_000, 0))

	cs := cache.Stats{}
	h := newWithClock(func() cache.Stats { return cs }, func() uint32 { return 50 }, func() int { return 0 }, &clock)

	h.RecordFlush()
	clock.AdvanceTime(90 * time.Second)
	h.RecordFlush()

	snap := h.Snapshot()
	require.GreaterOrEqual(t, len(snap.Recent), 2)
	require.EqualValues(t, 2, snap.Flushes)
}

func TestSnapshotReportsLiveSourcesVerbatim(t *testing.T) {
	var clock timeutil.SimulatedClock
	clock.SetTime(time.Unix(1_700_000_000, 0))

	cs := cache.Stats{Hits: 3, Misses: 1, DeviceReads: 4, DeviceWrites: 5}
	h := newWithClock(func() cache.Stats { return cs }, func() uint32 { return 77 }, func() int { return 2 }, &clock)

	got := h.Snapshot()
	want := Snapshot{
		StartedUnix: 1_700_000_000,
		NowUnix:     1_700_000_000,
		UptimeSec:   0,
		CacheHits:   3,
		CacheMisses: 1,
		DeviceReads: 4,
		DeviceWrite: 5,
		FreeSectors: 77,
		OpenHandles: 2,
		Flushes:     0,
		Recent:      got.Recent, // compared separately; bucket contents are covered above
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}
