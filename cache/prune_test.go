package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1000 * 1000

func TestPrune(t *testing.T) {
	t.Run("no-op within budget", func(t *testing.T) {
		s := openTestStore(t, "")
		commitEntry(t, s, testURL, "a", 40*mb)

		report, err := NewPruner(s, 100*mb).Prune()
		require.NoError(t, err)
		assert.Empty(t, report.Removed)
		assert.Equal(t, int64(40*mb), report.Before)
		assert.Equal(t, report.Before, report.After)
	})

	t.Run("evicts old unprotected entry", func(t *testing.T) {
		clock := newFakeClock()
		s := openTestStore(t, "", WithClock(clock.Now))

		clock.Advance(-48 * time.Hour)
		x := commitEntry(t, s, "https://example.com/x", "main", 60*mb)
		clock.Advance(48 * time.Hour)
		y := commitEntry(t, s, "https://example.com/y", "main", 50*mb)

		report, err := NewPruner(s, 100*mb).Prune(y.Key)
		require.NoError(t, err)

		require.Len(t, report.Removed, 1)
		assert.Equal(t, x.Key, report.Removed[0].Key)
		assert.Equal(t, int64(110*mb), report.Before)
		assert.Equal(t, int64(50*mb), report.After)
		assert.Equal(t, int64(60*mb), report.Reclaimed)

		total, err := s.TotalSize()
		require.NoError(t, err)
		assert.Equal(t, int64(50*mb), total)
		assert.NoDirExists(t, x.Path)
		assert.DirExists(t, y.Path)
	})

	t.Run("stops once within budget", func(t *testing.T) {
		clock := newFakeClock()
		s := openTestStore(t, "", WithClock(clock.Now))

		a := commitEntry(t, s, testURL, "a", 30*mb)
		clock.Advance(time.Minute)
		b := commitEntry(t, s, testURL, "b", 30*mb)
		clock.Advance(time.Minute)
		commitEntry(t, s, testURL, "c", 30*mb)

		report, err := NewPruner(s, 60*mb).Prune()
		require.NoError(t, err)
		require.Len(t, report.Removed, 1)
		assert.Equal(t, a.Key, report.Removed[0].Key)

		_, ok, err := s.Lookup(testURL, "b")
		require.NoError(t, err)
		assert.True(t, ok, "entry %s evicted needlessly", b.Key.Short())
	})

	t.Run("never evicts protected entries", func(t *testing.T) {
		clock := newFakeClock()
		s := openTestStore(t, "", WithClock(clock.Now))

		old := commitEntry(t, s, testURL, "old", 80*mb)
		clock.Advance(time.Hour)
		unprotected := commitEntry(t, s, testURL, "new", 10*mb)

		report, err := NewPruner(s, 50*mb).Prune(old.Key)
		require.NoError(t, err)

		require.Len(t, report.Removed, 1)
		assert.Equal(t, unprotected.Key, report.Removed[0].Key)
		assert.Equal(t, int64(80*mb), report.After, "deficit is tolerated")
		assert.DirExists(t, old.Path)
	})

	t.Run("skips in-progress entries", func(t *testing.T) {
		s := openTestStore(t, "")
		commitEntry(t, s, testURL, "a", 10*mb)

		lease, err := s.Reserve(t.Context(), testURL, "building")
		require.NoError(t, err)
		defer lease.Release()

		report, err := NewPruner(s, 0).Prune()
		require.NoError(t, err)
		assert.Len(t, report.Removed, 1)

		_, ok, err := s.Lookup(testURL, "building")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("logs and skips entries it cannot remove", func(t *testing.T) {
		clock := newFakeClock()
		root := t.TempDir()
		s := openTestStore(t, root, WithClock(clock.Now))
		other := openTestStore(t, root)

		busy := commitEntry(t, s, testURL, "busy", 40*mb)
		clock.Advance(time.Hour)
		idle := commitEntry(t, s, testURL, "idle", 40*mb)

		lease, err := other.Reserve(t.Context(), busy.URL, busy.Ref)
		require.NoError(t, err)
		defer lease.Release()

		report, err := NewPruner(s, 50*mb).Prune()
		require.NoError(t, err)

		require.Len(t, report.Failures, 1)
		assert.Equal(t, busy.Key, report.Failures[0].Entry.Key)
		require.Len(t, report.Removed, 1)
		assert.Equal(t, idle.Key, report.Removed[0].Key)
	})
}

func TestSortForEviction(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Key: "c", LastUsedAt: base, SizeBytes: 10},
		{Key: "d", LastUsedAt: base.Add(time.Hour), SizeBytes: 99},
		{Key: "a", LastUsedAt: base, SizeBytes: 50},
		{Key: "b", LastUsedAt: base, SizeBytes: 10},
	}

	sortForEviction(entries)

	var keys []Key
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []Key{"a", "b", "c", "d"}, keys)
}
