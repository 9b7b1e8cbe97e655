package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/kay-mw/mkdockyard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testURL = "https://github.com/my/repo"
	testRef = "v1.0.0"
)

func TestOpen(t *testing.T) {
	t.Run("creates layout", func(t *testing.T) {
		root := t.TempDir()
		s := openTestStore(t, root)

		assert.Equal(t, root, s.Root())
		assert.DirExists(t, filepath.Join(root, "repos"))
		assert.DirExists(t, filepath.Join(root, "locks"))
	})

	t.Run("empty root is invalid", func(t *testing.T) {
		_, err := Open("")
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidConfig, mkdockyard.Kind(err))
	})

	t.Run("entries survive reopening", func(t *testing.T) {
		root := t.TempDir()
		s1 := openTestStore(t, root)
		committed := commitEntry(t, s1, testURL, testRef, 100)
		require.NoError(t, s1.Close())

		s2 := openTestStore(t, root)
		got, ok, err := s2.Lookup(testURL, testRef)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, committed.Path, got.Path)
		assert.Equal(t, StateFresh, got.State)
	})
}

func TestStoreCommitAndLookup(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, "", WithClock(clock.Now))

	_, ok, err := s.Lookup(testURL, testRef)
	require.NoError(t, err)
	assert.False(t, ok)

	created := clock.Now()
	e := commitEntry(t, s, testURL, testRef, 1234)
	assert.Equal(t, NewKey(testURL, testRef), e.Key)
	assert.Equal(t, StateFresh, e.State)
	assert.Equal(t, int64(1234), e.SizeBytes)
	assert.True(t, e.CreatedAt.Equal(created))

	clock.Advance(time.Hour)
	recommitted, err := s.Commit(testURL, testRef, e.Path, 2000)
	require.NoError(t, err)
	assert.True(t, recommitted.CreatedAt.Equal(created), "CreatedAt is kept on re-commit")
	assert.True(t, recommitted.LastUsedAt.Equal(clock.Now()))

	total, err := s.TotalSize()
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total)
}

func TestStoreTouch(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, "", WithClock(clock.Now))
	e := commitEntry(t, s, testURL, testRef, 10)

	clock.Advance(48 * time.Hour)
	require.NoError(t, s.Touch(testURL, testRef))

	got, _, err := s.Lookup(testURL, testRef)
	require.NoError(t, err)
	assert.True(t, got.LastUsedAt.Equal(clock.Now()))
	assert.Equal(t, e.Path, got.Path, "touch never moves the clone")

	err = s.Touch(testURL, "missing")
	assert.Equal(t, errors.CodeNotFound, mkdockyard.Kind(err))
}

func TestStoreRemove(t *testing.T) {
	t.Run("deletes entry and clone", func(t *testing.T) {
		s := openTestStore(t, "")
		e := commitEntry(t, s, testURL, testRef, 10)

		require.NoError(t, s.Remove(testURL, testRef))

		_, ok, err := s.Lookup(testURL, testRef)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoDirExists(t, e.Path)
	})

	t.Run("missing entry", func(t *testing.T) {
		s := openTestStore(t, "")
		err := s.Remove(testURL, testRef)
		assert.Equal(t, errors.CodeNotFound, mkdockyard.Kind(err))
	})

	t.Run("refuses while leased", func(t *testing.T) {
		root := t.TempDir()
		s := openTestStore(t, root)
		other := openTestStore(t, root)
		e := commitEntry(t, s, testURL, testRef, 10)

		lease, err := other.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		defer lease.Release()

		err = s.Remove(testURL, testRef)
		assert.Equal(t, mkdockyard.CodeContention, mkdockyard.Kind(err))
		assert.DirExists(t, e.Path)
	})
}

func TestStoreVerify(t *testing.T) {
	s := openTestStore(t, "")
	e := commitEntry(t, s, testURL, testRef, 10)

	require.NoError(t, s.Verify(e))

	require.NoError(t, os.RemoveAll(e.Path))
	err := s.Verify(e)
	assert.Equal(t, mkdockyard.CodeCorruption, mkdockyard.Kind(err))

	writeFile(t, e.Path, "not a directory")
	err = s.Verify(e)
	assert.Equal(t, mkdockyard.CodeCorruption, mkdockyard.Kind(err))
}

func TestStoreMeasureSize(t *testing.T) {
	s := openTestStore(t, "")
	dir := filepath.Join(t.TempDir(), "clone")
	writeFile(t, filepath.Join(dir, "a.txt"), "12345")
	writeFile(t, filepath.Join(dir, "pkg", "b.txt"), "123")

	size, err := s.MeasureSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	_, err = s.MeasureSize(filepath.Join(dir, "missing"))
	assert.Equal(t, mkdockyard.CodeDisk, mkdockyard.Kind(err))
}

func TestStoreStats(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, "", WithClock(clock.Now))

	oldest := clock.Now()
	commitEntry(t, s, testURL, "a", 10)
	clock.Advance(time.Hour)
	commitEntry(t, s, testURL, "b", 20)

	lease, err := s.Reserve(t.Context(), testURL, "c")
	require.NoError(t, err)
	defer lease.Release()

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.Fresh)
	assert.Equal(t, 1, stats.InProgress)
	assert.Equal(t, int64(30), stats.TotalSize)
	require.NotNil(t, stats.OldestUse)
	assert.True(t, stats.OldestUse.Equal(oldest))
	assert.True(t, stats.NewestUse.Equal(clock.Now()))
}

func TestStoreClose(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, _, err = s.Lookup(testURL, testRef)
	assert.Equal(t, errors.CodeInternal, mkdockyard.Kind(err))

	_, err = s.Commit(testURL, testRef, "/tmp/x", 1)
	assert.Equal(t, errors.CodeInternal, mkdockyard.Kind(err))
}
