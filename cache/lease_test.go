package cache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/kay-mw/mkdockyard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve(t *testing.T) {
	t.Run("records in-progress entry", func(t *testing.T) {
		s := openTestStore(t, "")

		lease, err := s.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		defer lease.Release()

		assert.Equal(t, NewKey(testURL, testRef), lease.Key())
		assert.Equal(t, s.SlotPath(lease.Key()), lease.Path())

		e, ok, err := s.Lookup(testURL, testRef)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StateInProgress, e.State)
	})

	t.Run("keeps fresh entry", func(t *testing.T) {
		s := openTestStore(t, "")
		commitEntry(t, s, testURL, testRef, 10)

		lease, err := s.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		defer lease.Release()

		e, _, err := s.Lookup(testURL, testRef)
		require.NoError(t, err)
		assert.Equal(t, StateFresh, e.State)
	})

	t.Run("fail policy reports contention", func(t *testing.T) {
		root := t.TempDir()
		holder := openTestStore(t, root)
		s := openTestStore(t, root, WithContentionPolicy(ContentionFail))

		lease, err := holder.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		defer lease.Release()

		_, err = s.Reserve(t.Context(), testURL, testRef)
		assert.Equal(t, mkdockyard.CodeContention, mkdockyard.Kind(err))
	})

	t.Run("wait policy times out", func(t *testing.T) {
		root := t.TempDir()
		holder := openTestStore(t, root)
		s := openTestStore(t, root, WithLeaseTimeout(50*time.Millisecond))

		lease, err := holder.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		defer lease.Release()

		start := time.Now()
		_, err = s.Reserve(t.Context(), testURL, testRef)
		assert.Equal(t, errors.CodeTimeout, mkdockyard.Kind(err))
		assert.False(t, errors.IsRetryable(err))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("wait policy acquires after release", func(t *testing.T) {
		root := t.TempDir()
		holder := openTestStore(t, root)
		s := openTestStore(t, root, WithLeaseTimeout(5*time.Second))

		lease, err := holder.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = lease.Release()
		}()

		second, err := s.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		assert.NoError(t, second.Release())
	})

	t.Run("canceled context", func(t *testing.T) {
		root := t.TempDir()
		holder := openTestStore(t, root)
		s := openTestStore(t, root, WithLeaseTimeout(0))

		lease, err := holder.Reserve(t.Context(), testURL, testRef)
		require.NoError(t, err)
		defer lease.Release()

		ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
		defer cancel()

		_, err = s.Reserve(ctx, testURL, testRef)
		assert.Equal(t, mkdockyard.CodeCanceled, mkdockyard.Kind(err))
	})

	t.Run("serializes goroutines in one process", func(t *testing.T) {
		s := openTestStore(t, "", WithLeaseTimeout(5*time.Second))

		var active, maxActive atomic.Int32
		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease, err := s.Reserve(context.Background(), testURL, testRef)
				if !assert.NoError(t, err) {
					return
				}
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				_ = lease.Release()
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxActive.Load())
	})
}

func TestLeaseReset(t *testing.T) {
	s := openTestStore(t, "")
	commitEntry(t, s, testURL, testRef, 10)

	lease, err := s.Reserve(t.Context(), testURL, testRef)
	require.NoError(t, err)
	defer lease.Release()

	require.NoError(t, lease.Reset())
	assert.NoDirExists(t, lease.Path())

	e, _, err := s.Lookup(testURL, testRef)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, e.State)
	assert.Equal(t, int64(0), e.SizeBytes)
}

func TestLeaseCommit(t *testing.T) {
	s := openTestStore(t, "")

	lease, err := s.Reserve(t.Context(), testURL, testRef)
	require.NoError(t, err)
	require.NoError(t, lease.Reset())
	writeFile(t, filepath.Join(lease.Path(), "mod.py"), "x = 1")

	e, err := lease.Commit(5)
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	assert.Equal(t, StateFresh, e.State)
	assert.Equal(t, lease.Path(), e.Path)
	assert.NoError(t, s.Verify(e))
}

func TestLeaseAbort(t *testing.T) {
	s := openTestStore(t, "")

	lease, err := s.Reserve(t.Context(), testURL, testRef)
	require.NoError(t, err)
	writeFile(t, filepath.Join(lease.Path(), "partial"), "half a clone")

	require.NoError(t, lease.Abort())

	_, ok, err := s.Lookup(testURL, testRef)
	require.NoError(t, err)
	assert.False(t, ok, "no entry survives an aborted fetch")
	assert.NoDirExists(t, lease.Path())

	// The lease is released: another reservation succeeds immediately.
	again, err := openTestStore(t, s.Root(), WithContentionPolicy(ContentionFail)).
		Reserve(t.Context(), testURL, testRef)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestLeaseRelease(t *testing.T) {
	s := openTestStore(t, "")

	lease, err := s.Reserve(t.Context(), testURL, testRef)
	require.NoError(t, err)

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release())

	_, err = lease.Commit(1)
	assert.Equal(t, errors.CodeInternal, mkdockyard.Kind(err))
	assert.Error(t, lease.Abort())
}
