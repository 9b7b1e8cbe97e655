package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for LastUsedAt ordering.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T, root string, opts ...Option) *Store {
	t.Helper()
	if root == "" {
		root = t.TempDir()
	}
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	s, err := Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// commitEntry materializes a fake clone in the key's slot and commits it with
// the given recorded size.
func commitEntry(t *testing.T, s *Store, url, ref string, size int64) Entry {
	t.Helper()
	path := s.SlotPath(NewKey(url, ref))
	writeFile(t, filepath.Join(path, "README.md"), "hello")
	e, err := s.Commit(url, ref, path, size)
	require.NoError(t, err)
	return e
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
