package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kay-mw/mkdockyard/cache"
	"github.com/kay-mw/mkdockyard/git"
)

const (
	urlU = "https://example.com/org/u.git"
	urlV = "https://example.com/org/v.git"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

// fakeTransport writes a small checkout instead of talking to a remote.
// fail, when set, decides the outcome of each call before anything is
// written to a complete checkout.
type fakeTransport struct {
	mu       sync.Mutex
	calls    map[string]int
	active   int
	maxSeen  int
	delay    time.Duration
	fail     func(req git.FetchRequest, call int) error
	requests []git.FetchRequest
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: make(map[string]int)}
}

func (f *fakeTransport) Fetch(ctx context.Context, req git.FetchRequest) error {
	id := req.URL + "@" + req.Ref

	f.mu.Lock()
	f.calls[id]++
	call := f.calls[id]
	f.requests = append(f.requests, req)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return err
	}
	// Leave something behind so cleanup is observable on failure.
	if err := os.WriteFile(filepath.Join(req.Dir, "partial"), []byte("x"), 0o644); err != nil {
		return err
	}

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}

	if f.fail != nil {
		if err := f.fail(req, call); err != nil {
			return err
		}
	}

	content := fmt.Sprintf("site_name: %s\n", id)
	return os.WriteFile(filepath.Join(req.Dir, "mkdocs.yml"), []byte(content), 0o644)
}

func (f *fakeTransport) Calls(rawURL, ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL+"@"+ref]
}

func (f *fakeTransport) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeTransport) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// clock is a settable time source for the store.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openStore(t *testing.T, root string, opts ...cache.Option) *cache.Store {
	t.Helper()
	if root == "" {
		root = t.TempDir()
	}
	opts = append([]cache.Option{cache.WithPollInterval(5 * time.Millisecond)}, opts...)
	store, err := cache.Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
