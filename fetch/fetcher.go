package fetch

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"
	platformerrors "github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/kay-mw/mkdockyard"
	"github.com/kay-mw/mkdockyard/cache"
	"github.com/kay-mw/mkdockyard/git"
)

// entryStore is the part of *cache.Store the Fetcher depends on.
type entryStore interface {
	Lookup(rawURL, ref string) (cache.Entry, bool, error)
	Verify(entry cache.Entry) error
	Touch(rawURL, ref string) error
	Remove(rawURL, ref string) error
	Reserve(ctx context.Context, rawURL, ref string) (*cache.Lease, error)
	MeasureSize(path string) (int64, error)
}

// Fetcher makes one descriptor's repository available in the cache, fetching
// it only when no usable entry exists.
type Fetcher struct {
	store     entryStore
	transport git.Transport
	opts      options
	group     singleflight.Group
}

// Result is the outcome of a successful Fetch.
type Result struct {
	Entry   cache.Entry
	Fetched bool // False when an existing entry was reused
}

// NewFetcher creates a Fetcher that stores clones in store and downloads
// them with transport.
//
// Example:
//
//	f := fetch.NewFetcher(store, git.NewCLITransport(),
//	    fetch.WithRetryPolicy(fetch.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second}))
//	res, err := f.Fetch(ctx, mkdockyard.Descriptor{Name: "theme", URL: url, Ref: "v2"})
func NewFetcher(store *cache.Store, transport git.Transport, opts ...Option) *Fetcher {
	return &Fetcher{
		store:     store,
		transport: transport,
		opts:      applyOptions(opts),
	}
}

// Fetch returns the cache entry for d.URL at d.Ref.
//
// A fresh entry whose directory still exists is reused without touching the
// network and its last-use time is refreshed. A fresh entry whose directory
// is gone is discarded and fetched again. Otherwise the key is leased, the
// slot cleared and the ref fetched with the retry policy, then measured and
// committed. Any failure after the lease is granted removes the slot and the
// entry before the lease is released.
//
// Concurrent calls for the same (url, ref) in this process share one fetch.
// The shared call runs under the context of the caller that started it.
func (f *Fetcher) Fetch(ctx context.Context, d mkdockyard.Descriptor) (*Result, error) {
	key := cache.NewKey(d.URL, d.Ref)

	v, err, _ := f.group.Do(string(key), func() (interface{}, error) {
		return f.fetch(ctx, d, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (f *Fetcher) fetch(ctx context.Context, d mkdockyard.Descriptor, key cache.Key) (*Result, error) {
	logger := f.opts.logger.With("name", d.Name, "url", d.URL, "ref", d.Ref, "key", key.Short())

	if res, ok, err := f.reuse(d, logger); err != nil || ok {
		return res, err
	}

	lease, err := f.store.Reserve(ctx, d.URL, d.Ref)
	if err != nil {
		return nil, err
	}

	// Another process may have committed while we waited for the lease.
	if res, ok, err := f.reuse(d, logger); err != nil || ok {
		if releaseErr := lease.Release(); err == nil {
			err = releaseErr
		}
		return res, err
	}

	entry, err := f.fill(ctx, lease, d, logger)
	if err != nil {
		if abortErr := lease.Abort(); abortErr != nil {
			logger.Warn("Failed to clean up after failed fetch", "path", lease.Path(), "error", abortErr)
		}
		return nil, err
	}

	if err := lease.Release(); err != nil {
		return nil, err
	}
	return &Result{Entry: entry, Fetched: true}, nil
}

// reuse serves an existing fresh entry. A corrupt entry is removed and
// reported as a miss, as is one removed by a concurrent prune.
func (f *Fetcher) reuse(d mkdockyard.Descriptor, logger *slog.Logger) (*Result, bool, error) {
	entry, ok, err := f.store.Lookup(d.URL, d.Ref)
	if err != nil || !ok || !entry.Fresh() {
		return nil, false, err
	}

	if err := f.store.Verify(entry); err != nil {
		if !mkdockyard.IsKind(err, mkdockyard.CodeCorruption) {
			return nil, false, err
		}
		logger.Warn("Discarding corrupt cache entry", "path", entry.Path, "error", err)
		if err := f.store.Remove(d.URL, d.Ref); err != nil &&
			!mkdockyard.IsKind(err, platformerrors.CodeNotFound) &&
			!mkdockyard.IsKind(err, mkdockyard.CodeContention) {
			return nil, false, err
		}
		return nil, false, nil
	}

	if err := f.store.Touch(d.URL, d.Ref); err != nil {
		// Evicted by another process since the lookup.
		if mkdockyard.IsKind(err, platformerrors.CodeNotFound) {
			logger.Debug("Cached repository vanished before reuse", "path", entry.Path)
			return nil, false, nil
		}
		return nil, false, err
	}

	logger.Info("Reusing cached repository", "path", entry.Path)
	return &Result{Entry: entry}, true, nil
}

// fill downloads the ref into the leased slot and commits it.
func (f *Fetcher) fill(ctx context.Context, lease *cache.Lease, d mkdockyard.Descriptor, logger *slog.Logger) (cache.Entry, error) {
	logger.Info("Fetching repository")

	err := f.opts.retry.Do(ctx, logger, func(ctx context.Context, attempt int) error {
		logger.Debug("Running transport", "attempt", attempt, "path", lease.Path())
		if err := lease.Reset(); err != nil {
			return err
		}
		return f.transport.Fetch(ctx, git.FetchRequest{
			URL:  d.URL,
			Ref:  d.Ref,
			Dir:  lease.Path(),
			Auth: f.opts.auth,
		})
	})
	if err != nil {
		return cache.Entry{}, err
	}

	size, err := f.store.MeasureSize(lease.Path())
	if err != nil {
		return cache.Entry{}, err
	}

	entry, err := lease.Commit(size)
	if err != nil {
		return cache.Entry{}, err
	}

	logger.Info("Fetched repository", "path", entry.Path, "bytes", size, "size", humanize.Bytes(uint64(size))) //nolint:gosec // sizes are non-negative
	return entry, nil
}
