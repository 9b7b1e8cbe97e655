package cache

import (
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"
)

const (
	defaultLeaseTimeout = 10 * time.Minute
	defaultPollInterval = 100 * time.Millisecond
)

func defaultStoreOptions() storeOptions {
	return storeOptions{
		logger:       slog.New(slog.DiscardHandler),
		policy:       ContentionWait,
		leaseTimeout: defaultLeaseTimeout,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
}

// WithLogger sets the structured logger used for lease waits, reconciliation
// and eviction messages. Defaults to a logger that discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *storeOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithContentionPolicy sets how Reserve behaves when a lease is held elsewhere.
//
// Example:
//
//	store, err := cache.Open(root, cache.WithContentionPolicy(cache.ContentionFail))
func WithContentionPolicy(policy ContentionPolicy) Option {
	return func(opts *storeOptions) {
		opts.policy = policy
	}
}

// WithLeaseTimeout bounds how long Reserve waits for a held lease under
// ContentionWait. A non-positive value waits until the context is done.
//
// Example:
//
//	store, err := cache.Open(root, cache.WithLeaseTimeout(30*time.Second))
func WithLeaseTimeout(timeout time.Duration) Option {
	return func(opts *storeOptions) {
		opts.leaseTimeout = timeout
	}
}

// WithPollInterval sets the delay between lease acquisition attempts.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *storeOptions) {
		if interval > 0 {
			opts.pollInterval = interval
		}
	}
}

// WithClock overrides the time source used for CreatedAt and LastUsedAt.
func WithClock(now func() time.Time) Option {
	return func(opts *storeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// WithFilesystem sets the billy filesystem used for index and slot I/O.
// It must resolve absolute paths, since slot paths are handed to git and to
// the renderer. Defaults to osfs.New("/").
func WithFilesystem(fs billy.Filesystem) Option {
	return func(opts *storeOptions) {
		opts.fs = fs
	}
}
