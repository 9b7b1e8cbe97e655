package cache

import (
	"context"
	"sync"

	"github.com/go-git/go-billy/v5/util"
	"github.com/gofrs/flock"
	platformerrors "github.com/jmgilman/go/errors"
)

// Lease is an exclusive hold on one cache key, backed by a lock file under
// locks/. Because the lock lives on the filesystem it serializes fetches
// across processes as well as goroutines. Lock files are never deleted.
type Lease struct {
	store *Store
	key   Key
	url   string
	ref   string
	lock  *flock.Flock

	mu   sync.Mutex
	done bool
}

// Reserve acquires the lease for (url, ref). When the key has no fresh entry
// the reservation is recorded as an in-progress entry so that reconciliation
// in other processes can tell an active fetch from a crashed one.
//
// If the lease is held elsewhere, Reserve follows the store's contention
// policy: ContentionFail returns a CONTENTION error at once, ContentionWait
// polls until the lease timeout and then returns a TIMEOUT error. A canceled
// context yields a CANCELED error.
//
// Example:
//
//	lease, err := store.Reserve(ctx, url, ref)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
func (s *Store) Reserve(ctx context.Context, rawURL, ref string) (*Lease, error) {
	key := NewKey(rawURL, ref)

	lock, err := s.acquire(ctx, key, rawURL, ref)
	if err != nil {
		return nil, err
	}

	err = s.update(func(idx *index) (bool, error) {
		if e, ok := idx.Entries[key]; ok && e.Fresh() {
			return false, nil
		}
		now := s.opts.now()
		idx.Entries[key] = &Entry{
			Key:        key,
			URL:        rawURL,
			Ref:        ref,
			Path:       s.SlotPath(key),
			CreatedAt:  now,
			LastUsedAt: now,
			State:      StateInProgress,
		}
		return true, nil
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &Lease{store: s, key: key, url: rawURL, ref: ref, lock: lock}, nil
}

func (s *Store) acquire(ctx context.Context, key Key, rawURL, ref string) (*flock.Flock, error) {
	if err := ctx.Err(); err != nil {
		return nil, leaseWaitError(ctx, ctx, err, key, rawURL, ref)
	}

	lock := flock.New(s.lockPath(key))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, diskError(err, "failed to acquire lease", lock.Path())
	}
	if ok {
		return lock, nil
	}

	if s.opts.policy == ContentionFail {
		return nil, contentionError(key, rawURL, ref)
	}

	s.opts.logger.Info("Waiting for lease held by another fetch",
		"url", label(rawURL), "ref", ref, "key", key.Short(), "timeout", s.opts.leaseTimeout)

	wait := ctx
	if s.opts.leaseTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, s.opts.leaseTimeout)
		defer cancel()
	}

	ok, err = lock.TryLockContext(wait, s.opts.pollInterval)
	if ok {
		return lock, nil
	}
	return nil, leaseWaitError(ctx, wait, err, key, rawURL, ref)
}

// Key returns the leased cache key.
func (l *Lease) Key() Key {
	return l.key
}

// Path returns the clone slot owned by this lease.
func (l *Lease) Path() string {
	return l.store.SlotPath(l.key)
}

// Reset prepares an empty slot for a new fetch: the entry is marked in
// progress and any previous slot contents are deleted.
func (l *Lease) Reset() error {
	if err := l.check(); err != nil {
		return err
	}

	s := l.store
	err := s.update(func(idx *index) (bool, error) {
		e, ok := idx.Entries[l.key]
		if ok && e.State == StateInProgress && e.Path == l.Path() {
			return false, nil
		}
		now := s.opts.now()
		if !ok {
			e = &Entry{Key: l.key, URL: l.url, Ref: l.ref, CreatedAt: now}
			idx.Entries[l.key] = e
		}
		e.Path = l.Path()
		e.SizeBytes = 0
		e.LastUsedAt = now
		e.State = StateInProgress
		return true, nil
	})
	if err != nil {
		return err
	}

	if err := util.RemoveAll(s.fs, l.Path()); err != nil {
		return diskError(err, "failed to clear clone slot", l.Path())
	}
	return nil
}

// Commit registers the slot as the fresh entry for the leased key.
func (l *Lease) Commit(size int64) (Entry, error) {
	if err := l.check(); err != nil {
		return Entry{}, err
	}
	return l.store.Commit(l.url, l.ref, l.Path(), size)
}

// Abort removes the slot and the key's entry, then releases the lease.
// It is the cleanup path for a failed fetch and leaves no partial state.
func (l *Lease) Abort() error {
	if err := l.check(); err != nil {
		return err
	}

	err := l.store.purge(l.key)
	if releaseErr := l.Release(); err == nil {
		err = releaseErr
	}
	return err
}

// Release gives up the lease. It is safe to call more than once.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return nil
	}
	l.done = true

	if err := l.lock.Unlock(); err != nil {
		return diskError(err, "failed to release lease", l.lock.Path())
	}
	return nil
}

func (l *Lease) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return platformerrors.WithContext(
			platformerrors.New(platformerrors.CodeInternal, "lease already released"),
			"key", string(l.key),
		)
	}
	return nil
}
