package cache

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
	platformerrors "github.com/jmgilman/go/errors"
)

// Open opens the cache rooted at root, creating the directory layout on first
// use, and reconciles the index with the filesystem before returning.
//
// The root typically points to the per-user cache directory, for example
// ~/.cache/mkdockyard. The store creates two subdirectories (repos/, locks/),
// an index.json file and an index.lock file.
//
// Example:
//
//	store, err := cache.Open("/home/me/.cache/mkdockyard",
//	    cache.WithLeaseTimeout(time.Minute),
//	    cache.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(root string, opts ...Option) (*Store, error) {
	options := defaultStoreOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.fs == nil {
		options.fs = osfs.New("/")
	}

	if root == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "cache root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to resolve cache root")
	}

	s := &Store{
		root:      abs,
		reposDir:  filepath.Join(abs, "repos"),
		locksDir:  filepath.Join(abs, "locks"),
		indexPath: filepath.Join(abs, "index.json"),
		fs:        options.fs,
		indexLock: flock.New(filepath.Join(abs, "index.lock")),
		opts:      options,
	}

	for _, dir := range []string{s.reposDir, s.locksDir} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, diskError(err, "failed to create cache directory", dir)
		}
	}

	if _, err := s.Reconcile(); err != nil {
		return nil, err
	}

	return s, nil
}

// Close releases the store. Later calls on the store fail; leases already
// granted stay valid until released.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.indexLock.Close()
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// SlotPath returns the clone directory for key.
func (s *Store) SlotPath(key Key) string {
	return filepath.Join(s.reposDir, string(key))
}

func (s *Store) lockPath(key Key) string {
	return filepath.Join(s.locksDir, string(key)+".lock")
}

// Lookup returns the entry for (url, ref). It reads the index from disk and
// never mutates it; the atomic index rename means a reader never observes a
// partially written entry.
func (s *Store) Lookup(rawURL, ref string) (Entry, bool, error) {
	idx, err := s.snapshot()
	if err != nil {
		return Entry{}, false, err
	}

	e, ok := idx.Entries[NewKey(rawURL, ref)]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

// Commit registers the clone at localPath as the fresh entry for (url, ref)
// and stamps LastUsedAt. CreatedAt is kept when the entry already existed.
// Callers are expected to hold the key's lease.
func (s *Store) Commit(rawURL, ref, localPath string, size int64) (Entry, error) {
	key := NewKey(rawURL, ref)
	var committed Entry

	err := s.update(func(idx *index) (bool, error) {
		now := s.opts.now()
		e, ok := idx.Entries[key]
		if !ok {
			e = &Entry{Key: key, URL: rawURL, Ref: ref, CreatedAt: now}
			idx.Entries[key] = e
		}
		e.Path = localPath
		e.SizeBytes = size
		e.LastUsedAt = now
		e.State = StateFresh
		committed = *e
		return true, nil
	})
	if err != nil {
		return Entry{}, err
	}

	s.opts.logger.Debug("Committed cache entry",
		"url", rawURL, "ref", ref, "key", key.Short(), "bytes", size)
	return committed, nil
}

// Touch updates LastUsedAt of the fresh entry for (url, ref).
func (s *Store) Touch(rawURL, ref string) error {
	key := NewKey(rawURL, ref)
	return s.update(func(idx *index) (bool, error) {
		e, ok := idx.Entries[key]
		if !ok || !e.Fresh() {
			return false, notFoundError(key, rawURL, ref)
		}
		e.LastUsedAt = s.opts.now()
		return true, nil
	})
}

// Remove evicts the entry for (url, ref): it is marked stale, its clone is
// deleted and the entry is dropped. Remove fails with CONTENTION while another
// holder owns the key's lease, and with NOT_FOUND when there is no entry.
func (s *Store) Remove(rawURL, ref string) error {
	key := NewKey(rawURL, ref)

	if _, ok, err := s.Lookup(rawURL, ref); err != nil {
		return err
	} else if !ok {
		return notFoundError(key, rawURL, ref)
	}

	lock, ok := s.tryLease(key)
	if !ok {
		return contentionError(key, rawURL, ref)
	}
	defer func() { _ = lock.Unlock() }()

	return s.purge(key)
}

// List returns a copy of every entry, ordered by key.
func (s *Store) List() ([]Entry, error) {
	idx, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return idx.sorted(), nil
}

// TotalSize returns the summed SizeBytes of fresh entries.
func (s *Store) TotalSize() (int64, error) {
	idx, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	return idx.totalSize(), nil
}

// Stats returns statistics about the cache.
func (s *Store) Stats() (*Stats, error) {
	idx, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Entries:   len(idx.Entries),
		TotalSize: idx.totalSize(),
	}

	for _, e := range idx.Entries {
		switch e.State {
		case StateFresh:
			stats.Fresh++
		case StateInProgress:
			stats.InProgress++
			continue
		default:
			continue
		}

		if stats.OldestUse == nil || e.LastUsedAt.Before(*stats.OldestUse) {
			t := e.LastUsedAt
			stats.OldestUse = &t
		}
		if stats.NewestUse == nil || e.LastUsedAt.After(*stats.NewestUse) {
			t := e.LastUsedAt
			stats.NewestUse = &t
		}
	}

	return stats, nil
}

// Verify checks that a fresh entry's clone directory is still on disk.
// A mismatch is reported as CACHE_CORRUPTION.
func (s *Store) Verify(entry Entry) error {
	info, err := s.fs.Stat(entry.Path)
	if os.IsNotExist(err) {
		return CorruptionError(entry, "clone directory is missing")
	}
	if err != nil {
		return diskError(err, "failed to stat clone directory", entry.Path)
	}
	if !info.IsDir() {
		return CorruptionError(entry, "clone path is not a directory")
	}
	return nil
}

// update runs fn against the on-disk index while holding the index lock and
// saves the result when fn reports a change.
func (s *Store) update(fn func(idx *index) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	if err := s.indexLock.Lock(); err != nil {
		return diskError(err, "failed to lock index", s.indexLock.Path())
	}
	defer func() { _ = s.indexLock.Unlock() }()

	idx, err := s.load()
	if err != nil {
		return err
	}

	changed, err := fn(idx)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := idx.save(s.fs, s.indexPath); err != nil {
		return diskError(err, "failed to save index", s.indexPath)
	}
	return nil
}

// snapshot loads the index without taking the index lock.
func (s *Store) snapshot() (*index, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errClosed
	}
	return s.load()
}

func (s *Store) load() (*index, error) {
	idx, err := loadIndex(s.fs, s.indexPath)
	if errors.Is(err, errCorruptIndex) {
		s.opts.logger.Warn("Discarding unreadable cache index", "path", s.indexPath, "error", err)
		return newIndex(), nil
	}
	if err != nil {
		return nil, diskError(err, "failed to load index", s.indexPath)
	}
	return idx, nil
}

// purge marks the entry stale, deletes its clone and slot, then drops it.
// The caller must hold the key's lease.
func (s *Store) purge(key Key) error {
	var recorded string

	err := s.update(func(idx *index) (bool, error) {
		e, ok := idx.Entries[key]
		if !ok {
			return false, nil
		}
		recorded = e.Path
		if e.State == StateStale {
			return false, nil
		}
		e.State = StateStale
		return true, nil
	})
	if err != nil {
		return err
	}

	if err := s.removeSlot(key, recorded); err != nil {
		return err
	}

	return s.update(func(idx *index) (bool, error) {
		if _, ok := idx.Entries[key]; !ok {
			return false, nil
		}
		delete(idx.Entries, key)
		return true, nil
	})
}

// tryLease takes the key's lease without waiting.
func (s *Store) tryLease(key Key) (*flock.Flock, bool) {
	lock := flock.New(s.lockPath(key))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return nil, false
	}
	return lock, true
}

func (s *Store) dirExists(path string) bool {
	info, err := s.fs.Stat(path)
	return err == nil && info.IsDir()
}
