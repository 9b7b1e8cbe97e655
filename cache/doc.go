// Package cache stores shallow repository clones on disk and keeps them
// consistent across concurrent builds.
//
// # Overview
//
// The cache maintains:
//
//  1. Clone slots: one directory per (url, ref) cache key
//  2. Metadata index: one JSON record per key with size and usage times
//  3. Leases: one lock file per key serializing fetches across processes
//
// # Layout
//
//	~/.cache/mkdockyard/
//	├── index.json          # Metadata index, replaced atomically
//	├── index.lock          # Held while the index is rewritten
//	├── locks/
//	│   └── <key>.lock      # Per-key lease
//	└── repos/
//	    └── <key>/          # Shallow clone contents
//
// # Usage
//
// Reserve a key, fill its slot and commit:
//
//	store, err := cache.Open(root)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	lease, err := store.Reserve(ctx, url, ref)
//	if err != nil {
//	    return err
//	}
//	if err := lease.Reset(); err != nil {
//	    lease.Abort()
//	    return err
//	}
//	// ... fetch into lease.Path() ...
//	entry, err := lease.Commit(size)
//	lease.Release()
//
// Evict least recently used entries after a build:
//
//	report, err := cache.NewPruner(store, budget).Prune(buildKeys...)
//
// # Consistency
//
// A clone directory exists if and only if its entry is fresh. Open reconciles
// the two and purges whatever disagrees, so a crash mid-fetch or mid-removal
// never leaves an entry that is served.
package cache
