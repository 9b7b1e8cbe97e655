package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/gofrs/flock"
)

// Store is a persistent, multi-process safe cache of shallow repository clones.
//
// Every entry is identified by the Key of its (url, ref) pair. The index of
// entries lives in a single JSON file that is only rewritten while holding an
// index lock file, and every clone slot is guarded by its own lease lock file,
// so independent processes sharing one cache root never step on each other.
type Store struct {
	root      string // Absolute cache root
	reposDir  string // repos/ subdirectory holding clone slots
	locksDir  string // locks/ subdirectory holding per-key lease files
	indexPath string // index.json path

	fs        billy.Filesystem // Filesystem abstraction for all I/O
	indexLock *flock.Flock     // Guards read-modify-write of index.json
	opts      storeOptions

	mu     sync.Mutex // Serializes indexLock use within this process
	closed bool
}

// State is the lifecycle state of an Entry.
type State string

const (
	// StateFresh marks a fully materialized clone that may be served.
	StateFresh State = "fresh"

	// StateInProgress marks a slot reserved by a fetch that has not committed.
	StateInProgress State = "in_progress"

	// StateStale marks an entry whose removal has started.
	StateStale State = "stale"
)

// Entry is the persisted record of one cached clone.
type Entry struct {
	Key        Key       `json:"key"`
	URL        string    `json:"url"`
	Ref        string    `json:"ref"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	State      State     `json:"state"`
}

// Fresh reports whether the entry can be served.
func (e Entry) Fresh() bool {
	return e.State == StateFresh
}

// Stats provides statistics about the cache.
type Stats struct {
	Entries    int   // Number of index entries in any state
	Fresh      int   // Number of servable entries
	InProgress int   // Number of entries with a fetch underway
	TotalSize  int64 // Sum of SizeBytes over fresh entries
	OldestUse  *time.Time
	NewestUse  *time.Time
}

// ContentionPolicy decides what Reserve does when another holder owns a lease.
type ContentionPolicy int

const (
	// ContentionWait polls for the lease until the lease timeout elapses and
	// then fails with a TIMEOUT error. A non-positive timeout waits until the
	// context ends.
	ContentionWait ContentionPolicy = iota

	// ContentionFail fails immediately with a CONTENTION error.
	ContentionFail
)

// String returns the configuration spelling of the policy.
func (p ContentionPolicy) String() string {
	switch p {
	case ContentionFail:
		return "fail"
	default:
		return "wait"
	}
}

// Option configures Store creation.
type Option func(*storeOptions)

type storeOptions struct {
	fs           billy.Filesystem
	logger       *slog.Logger
	policy       ContentionPolicy
	leaseTimeout time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// PruneReport describes the outcome of one Pruner run.
type PruneReport struct {
	Budget    int64          // Byte budget the run enforced
	Before    int64          // Total size before the run
	After     int64          // Total size after the run
	Reclaimed int64          // Bytes freed by removed entries
	Removed   []Entry        // Entries evicted, in eviction order
	Failures  []PruneFailure // Entries that could not be evicted
}

// PruneFailure records an eviction that was skipped.
type PruneFailure struct {
	Entry Entry
	Err   error
}

// ReconcileReport lists what reconciliation purged.
type ReconcileReport struct {
	Purged  []Entry  // Index entries that did not match the filesystem
	Orphans []string // Slot directories without an index entry
}
