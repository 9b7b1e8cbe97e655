package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

const indexVersion = "1"

// index is the on-disk record of every cache entry.
// It is never shared between goroutines: each operation loads a fresh copy
// while holding the index lock and saves it before releasing.
type index struct {
	Version string         `json:"version"`
	Entries map[Key]*Entry `json:"entries"`
}

func newIndex() *index {
	return &index{
		Version: indexVersion,
		Entries: make(map[Key]*Entry),
	}
}

// loadIndex reads the index from disk. A missing file yields an empty index;
// an unreadable or foreign one yields errCorruptIndex.
func loadIndex(fs billy.Filesystem, path string) (*index, error) {
	data, err := util.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return newIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptIndex, err)
	}

	if idx.Version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %q (expected %s)", errCorruptIndex, idx.Version, indexVersion)
	}

	if idx.Entries == nil {
		idx.Entries = make(map[Key]*Entry)
	}

	return &idx, nil
}

// save writes the index to disk atomically via write-to-temp and rename.
// Callers must hold the index lock.
func (idx *index) save(fs billy.Filesystem, path string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tmpPath := path + ".tmp"
	tmpFile, err := fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary index file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary index file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary index file: %w", err)
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return nil
}

// sorted returns copies of all entries ordered by key.
func (idx *index) sorted() []Entry {
	entries := make([]Entry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// totalSize sums SizeBytes over fresh entries.
func (idx *index) totalSize() int64 {
	var total int64
	for _, e := range idx.Entries {
		if e.Fresh() {
			total += e.SizeBytes
		}
	}
	return total
}
