package cache

import (
	"os"

	"github.com/go-git/go-billy/v5/util"
)

// Reconcile brings the index and the repos/ directory back into agreement.
// Open calls it automatically.
//
// Anything inconsistent is purged rather than trusted:
//
//   - a fresh entry whose clone directory is gone
//   - an in-progress entry whose lease nobody holds (a crashed fetch)
//   - a stale entry left behind by an interrupted removal
//   - a slot directory with no index entry
//
// Keys whose lease is currently held are skipped, so reconciliation never
// interferes with a fetch running in another process.
func (s *Store) Reconcile() (*ReconcileReport, error) {
	report := &ReconcileReport{}

	err := s.update(func(idx *index) (bool, error) {
		changed := false

		for key, e := range idx.Entries {
			reason := ""
			switch e.State {
			case StateFresh:
				if s.dirExists(e.Path) {
					continue
				}
				reason = "clone directory is missing"
			case StateInProgress:
				reason = "fetch did not complete"
			default:
				reason = "removal did not complete"
			}

			lock, ok := s.tryLease(key)
			if !ok {
				continue
			}

			err := s.removeSlot(key, e.Path)
			_ = lock.Unlock()
			if err != nil {
				s.opts.logger.Warn("Failed to purge inconsistent cache entry",
					"url", label(e.URL), "ref", e.Ref, "key", key.Short(), "error", err)
				continue
			}

			s.opts.logger.Warn("Purged inconsistent cache entry",
				"url", label(e.URL), "ref", e.Ref, "key", key.Short(), "reason", reason,
				"error", CorruptionError(*e, reason))
			report.Purged = append(report.Purged, *e)
			delete(idx.Entries, key)
			changed = true
		}

		orphans, err := s.fs.ReadDir(s.reposDir)
		if err != nil && !os.IsNotExist(err) {
			return changed, diskError(err, "failed to list clone slots", s.reposDir)
		}
		for _, info := range orphans {
			name := info.Name()
			if !validKey(name) {
				continue
			}
			key := Key(name)
			if _, ok := idx.Entries[key]; ok {
				continue
			}

			lock, ok := s.tryLease(key)
			if !ok {
				continue
			}
			path := s.SlotPath(key)
			err := util.RemoveAll(s.fs, path)
			_ = lock.Unlock()
			if err != nil {
				s.opts.logger.Warn("Failed to remove orphaned clone", "path", path, "error", err)
				continue
			}

			s.opts.logger.Warn("Removed orphaned clone", "path", path)
			report.Orphans = append(report.Orphans, path)
		}

		if err := s.fs.Remove(s.indexPath + ".tmp"); err == nil {
			s.opts.logger.Debug("Removed leftover temporary index", "path", s.indexPath+".tmp")
		}

		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// removeSlot deletes the slot for key and, when it differs, the recorded path.
func (s *Store) removeSlot(key Key, recorded string) error {
	slot := s.SlotPath(key)
	if err := util.RemoveAll(s.fs, slot); err != nil {
		return diskError(err, "failed to remove clone slot", slot)
	}
	if recorded != "" && recorded != slot {
		if err := util.RemoveAll(s.fs, recorded); err != nil {
			return diskError(err, "failed to remove clone directory", recorded)
		}
	}
	return nil
}
