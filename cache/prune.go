package cache

import (
	"sort"
)

// Pruner keeps the aggregate size of a Store under a byte budget by evicting
// least recently used entries.
type Pruner struct {
	store  *Store
	budget int64
}

// NewPruner creates a Pruner enforcing budget bytes on store.
//
// Example:
//
//	pruner := cache.NewPruner(store, 1<<30) // Keep under 1GiB
//	report, err := pruner.Prune(res.Keys...)
func NewPruner(store *Store, budget int64) *Pruner {
	return &Pruner{store: store, budget: budget}
}

// Budget returns the enforced byte budget.
func (p *Pruner) Budget() int64 {
	return p.budget
}

// Prune evicts entries until the store's total size is within budget.
//
// Nothing happens when the store is already within budget. Otherwise fresh
// entries outside the protected set are evicted oldest LastUsedAt first; ties
// go to the larger entry so each eviction reclaims more space. Protected and
// in-progress entries are never evicted, so the budget may remain exceeded
// once candidates run out.
//
// An entry that cannot be removed (its lease is held, or deletion fails) is
// logged, recorded in the report and skipped.
func (p *Pruner) Prune(protected ...Key) (*PruneReport, error) {
	entries, err := p.store.List()
	if err != nil {
		return nil, err
	}

	report := &PruneReport{Budget: p.budget}
	for _, e := range entries {
		if e.Fresh() {
			report.Before += e.SizeBytes
		}
	}
	report.After = report.Before

	if report.Before <= p.budget {
		return report, nil
	}

	keep := make(map[Key]struct{}, len(protected))
	for _, k := range protected {
		keep[k] = struct{}{}
	}

	candidates := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Fresh() {
			continue
		}
		if _, ok := keep[e.Key]; ok {
			continue
		}
		candidates = append(candidates, e)
	}
	sortForEviction(candidates)

	log := p.store.opts.logger
	for _, e := range candidates {
		if report.After <= p.budget {
			break
		}

		if err := p.store.Remove(e.URL, e.Ref); err != nil {
			log.Warn("Skipping cache entry that could not be pruned",
				"url", label(e.URL), "ref", e.Ref, "key", e.Key.Short(), "error", err)
			report.Failures = append(report.Failures, PruneFailure{Entry: e, Err: err})
			continue
		}

		log.Info("Pruned cache entry",
			"url", label(e.URL), "ref", e.Ref, "key", e.Key.Short(), "bytes", e.SizeBytes)
		report.Removed = append(report.Removed, e)
		report.Reclaimed += e.SizeBytes
		report.After -= e.SizeBytes
	}

	if report.After > p.budget {
		log.Warn("Cache remains over budget",
			"bytes", report.After, "budget", p.budget, "protected", len(keep))
	}

	return report, nil
}

// sortForEviction orders entries by LastUsedAt ascending, then SizeBytes
// descending, then key.
func sortForEviction(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes > b.SizeBytes
		}
		return a.Key < b.Key
	})
}
