package fetch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kay-mw/mkdockyard"
	"github.com/kay-mw/mkdockyard/cache"
)

// Orchestrator resolves a whole build request with a bounded worker pool.
type Orchestrator struct {
	fetcher *Fetcher
	opts    options
}

// Resolution maps every successfully resolved descriptor to its local path.
type Resolution struct {
	Paths   map[string]string // Descriptor name to checkout path
	Keys    []cache.Key       // Distinct keys used by the build, in request order
	Fetched int               // Keys downloaded during this call
	Reused  int               // Keys served from an existing entry
}

// NewOrchestrator creates an Orchestrator that dispatches work to fetcher.
// Only WithWorkers and WithLogger apply here; fetch behavior is configured on
// the Fetcher.
//
// Example:
//
//	orch := fetch.NewOrchestrator(fetcher, fetch.WithWorkers(4))
//	res, err := orch.Resolve(ctx, request)
//	var buildErr *fetch.BuildError
//	if errors.As(err, &buildErr) {
//	    for _, f := range buildErr.Failures {
//	        log.Printf("%s failed: %s", f.Descriptor.Name, f.Kind)
//	    }
//	}
func NewOrchestrator(fetcher *Fetcher, opts ...Option) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		opts:    applyOptions(opts),
	}
}

// Resolve makes every descriptor in req available locally.
//
// Descriptors that share a (url, ref) pair are fetched once and receive the
// same path. At most the configured number of fetches run concurrently. A
// failing fetch does not stop the others: every task runs to completion and
// all failures are returned together as a *BuildError, one Failure per
// affected descriptor. The returned Resolution is non-nil whenever req is
// valid and always holds the descriptors that did succeed.
func (o *Orchestrator) Resolve(ctx context.Context, req mkdockyard.Request) (*Resolution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	type task struct {
		desc    mkdockyard.Descriptor
		members []int
		result  *Result
		err     error
	}

	var tasks []*task
	byKey := make(map[cache.Key]*task, len(req))
	keys := make([]cache.Key, 0, len(req))
	for i, d := range req {
		key := cache.NewKey(d.URL, d.Ref)
		t, ok := byKey[key]
		if !ok {
			t = &task{desc: d}
			byKey[key] = t
			tasks = append(tasks, t)
			keys = append(keys, key)
		}
		t.members = append(t.members, i)
	}

	start := time.Now()
	o.opts.logger.Info("Resolving repositories",
		"repos", len(req), "distinct", len(tasks), "workers", o.opts.workers)

	var g errgroup.Group
	g.SetLimit(o.opts.workers)
	for _, t := range tasks {
		g.Go(func() error {
			t.result, t.err = o.fetcher.Fetch(ctx, t.desc)
			return nil
		})
	}
	_ = g.Wait()

	res := &Resolution{
		Paths: make(map[string]string, len(req)),
		Keys:  keys,
	}
	failed := make(map[int]error)
	for _, t := range tasks {
		if t.err != nil {
			for _, i := range t.members {
				failed[i] = t.err
			}
			continue
		}
		if t.result.Fetched {
			res.Fetched++
		} else {
			res.Reused++
		}
		for _, i := range t.members {
			res.Paths[req[i].Name] = t.result.Entry.Path
		}
	}

	o.opts.logger.Info("Resolved repositories",
		"fetched", res.Fetched, "reused", res.Reused, "failed", len(failed), "elapsed", time.Since(start))

	if len(failed) == 0 {
		return res, nil
	}

	buildErr := &BuildError{}
	for i, d := range req {
		err, ok := failed[i]
		if !ok {
			continue
		}
		o.opts.logger.Error("Failed to resolve repository",
			"name", d.Name, "url", d.URL, "ref", d.Ref, "error", err)
		buildErr.Failures = append(buildErr.Failures, Failure{
			Descriptor: d,
			Kind:       mkdockyard.Kind(err),
			Err:        err,
		})
	}
	return res, buildErr
}
