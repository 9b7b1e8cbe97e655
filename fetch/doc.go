// Package fetch resolves build requests against the repository cache.
//
// A Fetcher handles one descriptor: it reuses a fresh cache entry when one
// exists and otherwise leases the cache key, downloads the ref through a
// git.Transport and commits the result. Transient network failures are
// retried according to a RetryPolicy; a missing repository or ref fails at
// once.
//
// An Orchestrator resolves a whole request. It collapses descriptors that
// share a (url, ref) pair into a single task, runs tasks on a bounded worker
// pool and, if anything failed, returns a *BuildError naming every failed
// descriptor.
//
// Example:
//
//	fetcher := fetch.NewFetcher(store, git.NewCLITransport(), fetch.WithLogger(logger))
//	orch := fetch.NewOrchestrator(fetcher, fetch.WithWorkers(8), fetch.WithLogger(logger))
//
//	res, err := orch.Resolve(ctx, request)
//	if err != nil {
//	    return err
//	}
//	_, err = cache.NewPruner(store, budget).Prune(res.Keys...)
package fetch
