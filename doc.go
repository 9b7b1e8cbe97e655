// Package mkdockyard defines the shared vocabulary of the repository cache:
// repository descriptors, build requests and the error codes every layer
// reports with.
//
// # Architecture
//
// The cache is split into focused packages, leaf first:
//
//  1. git: shallow transports (go-git or the git CLI) and error classification
//  2. cache: the on-disk Store, per-key leases, reconciliation and the Pruner
//  3. fetch: the retrying Fetcher and the bounded Orchestrator
//  4. adapter: hands resolved paths to a documentation renderer
//  5. config: CUE-validated configuration
//
// A build resolves a Request into a name to path mapping:
//
//	store, err := cache.Open(ctx, root)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	fetcher := fetch.NewFetcher(store, git.NewCLITransport())
//	res, err := fetch.NewOrchestrator(fetcher).Resolve(ctx, req)
//
// # Errors
//
// Every error returned by this module is a platform error from
// github.com/jmgilman/go/errors. Kind extracts its code; the codes specific to
// caching are declared in this package, the generic ones (not found, network,
// timeout, invalid configuration) are reused from the errors module.
package mkdockyard
