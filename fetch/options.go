package fetch

import (
	"log/slog"

	"github.com/kay-mw/mkdockyard/git"
)

// DefaultWorkers is the orchestrator's worker pool size.
const DefaultWorkers = 8

// Option configures a Fetcher or an Orchestrator.
type Option func(*options)

type options struct {
	retry   RetryPolicy
	auth    git.Auth
	workers int
	logger  *slog.Logger
}

func defaultOptions() options {
	return options{
		retry:   DefaultRetryPolicy(),
		workers: DefaultWorkers,
		logger:  slog.New(slog.DiscardHandler),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRetryPolicy sets the retry policy for transient network failures.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		o.retry = policy
	}
}

// WithAuth sets the credentials passed to the transport on every fetch.
func WithAuth(auth git.Auth) Option {
	return func(o *options) {
		o.auth = auth
	}
}

// WithWorkers bounds the number of fetches an Orchestrator runs at once.
// Values below 1 are ignored.
//
// Example:
//
//	orch := fetch.NewOrchestrator(fetcher, fetch.WithWorkers(4))
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to a logger that discards
// everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
