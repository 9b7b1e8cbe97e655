package git

import (
	"context"
	"log/slog"

	"github.com/jmgilman/go/exec"
)

// Transport materializes one ref of one remote repository into a directory.
//
// Implementations fetch only what is needed to check out the ref: a shallow
// history restricted to that single ref, no other branches and no tags.
// This interface allows tests to substitute an implementation that never
// touches the network.
type Transport interface {
	// Fetch populates req.Dir with a checkout of req.Ref from req.URL.
	// req.Dir must be empty or absent.
	Fetch(ctx context.Context, req FetchRequest) error
}

// FetchRequest describes one shallow fetch.
type FetchRequest struct {
	URL  string // Remote repository URL or local path
	Ref  string // Branch, tag, full reference name or commit hash
	Dir  string // Destination directory
	Auth Auth   // Optional credentials; nil for anonymous access
}

// Auth is an interface for authentication methods.
// It is satisfied by go-git's transport.AuthMethod.
type Auth interface {
	// Marker interface - satisfied by go-git transport.AuthMethod
}

// Option configures a transport.
type Option func(*options)

type options struct {
	depth   int
	logger  *slog.Logger
	command exec.Executor
}

func defaultOptions() options {
	return options{
		depth:   1,
		logger:  slog.New(slog.DiscardHandler),
		command: exec.New(),
	}
}

// WithDepth sets the fetch depth. Values below 1 are ignored; the default of
// 1 fetches only the commit the ref points at.
//
// Example:
//
//	transport := git.NewGoGitTransport(git.WithDepth(5))
func WithDepth(depth int) Option {
	return func(opts *options) {
		if depth > 0 {
			opts.depth = depth
		}
	}
}

// WithLogger sets the structured logger for transport diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithExecutor sets the base executor used by the CLI transport. It is
// cloned for every git invocation, so global options such as a fixed
// environment carry over.
func WithExecutor(executor exec.Executor) Option {
	return func(opts *options) {
		if executor != nil {
			opts.command = executor
		}
	}
}
