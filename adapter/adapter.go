package adapter

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/kay-mw/mkdockyard"
)

// Environment is the renderer capability the adapter needs: whether a name
// already refers to an importable unit before any cached repository is
// added to the search path.
type Environment interface {
	IsImportable(ctx context.Context, name string) (bool, error)
}

// EnvironmentFunc adapts a function to Environment.
type EnvironmentFunc func(ctx context.Context, name string) (bool, error)

// IsImportable implements Environment.
func (f EnvironmentFunc) IsImportable(ctx context.Context, name string) (bool, error) {
	return f(ctx, name)
}

// Adapter hands resolved repository paths to the renderer, refusing names
// that would shadow something the renderer can already import.
type Adapter struct {
	paths  map[string]string
	env    Environment
	logger *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Adapter over paths, typically fetch.Resolution.Paths. The
// map is copied.
//
// Example:
//
//	a := adapter.New(res.Paths, adapter.NewPythonEnvironment())
//	if err := a.Check(ctx); err != nil {
//	    return err
//	}
//	handler.Paths = a.SearchPaths()
func New(paths map[string]string, env Environment, opts ...Option) *Adapter {
	a := &Adapter{
		paths:  maps.Clone(paths),
		env:    env,
		logger: slog.New(slog.DiscardHandler),
	}
	if a.paths == nil {
		a.paths = make(map[string]string)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve returns the local path for name. It fails with NAME_COLLISION
// when the renderer already sees an importable unit called name, and with
// NOT_FOUND when name was not part of the build.
func (a *Adapter) Resolve(ctx context.Context, name string) (string, error) {
	path, ok := a.paths[name]
	if !ok {
		return "", platformerrors.WithContext(
			platformerrors.Newf(platformerrors.CodeNotFound, "repository %q is not part of this build", name),
			"name", name,
		)
	}

	importable, err := a.env.IsImportable(ctx, name)
	if err != nil {
		return "", err
	}
	if importable {
		return "", collisionError([]string{name}, a.paths)
	}

	return path, nil
}

// Check verifies every name and reports all collisions in one
// NAME_COLLISION error.
func (a *Adapter) Check(ctx context.Context) error {
	var collisions []string
	for _, name := range a.names() {
		importable, err := a.env.IsImportable(ctx, name)
		if err != nil {
			return err
		}
		if importable {
			a.logger.Warn("Repository name shadows an importable module", "name", name, "path", a.paths[name])
			collisions = append(collisions, name)
		}
	}

	if len(collisions) > 0 {
		return collisionError(collisions, a.paths)
	}
	return nil
}

// Paths returns a copy of the name to path mapping.
func (a *Adapter) Paths() map[string]string {
	return maps.Clone(a.paths)
}

// SearchPaths returns the renderer search path: base (default ".")
// followed by every repository path in name order. Paths shared by several
// names appear once.
func (a *Adapter) SearchPaths(base ...string) []string {
	if len(base) == 0 {
		base = []string{"."}
	}

	out := slices.Clone(base)
	for _, name := range a.names() {
		if p := a.paths[name]; !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func (a *Adapter) names() []string {
	return slices.Sorted(maps.Keys(a.paths))
}

func collisionError(names []string, paths map[string]string) error {
	shadowed := make(map[string]string, len(names))
	for _, n := range names {
		shadowed[n] = paths[n]
	}
	return platformerrors.WithContextMap(
		platformerrors.Newf(mkdockyard.CodeCollision,
			"repository name already importable by the renderer: %s", strings.Join(names, ", ")),
		map[string]interface{}{"names": names, "paths": shadowed},
	)
}
