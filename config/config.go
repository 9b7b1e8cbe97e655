package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/kay-mw/mkdockyard"
	"github.com/kay-mw/mkdockyard/cache"
	"github.com/kay-mw/mkdockyard/fetch"
	"github.com/kay-mw/mkdockyard/git"
)

// EnvCacheDir overrides the configured cache directory when set.
const EnvCacheDir = "MKDOCKYARD_CACHE_DIR"

// Transport names accepted in configuration.
const (
	TransportCLI   = "cli"
	TransportGoGit = "go-git"
)

// Config is the validated, typed configuration.
type Config struct {
	CacheDir     string
	Budget       int64
	Workers      int
	LeaseTimeout time.Duration
	Contention   cache.ContentionPolicy
	Transport    string
	Retry        fetch.RetryPolicy
	Auth         *Auth
	Repos        mkdockyard.Request
}

// Auth holds HTTP credentials for the go-git transport. The password is read
// from the named environment variable so it never appears in the file.
type Auth struct {
	Username    string
	PasswordEnv string
}

// Credentials resolves the password and returns transport credentials.
func (a *Auth) Credentials() (git.Auth, error) {
	password, ok := os.LookupEnv(a.PasswordEnv)
	if !ok || password == "" {
		return nil, errors.WithContext(
			errors.Newf(errors.CodeInvalidConfig, "environment variable %s is not set", a.PasswordEnv),
			"password_env", a.PasswordEnv,
		)
	}
	return git.BasicAuth(a.Username, password), nil
}

// StoreOptions returns the cache options this configuration implies.
func (c *Config) StoreOptions(logger *slog.Logger) []cache.Option {
	return []cache.Option{
		cache.WithLogger(logger),
		cache.WithLeaseTimeout(c.LeaseTimeout),
		cache.WithContentionPolicy(c.Contention),
	}
}

// FetchOptions returns the fetch options this configuration implies,
// resolving credentials when auth is configured.
func (c *Config) FetchOptions(logger *slog.Logger) ([]fetch.Option, error) {
	opts := []fetch.Option{
		fetch.WithLogger(logger),
		fetch.WithWorkers(c.Workers),
		fetch.WithRetryPolicy(c.Retry),
	}
	if c.Auth != nil {
		auth, err := c.Auth.Credentials()
		if err != nil {
			return nil, err
		}
		opts = append(opts, fetch.WithAuth(auth))
	}
	return opts, nil
}

// NewTransport builds the configured git transport.
func (c *Config) NewTransport(logger *slog.Logger) (git.Transport, error) {
	switch c.Transport {
	case TransportCLI:
		return git.NewCLITransport(git.WithLogger(logger)), nil
	case TransportGoGit:
		return git.NewGoGitTransport(git.WithLogger(logger)), nil
	default:
		return nil, errors.New(errors.CodeInvalidConfig, fmt.Sprintf("unknown transport %q", c.Transport))
	}
}
