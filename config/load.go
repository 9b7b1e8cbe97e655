package config

import (
	"context"
	_ "embed"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"

	"github.com/kay-mw/mkdockyard"
	"github.com/kay-mw/mkdockyard/cache"
	"github.com/kay-mw/mkdockyard/fetch"
)

//go:embed schema.cue
var schemaSource []byte

// file mirrors #Config for decoding.
type file struct {
	CacheDir     string `json:"cache_dir"`
	Budget       string `json:"budget"`
	Workers      int    `json:"workers"`
	LeaseTimeout string `json:"lease_timeout"`
	Contention   string `json:"contention"`
	Transport    string `json:"transport"`
	Retry        struct {
		Attempts  int    `json:"attempts"`
		BaseDelay string `json:"base_delay"`
		MaxDelay  string `json:"max_delay"`
	} `json:"retry"`
	Auth *struct {
		Username    string `json:"username"`
		PasswordEnv string `json:"password_env"`
	} `json:"auth"`
	Repos []mkdockyard.Descriptor `json:"repos"`
}

// Load reads a configuration file. The format follows the extension:
// .yaml/.yml, .json or .cue. A missing file is NOT_FOUND; anything that
// fails the schema or the semantic checks is INVALID_CONFIGURATION.
//
// Example:
//
//	cfg, err := config.Load(ctx, "mkdockyard.yml")
//	if errors.GetCode(err) == errors.CodeNotFound {
//	    cfg, err = config.Default(ctx)
//	}
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeInvalidConfig
		if stderrors.Is(err, fs.ErrNotExist) {
			code = errors.CodeNotFound
		}
		return nil, errors.WrapWithContext(err, code, "failed to read configuration", map[string]interface{}{
			"path": path,
		})
	}
	return Parse(ctx, path, data)
}

// Default returns the configuration used when no file exists.
func Default(ctx context.Context) (*Config, error) {
	return Parse(ctx, "default.cue", []byte("{}"))
}

// Parse validates data against the schema and returns the typed
// configuration. filename selects the format and labels error positions.
func Parse(ctx context.Context, filename string, data []byte) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, mkdockyard.CodeCanceled, "configuration load canceled")
	}

	cctx := cuecontext.New()

	schema := cctx.CompileBytes(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "embedded configuration schema is invalid")
	}

	value, err := compile(cctx, filename, data)
	if err != nil {
		return nil, err
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true), cue.Final(), cue.All()); err != nil {
		return nil, invalid(filename, err, extractIssues(err))
	}

	var raw file
	if err := unified.Decode(&raw); err != nil {
		return nil, invalid(filename, err, extractIssues(err))
	}

	return build(filename, &raw)
}

// compile turns the source into a CUE value according to its extension.
func compile(cctx *cue.Context, filename string, data []byte) (cue.Value, error) {
	var value cue.Value

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		f, err := cueyaml.Extract(filename, data)
		if err != nil {
			return cue.Value{}, invalid(filename, err, extractIssues(err))
		}
		value = cctx.BuildFile(f)
	case ".json":
		expr, err := cuejson.Extract(filename, data)
		if err != nil {
			return cue.Value{}, invalid(filename, err, extractIssues(err))
		}
		value = cctx.BuildExpr(expr)
	case ".cue":
		value = cctx.CompileBytes(data, cue.Filename(filename))
	default:
		return cue.Value{}, invalid(filename, nil, []Issue{{
			Message: "unsupported configuration format " + filepath.Ext(filename) + " (want .yaml, .yml, .json or .cue)",
		}})
	}

	if err := value.Err(); err != nil {
		return cue.Value{}, invalid(filename, err, extractIssues(err))
	}
	return value, nil
}

// build applies the checks CUE cannot express and converts to Config.
func build(filename string, raw *file) (*Config, error) {
	var issues []Issue
	duration := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			issues = append(issues, Issue{Path: field, Message: "invalid duration " + s})
		}
		return d
	}

	cfg := &Config{
		Workers:      raw.Workers,
		LeaseTimeout: duration("lease_timeout", raw.LeaseTimeout),
		Transport:    raw.Transport,
		Retry: fetch.RetryPolicy{
			MaxAttempts: raw.Retry.Attempts,
			BaseDelay:   duration("retry.base_delay", raw.Retry.BaseDelay),
			MaxDelay:    duration("retry.max_delay", raw.Retry.MaxDelay),
		},
		Contention: cache.ContentionWait,
	}
	if raw.Contention == cache.ContentionFail.String() {
		cfg.Contention = cache.ContentionFail
	}

	budget, err := humanize.ParseBytes(raw.Budget)
	if err != nil {
		issues = append(issues, Issue{Path: "budget", Message: "invalid size " + raw.Budget})
	}
	cfg.Budget = int64(budget) //nolint:gosec // budgets beyond 8 EiB are not meaningful

	dir, err := cacheDir(raw.CacheDir)
	if err != nil {
		issues = append(issues, Issue{Path: "cache_dir", Message: err.Error()})
	}
	cfg.CacheDir = dir

	if raw.Auth != nil {
		cfg.Auth = &Auth{Username: raw.Auth.Username, PasswordEnv: raw.Auth.PasswordEnv}
		if cfg.Transport != TransportGoGit {
			issues = append(issues, Issue{
				Path:    "auth",
				Message: "credentials are only used by the go-git transport; the cli transport relies on git's credential helpers",
			})
		}
	}

	cfg.Repos = make(mkdockyard.Request, len(raw.Repos))
	for i, d := range raw.Repos {
		if d.Name == "" {
			d.Name = mkdockyard.DefaultName(d.URL)
		}
		cfg.Repos[i] = d
	}

	if len(issues) > 0 {
		return nil, invalid(filename, nil, issues)
	}
	if err := cfg.Repos.Validate(); err != nil {
		return nil, errors.WithContext(err, "path", filename)
	}
	return cfg, nil
}

// cacheDir picks the cache root: the environment override, then the
// configured value, then the per-user cache directory. A leading ~ is
// expanded.
func cacheDir(configured string) (string, error) {
	dir := configured
	if env, ok := os.LookupEnv(EnvCacheDir); ok && env != "" {
		dir = env
	}

	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, "mkdockyard"), nil
	}

	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Clean(dir), nil
}
