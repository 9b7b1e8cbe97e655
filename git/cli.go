package git

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"
	"golang.org/x/mod/semver"
)

// MinGitVersion is the oldest git release the CLI transport supports.
// Earlier versions cannot fetch an arbitrary commit by hash with --depth.
const MinGitVersion = "2.25.0"

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// CLITransport fetches by running the system git binary. Credentials come
// from the user's git configuration (credential helpers, SSH agent), so
// FetchRequest.Auth is ignored.
type CLITransport struct {
	opts options
}

// NewCLITransport creates a transport that shells out to git.
//
// Example:
//
//	t := git.NewCLITransport(git.WithLogger(logger))
//	if err := t.CheckVersion(ctx); err != nil {
//	    return err
//	}
func NewCLITransport(opts ...Option) *CLITransport {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &CLITransport{opts: options}
}

// Fetch implements Transport.Fetch.
func (t *CLITransport) Fetch(ctx context.Context, req FetchRequest) error {
	if err := ctx.Err(); err != nil {
		return wrapError(err, "fetch not started", req, remoteOp)
	}

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return wrapError(err, "failed to create clone directory", req, localOp)
	}

	steps := []struct {
		message string
		remote  bool
		args    []string
	}{
		{"failed to initialize repository", localOp, []string{"init", "--quiet"}},
		{"failed to add remote", localOp, []string{"remote", "add", remoteName, req.URL}},
		{"failed to fetch from remote", remoteOp, []string{
			"fetch", "--depth=" + strconv.Itoa(t.opts.depth), "--no-tags", "--quiet", remoteName, req.Ref,
		}},
		{"failed to check out fetched commit", localOp, []string{
			"-c", "advice.detachedHead=false", "checkout", "--quiet", "--detach", "FETCH_HEAD",
		}},
	}

	for _, step := range steps {
		if _, err := t.run(ctx, req.Dir, step.args...); err != nil {
			return wrapError(err, step.message, req, step.remote)
		}
	}

	return nil
}

// CheckVersion verifies that the installed git is at least MinGitVersion.
// A missing binary is reported as INVALID_CONFIG.
func (t *CLITransport) CheckVersion(ctx context.Context) error {
	res, err := t.run(ctx, "", "version")
	if err != nil {
		return platformerrors.Wrap(classifyError(err), platformerrors.CodeInvalidConfig, "failed to determine git version")
	}

	version, ok := parseVersion(res.Stdout)
	if !ok {
		return platformerrors.WithContext(
			platformerrors.New(platformerrors.CodeInvalidConfig, "unrecognized git version output"),
			"output", res.Stdout,
		)
	}

	if semver.Compare(version, "v"+MinGitVersion) < 0 {
		return platformerrors.WithContextMap(
			platformerrors.Newf(platformerrors.CodeInvalidConfig,
				"git %s is too old, need %s or newer", version[1:], MinGitVersion),
			map[string]interface{}{"found": version[1:], "required": MinGitVersion},
		)
	}

	t.opts.logger.Debug("Found git", "version", version[1:])
	return nil
}

// run executes one git command in dir. Cancellation is reported from ctx
// rather than from the killed process.
func (t *CLITransport) run(ctx context.Context, dir string, args ...string) (*exec.Result, error) {
	t.opts.logger.Debug("Running git", "args", args, "dir", dir)

	cmd := exec.NewWrapper(t.opts.command.Clone(), "git").
		WithContext(ctx).
		WithInheritEnv().
		WithDisableColors().
		WithEnv(map[string]string{
			"GIT_TERMINAL_PROMPT": "0",
			"LC_ALL":              "C",
		})
	if dir != "" {
		cmd = cmd.WithDir(dir)
	}

	res, err := cmd.Run(args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("git %s: %w", args[0], ctxErr)
		}
		return nil, err
	}
	return res, nil
}

// parseVersion extracts a canonical semver string ("v2.43.0") from the output
// of git version. Vendor suffixes such as "(Apple Git-146)" are ignored.
func parseVersion(output string) (string, bool) {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	version := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	return version, semver.IsValid(version)
}
