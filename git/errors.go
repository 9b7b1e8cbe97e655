package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	osexec "os/exec"
	"regexp"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"
	"github.com/kay-mw/mkdockyard"
)

// Values for the remote argument of wrapError.
const (
	remoteOp = true
	localOp  = false
)

// wrapError classifies err and attaches the fetch coordinates as context.
// remote decides the fallback code: NETWORK_ERROR for operations that talk to
// the remote, DISK_ERROR for local ones. If err is nil, returns nil.
func wrapError(err error, message string, req FetchRequest, remote bool) error {
	if err == nil {
		return nil
	}

	classified := classifyError(err)
	code := platformerrors.GetCode(classified)
	if code == platformerrors.CodeUnknown {
		code = mkdockyard.CodeDisk
		if remote {
			code = platformerrors.CodeNetwork
		}
	}

	return platformerrors.WrapWithContext(classified, code, message, map[string]interface{}{
		"url": req.URL,
		"ref": req.Ref,
		"dir": req.Dir,
	})
}

// classifyError maps go-git, context and filesystem errors to platform error
// types. It uses errors.Is() to match go-git error types and preserves the
// original error as the cause. Unknown errors are passed through unchanged.
//
//nolint:gocyclo,cyclop // Each case is a simple mapping
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pe platformerrors.PlatformError
	if errors.As(err, &pe) {
		return err
	}

	// Build cancellation
	if errors.Is(err, context.Canceled) {
		return platformerrors.Wrap(err, mkdockyard.CodeCanceled, "fetch canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return platformerrors.WithClassification(
			platformerrors.Wrap(err, platformerrors.CodeTimeout, "fetch deadline exceeded"),
			platformerrors.ClassificationPermanent,
		)
	}

	// Repository or reference not found → ErrNotFound
	if errors.Is(err, transport.ErrRepositoryNotFound) || errors.Is(err, gogit.ErrRepositoryNotExists) {
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "repository not found")
	}
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "reference not found")
	}
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "remote repository is empty")
	}

	// Authentication/Authorization errors → ErrUnauthorized
	if errors.Is(err, transport.ErrAuthenticationRequired) {
		return platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "authentication required")
	}
	if errors.Is(err, transport.ErrAuthorizationFailed) {
		return platformerrors.Wrap(err, platformerrors.CodeUnauthorized, "authorization failed")
	}

	// Invalid endpoint → configuration problem
	if errors.Is(err, transport.ErrInvalidAuthMethod) || errors.Is(err, gogit.ErrMissingURL) {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "invalid remote configuration")
	}

	// Local filesystem failures → DiskError
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return platformerrors.Wrap(err, mkdockyard.CodeDisk, "filesystem error")
	}

	// git CLI failures are classified by their stderr
	var execErr *exec.ExecError
	if errors.As(err, &execErr) {
		return classifyExecError(execErr)
	}

	return err
}

var missingRepoPattern = regexp.MustCompile(`repository '[^']*' not found`)

// stderrPatterns maps git CLI stderr fragments to error codes. Order matters:
// the first match wins.
var stderrPatterns = []struct {
	fragment string
	code     platformerrors.ErrorCode
}{
	{"couldn't find remote ref", platformerrors.CodeNotFound},
	{"not our ref", platformerrors.CodeNotFound},
	{"repository not found", platformerrors.CodeNotFound},
	{"does not appear to be a git repository", platformerrors.CodeNotFound},
	{"does not exist", platformerrors.CodeNotFound},
	{"authentication failed", platformerrors.CodeUnauthorized},
	{"could not read username", platformerrors.CodeUnauthorized},
	{"permission denied (publickey", platformerrors.CodeUnauthorized},
	{"terminal prompts disabled", platformerrors.CodeUnauthorized},
	{"no space left on device", mkdockyard.CodeDisk},
	{"read-only file system", mkdockyard.CodeDisk},
	{"could not resolve host", platformerrors.CodeNetwork},
	{"connection refused", platformerrors.CodeNetwork},
	{"connection timed out", platformerrors.CodeNetwork},
	{"operation timed out", platformerrors.CodeNetwork},
	{"early eof", platformerrors.CodeNetwork},
	{"rpc failed", platformerrors.CodeNetwork},
	{"unable to access", platformerrors.CodeNetwork},
}

// classifyExecError maps a failed git invocation to a platform error whose
// message quotes git's own stderr.
func classifyExecError(execErr *exec.ExecError) error {
	stderr := strings.TrimSpace(execErr.Stderr)
	lower := strings.ToLower(stderr)

	message := fmt.Sprintf("%s exited with code %d", strings.Join(execErr.Command, " "), execErr.ExitCode)
	if stderr != "" {
		message = fmt.Sprintf("%s: %s", message, stderr)
	}

	if errors.Is(execErr.Err, context.Canceled) {
		return platformerrors.Wrap(execErr, mkdockyard.CodeCanceled, "fetch canceled")
	}

	if errors.Is(execErr.Err, osexec.ErrNotFound) {
		return platformerrors.Wrap(execErr, platformerrors.CodeInvalidConfig, "git executable not found in PATH")
	}

	// Generic HTTPS remotes (GitLab, Gitea, Bitbucket) name the URL.
	if missingRepoPattern.MatchString(lower) {
		return platformerrors.Wrap(execErr, platformerrors.CodeNotFound, message)
	}

	for _, p := range stderrPatterns {
		if strings.Contains(lower, p.fragment) {
			return platformerrors.Wrap(execErr, p.code, message)
		}
	}

	return fmt.Errorf("%s: %w", message, execErr)
}
