// Package git materializes a single ref of a remote repository as a shallow
// checkout.
//
// Two Transport implementations are provided:
//
//   - CLITransport runs the system git binary through the exec package. It
//     honors the user's credential helpers and SSH agent and is the default.
//   - GoGitTransport fetches in process with go-git and accepts explicit
//     credentials (BasicAuth, SSHKeyAuth, SSHKeyFile).
//
// Both fetch exactly one ref at depth 1 by default, skip tags, and check the
// commit out as a detached HEAD. A ref may be a branch, a tag, a full
// reference name or a full commit hash.
//
// # Errors
//
// Failures are returned as platform errors (github.com/jmgilman/go/errors)
// carrying the url, ref and destination directory as context:
//
//   - NOT_FOUND: the repository or ref does not exist. Never retryable.
//   - UNAUTHORIZED: credentials were required or rejected.
//   - NETWORK_ERROR: any other failure talking to the remote. Retryable.
//   - DISK_ERROR: a local filesystem or checkout failure.
//   - CANCELED / TIMEOUT: the context ended.
//
// Messages from CLITransport quote git's stderr verbatim.
//
// # Example
//
//	t := git.NewCLITransport()
//	if err := t.CheckVersion(ctx); err != nil {
//	    return err
//	}
//	err := t.Fetch(ctx, git.FetchRequest{
//	    URL: "https://github.com/org/docs-theme.git",
//	    Ref: "v2.1.0",
//	    Dir: slot,
//	})
//	if errors.GetCode(err) == errors.CodeNotFound {
//	    // Wrong ref; retrying will not help
//	}
package git
