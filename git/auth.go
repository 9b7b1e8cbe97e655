package git

import (
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/kay-mw/mkdockyard"
)

// SSHKeyOption configures SSH key authentication.
type SSHKeyOption func(*sshKeyOptions)

type sshKeyOptions struct {
	password string
}

// WithSSHPassword sets the passphrase for encrypted SSH keys.
func WithSSHPassword(password string) SSHKeyOption {
	return func(opts *sshKeyOptions) {
		opts.password = password
	}
}

// SSHKeyAuth creates SSH authentication from PEM-encoded key bytes.
//
// Example:
//
//	auth, err := git.SSHKeyAuth("git", keyBytes, git.WithSSHPassword(passphrase))
//	if err != nil {
//	    return err
//	}
func SSHKeyAuth(user string, pemBytes []byte, opts ...SSHKeyOption) (Auth, error) {
	options := &sshKeyOptions{}
	for _, opt := range opts {
		opt(options)
	}

	publicKeys, err := ssh.NewPublicKeys(user, pemBytes, options.password)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to parse SSH key")
	}

	return publicKeys, nil
}

// SSHKeyFile creates SSH authentication by reading a key from keyPath.
func SSHKeyFile(user string, keyPath string, opts ...SSHKeyOption) (Auth, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, platformerrors.WrapWithContext(err, mkdockyard.CodeDisk, "failed to read SSH key file",
			map[string]interface{}{"path": keyPath})
	}

	return SSHKeyAuth(user, pemBytes, opts...)
}

// BasicAuth creates HTTP basic authentication, commonly a username paired
// with a personal access token.
//
// Example:
//
//	auth := git.BasicAuth("x-access-token", os.Getenv("GITHUB_TOKEN"))
func BasicAuth(username, password string) Auth {
	return &http.BasicAuth{
		Username: username,
		Password: password,
	}
}

var _ Auth = (transport.AuthMethod)(nil)
