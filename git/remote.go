package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

const (
	remoteName = "origin"

	// fetchedRef receives commits fetched by hash, which have no remote name.
	fetchedRef = plumbing.ReferenceName("refs/mkdockyard/fetched")
)

// GoGitTransport fetches with go-git, entirely in process. It supports
// credentials through FetchRequest.Auth.
type GoGitTransport struct {
	opts options
}

// NewGoGitTransport creates a transport backed by go-git.
//
// Example:
//
//	auth := git.BasicAuth("x-access-token", token)
//	t := git.NewGoGitTransport()
//	err := t.Fetch(ctx, git.FetchRequest{URL: url, Ref: "v1.2.0", Dir: dir, Auth: auth})
func NewGoGitTransport(opts ...Option) *GoGitTransport {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &GoGitTransport{opts: options}
}

// Fetch implements Transport.Fetch.
//
// It initializes an empty repository in req.Dir, lists the remote's
// references to resolve req.Ref, fetches that single reference at the
// configured depth without tags and checks out the resulting commit as a
// detached HEAD.
func (t *GoGitTransport) Fetch(ctx context.Context, req FetchRequest) error {
	if err := ctx.Err(); err != nil {
		return wrapError(err, "fetch not started", req, remoteOp)
	}

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return wrapError(err, "failed to create clone directory", req, localOp)
	}

	repo, err := gogit.PlainInit(req.Dir, false)
	if err != nil {
		return wrapError(err, "failed to initialize repository", req, localOp)
	}

	remote, err := repo.CreateRemote(&config.RemoteConfig{
		Name: remoteName,
		URLs: []string{req.URL},
	})
	if err != nil {
		return wrapError(err, "failed to add remote", req, localOp)
	}

	auth, err := authMethod(req.Auth)
	if err != nil {
		return wrapError(err, "failed to convert auth", req, localOp)
	}

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: auth})
	if err != nil {
		return wrapError(err, "failed to list remote references", req, remoteOp)
	}

	spec, local, err := resolveRefSpec(refs, req.Ref)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to resolve %q", req.Ref), req, remoteOp)
	}

	t.opts.logger.Debug("Fetching reference", "url", req.URL, "ref", req.Ref, "refspec", spec, "depth", t.opts.depth)

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{spec},
		Depth:      t.opts.depth,
		Tags:       gogit.NoTags,
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapError(err, "failed to fetch from remote", req, remoteOp)
	}

	hash, err := peel(repo, local)
	if err != nil {
		return wrapError(err, "failed to resolve fetched commit", req, localOp)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return wrapError(err, "failed to open worktree", req, localOp)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return wrapError(err, "failed to check out fetched commit", req, localOp)
	}

	return nil
}

// resolveRefSpec finds the remote reference named by ref and returns the
// refspec that fetches only it, together with the local reference it lands
// in. Lookup order follows git: an exact reference name, then a branch, then
// a tag. A full commit hash is fetched directly.
func resolveRefSpec(refs []*plumbing.Reference, ref string) (config.RefSpec, plumbing.ReferenceName, error) {
	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, r := range refs {
		byName[r.Name()] = r
	}

	candidates := []plumbing.ReferenceName{
		plumbing.ReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	}
	for _, name := range candidates {
		if _, ok := byName[name]; ok && strings.HasPrefix(name.String(), "refs/") {
			return config.RefSpec(fmt.Sprintf("+%s:%s", name, name)), name, nil
		}
	}

	if plumbing.IsHash(ref) {
		return config.RefSpec(fmt.Sprintf("+%s:%s", ref, fetchedRef)), fetchedRef, nil
	}

	return "", "", fmt.Errorf("remote has no branch or tag named %q: %w", ref, plumbing.ErrReferenceNotFound)
}

// peel resolves a local reference to the commit it designates, dereferencing
// annotated tags.
func peel(repo *gogit.Repository, name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := repo.Reference(name, true)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	hash := ref.Hash()
	tag, err := repo.TagObject(hash)
	switch {
	case err == nil:
		commit, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, err
		}
		return commit.Hash, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return hash, nil
	default:
		return plumbing.ZeroHash, err
	}
}

func authMethod(auth Auth) (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}
	method, ok := auth.(transport.AuthMethod)
	if !ok {
		return nil, fmt.Errorf("%w: %T", transport.ErrInvalidAuthMethod, auth)
	}
	return method, nil
}
