// Package gittest creates throwaway upstream repositories for tests that
// exercise real fetches without network access.
package gittest

import (
	"os"
	osexec "os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Author information stamped on every test commit and tag.
const (
	Author = "Test User"
	Email  = "test@example.com"
)

// DefaultBranch is the branch HEAD points at in a new Repo.
const DefaultBranch = "main"

// Repo is an on-disk upstream repository living in a test's temp dir.
type Repo struct {
	t    testing.TB
	Dir  string
	repo *gogit.Repository
	when time.Time
}

// RequireGit skips the test when no git binary is on PATH.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git executable not found in PATH")
	}
}

// NewRepo initializes an empty repository with DefaultBranch as HEAD. The
// repository serves any commit by hash so tests can fetch unadvertised
// objects.
//
// Example:
//
//	upstream := gittest.NewRepo(t)
//	hash := upstream.Commit("Initial commit", map[string]string{"mkdocs.yml": "site_name: x\n"})
//	upstream.Tag("v1.0.0", hash)
func NewRepo(t testing.TB) *Repo {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch),
		},
	})
	require.NoError(t, err)

	cfg, err := repo.Config()
	require.NoError(t, err)
	cfg.Raw.Section("uploadpack").SetOption("allowAnySHA1InWant", "true")
	require.NoError(t, repo.SetConfig(cfg))

	return &Repo{
		t:    t,
		Dir:  dir,
		repo: repo,
		when: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// URL returns a file:// URL for the repository. Shallow fetches require the
// URL form; plain paths take git's local clone shortcut.
func (r *Repo) URL() string {
	return "file://" + filepath.ToSlash(r.Dir)
}

// Commit writes files (path to content) into the worktree and commits them
// on the current branch. It returns the commit hash.
func (r *Repo) Commit(message string, files map[string]string) string {
	r.t.Helper()

	for name, content := range files {
		path := filepath.Join(r.Dir, filepath.FromSlash(name))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
	}

	wt, err := r.repo.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, wt.AddWithOptions(&gogit.AddOptions{All: true}))

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author:            r.signature(),
		AllowEmptyCommits: true,
	})
	require.NoError(r.t, err)

	return hash.String()
}

// Tag creates a lightweight tag.
func (r *Repo) Tag(name, hash string) {
	r.t.Helper()
	_, err := r.repo.CreateTag(name, plumbing.NewHash(hash), nil)
	require.NoError(r.t, err)
}

// AnnotatedTag creates an annotated tag object pointing at hash.
func (r *Repo) AnnotatedTag(name, hash, message string) {
	r.t.Helper()
	_, err := r.repo.CreateTag(name, plumbing.NewHash(hash), &gogit.CreateTagOptions{
		Tagger:  r.signature(),
		Message: message,
	})
	require.NoError(r.t, err)
}

// Branch creates a branch pointing at hash without checking it out.
func (r *Repo) Branch(name, hash string) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), plumbing.NewHash(hash))
	require.NoError(r.t, r.repo.Storer.SetReference(ref))
}

// Head returns the hash HEAD resolves to in a checkout at dir.
func Head(t testing.TB, dir string) string {
	t.Helper()
	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	return head.Hash().String()
}

// signature returns a fixed author whose timestamp advances by one second per
// call, so commit hashes are deterministic.
func (r *Repo) signature() *object.Signature {
	r.when = r.when.Add(time.Second)
	return &object.Signature{Name: Author, Email: Email, When: r.when}
}
