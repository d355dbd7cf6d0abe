// Package git provides the clone/branch/commit/push primitives used by the
// Workspace Manager and Code-Host Adapter, built on go-git with a retrying
// wrapper around network operations.
package git

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	foundationerrors "github.com/autorepair/autorepair/internal/foundation/errors"
	"github.com/autorepair/autorepair/internal/retry"
)

// Auth carries the credential used for HTTPS operations. Token is injected
// per-call rather than embedded in the remote URL, so it never lands on
// disk inside .git/config.
type Auth struct {
	Username string // ignored by GitHub (token-only); "oauth2" convention for GitLab
	Token    string
}

func (a Auth) method() transport.AuthMethod {
	if a.Token == "" {
		return nil
	}
	user := a.Username
	if user == "" {
		user = "x-access-token"
	}
	return &githttp.BasicAuth{Username: user, Password: a.Token}
}

// Repo wraps an on-disk clone.
type Repo struct {
	path string
	repo *git.Repository
}

// DefaultRetryPolicy governs clone/fetch/push retries against a remote.
var DefaultRetryPolicy = retry.NewPolicy(retry.BackoffExponential, time.Second, 20*time.Second, 3)

// CloneInto clones repoURL into dir (which must already exist and be
// empty, per the Workspace Manager's exclusive-allocation contract).
func CloneInto(ctx context.Context, dir, repoURL string, auth Auth) (*Repo, error) {
	var r *git.Repository
	err := DefaultRetryPolicy.Do(ctx, isTransient, func() error {
		var cloneErr error
		r, cloneErr = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  repoURL,
			Auth: auth.method(),
		})
		return cloneErr
	})
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: clone failed").
			WithContext("repo_url", repoURL).Build()
	}
	return &Repo{path: dir, repo: r}, nil
}

// Open opens an existing clone at dir.
func Open(dir string) (*Repo, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: open failed").
			WithContext("path", dir).Build()
	}
	return &Repo{path: dir, repo: r}, nil
}

// CreateBranch creates and checks out a new branch from the current HEAD.
func (r *Repo) CreateBranch(name string) error {
	head, err := r.repo.Head()
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: resolve HEAD failed").Build()
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head.Hash())
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: create branch failed").
			WithContext("branch", name).Build()
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: worktree failed").Build()
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)}); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: checkout failed").
			WithContext("branch", name).Build()
	}
	return nil
}

// CheckoutBranch checks out an existing local branch (refs/heads/<name>),
// used by CLEANUP and PR-feedback jobs (fetch_pr_branch).
func (r *Repo) CheckoutBranch(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: worktree failed").Build()
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(name)}); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: checkout failed").
			WithContext("branch", name).Build()
	}
	return nil
}

// FetchBranch fetches a single remote ref and creates a local tracking
// branch with the same name, used for fetch_pr_branch.
func (r *Repo) FetchBranch(ctx context.Context, remoteBranch string, auth Auth) error {
	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/remotes/origin/%s", remoteBranch, remoteBranch))
	err := DefaultRetryPolicy.Do(ctx, isTransient, func() error {
		fetchErr := r.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []config.RefSpec{refspec},
			Auth:       auth.method(),
		})
		if fetchErr == git.NoErrAlreadyUpToDate {
			return nil
		}
		return fetchErr
	})
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: fetch branch failed").
			WithContext("branch", remoteBranch).Build()
	}
	local := plumbing.NewBranchReferenceName(remoteBranch)
	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName("origin", remoteBranch), true)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: resolve fetched ref failed").Build()
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(local, remoteRef.Hash())); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: set local branch failed").Build()
	}
	return r.CheckoutBranch(remoteBranch)
}

// CommitAll stages every change in the working tree, untracked files
// included, and commits with message, returning
// the resulting commit SHA.
func (r *Repo) CommitAll(message, authorName, authorEmail string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: worktree failed").Build()
	}
	if _, err := wt.Add("."); err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: stage failed").Build()
	}
	sha, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: authorName, Email: authorEmail, When: time.Now()},
	})
	if err != nil {
		return "", foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: commit failed").Build()
	}
	return sha.String(), nil
}

// Push pushes the current branch to origin, retrying on transient network
// failures.
func (r *Repo) Push(ctx context.Context, auth Auth) error {
	err := DefaultRetryPolicy.Do(ctx, isTransient, func() error {
		pushErr := r.repo.PushContext(ctx, &git.PushOptions{Auth: auth.method()})
		if pushErr == git.NoErrAlreadyUpToDate {
			return nil
		}
		return pushErr
	})
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: push failed").Build()
	}
	return nil
}

// IsAncestor reports whether ancestorRef is an ancestor of descendantRef,
// used at CLEANUP to log a fix branch that has not landed on the base branch.
func (r *Repo) IsAncestor(ancestorRef, descendantRef string) (bool, error) {
	aHash, err := r.repo.ResolveRevision(plumbing.Revision(ancestorRef))
	if err != nil {
		return false, foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: resolve ancestor ref failed").Build()
	}
	dHash, err := r.repo.ResolveRevision(plumbing.Revision(descendantRef))
	if err != nil {
		return false, foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: resolve descendant ref failed").Build()
	}
	aCommit, err := r.repo.CommitObject(*aHash)
	if err != nil {
		return false, foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: load ancestor commit failed").Build()
	}
	dCommit, err := r.repo.CommitObject(*dHash)
	if err != nil {
		return false, foundationerrors.WrapError(err, foundationerrors.CategoryGit, "git: load descendant commit failed").Build()
	}
	return aCommit.IsAncestor(dCommit)
}

// Path returns the working tree's on-disk path.
func (r *Repo) Path() string { return r.path }

func isTransient(err error) bool {
	return err != nil && err != git.NoErrAlreadyUpToDate
}
