package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// MirrorOptions configures a Mirror.
type MirrorOptions struct {
	// Remote is the name of the push remote. Defaults to "origin".
	Remote string

	// Branch is the mirror branch that syncs are committed to.
	Branch string

	// Auth authenticates push operations. May be nil.
	Auth transport.AuthMethod

	// AuthorName and AuthorEmail identify the committer of sync commits.
	AuthorName  string
	AuthorEmail string

	// Timeout bounds network operations. Zero disables the deadline.
	Timeout time.Duration

	// Now supplies commit timestamps; defaults to time.Now.
	Now func() time.Time
}

func (o *MirrorOptions) applyDefaults() {
	if o.Remote == "" {
		o.Remote = "origin"
	}
	if o.Branch == "" {
		o.Branch = "main"
	}
	if o.AuthorName == "" {
		o.AuthorName = "mirrorsyncd"
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = "mirrorsyncd@localhost"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Mirror wraps the local checkout of the destination repository.
type Mirror struct {
	repo *gogit.Repository
	opts MirrorOptions
}

// OpenMirror opens an existing mirror checkout at path.
func OpenMirror(path string, opts MirrorOptions) (*Mirror, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to open mirror at %s", path))
	}
	return NewMirror(repo, opts), nil
}

// CloneMirror clones the mirror repository from url into path and returns it.
func CloneMirror(ctx context.Context, path, url string, opts MirrorOptions) (*Mirror, error) {
	opts.applyDefaults()
	repo, err := gogit.PlainCloneContext(ctx, path, false, &gogit.CloneOptions{
		URL:           url,
		Auth:          opts.Auth,
		RemoteName:    opts.Remote,
		ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to clone mirror from %s", url))
	}
	return NewMirror(repo, opts), nil
}

// InitMirror creates a fresh repository at path with url configured as the
// push remote. Used when the destination repository is still empty.
func InitMirror(path, url string, opts MirrorOptions) (*Mirror, error) {
	opts.applyDefaults()
	repo, err := gogit.PlainInitWithOptions(path, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(opts.Branch),
		},
	})
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to init mirror at %s", path))
	}
	if url != "" {
		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: opts.Remote,
			URLs: []string{url},
		})
		if err != nil {
			return nil, wrapError(err, "failed to configure push remote")
		}
	}
	return NewMirror(repo, opts), nil
}

// NewMirror wraps an already-opened repository. Tests use this with an
// in-memory repository.
func NewMirror(repo *gogit.Repository, opts MirrorOptions) *Mirror {
	opts.applyDefaults()
	return &Mirror{repo: repo, opts: opts}
}

// Worktree returns the filesystem of the mirror's working tree.
func (m *Mirror) Worktree() (billy.Filesystem, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return nil, wrapError(err, "failed to get worktree")
	}
	return wt.Filesystem, nil
}

// IsClean reports whether the working tree matches HEAD.
func (m *Mirror) IsClean(ctx context.Context) (bool, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return false, wrapError(err, "failed to get worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return false, wrapError(err, "failed to get worktree status")
	}
	return status.IsClean(), nil
}

// Discard drops all uncommitted mutations: tracked files are reset to HEAD
// and untracked files removed. Called before each sync attempt so an aborted
// previous run cannot leak partial replacements into this one.
func (m *Mirror) Discard(ctx context.Context) error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return wrapError(err, "failed to get worktree")
	}

	head, err := m.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch, nothing committed yet. Nothing to reset to.
			return nil
		}
		return wrapError(err, "failed to resolve HEAD")
	}

	if err := wt.Reset(&gogit.ResetOptions{Commit: head.Hash(), Mode: gogit.HardReset}); err != nil {
		return wrapError(err, "failed to reset worktree")
	}
	if err := wt.Clean(&gogit.CleanOptions{Dir: true}); err != nil {
		return wrapError(err, "failed to remove untracked files")
	}
	return nil
}

// CommitAll stages every change in the working tree and commits it. It
// returns ErrNoChanges when the tree already matches HEAD, so callers can
// distinguish a no-op replacement from a real sync.
func (m *Mirror) CommitAll(ctx context.Context, message string) (string, error) {
	wt, err := m.repo.Worktree()
	if err != nil {
		return "", wrapError(err, "failed to get worktree")
	}

	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", wrapError(err, "failed to stage changes")
	}

	status, err := wt.Status()
	if err != nil {
		return "", wrapError(err, "failed to get worktree status")
	}
	if status.IsClean() {
		return "", ErrNoChanges
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  m.opts.AuthorName,
			Email: m.opts.AuthorEmail,
			When:  m.opts.Now(),
		},
	})
	if err != nil {
		return "", wrapError(err, "failed to commit")
	}
	return hash.String(), nil
}

// Tag creates a lightweight tag pointing at the given commit. Returns
// ErrTagExists when the name is already taken.
func (m *Mirror) Tag(ctx context.Context, name, commit string) error {
	refName := plumbing.NewTagReferenceName(name)
	if _, err := m.repo.Reference(refName, true); err == nil {
		return fmt.Errorf("%w: %s", ErrTagExists, name)
	}

	ref := plumbing.NewHashReference(refName, plumbing.NewHash(commit))
	if err := m.repo.Storer.SetReference(ref); err != nil {
		return wrapError(err, fmt.Sprintf("failed to create tag %s", name))
	}
	return nil
}

// Push publishes the mirror branch and all tags to the push remote.
// A rejected non-fast-forward update is reported as ErrPublishConflict.
func (m *Mirror) Push(ctx context.Context) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	branch := plumbing.NewBranchReferenceName(m.opts.Branch)
	err := m.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: m.opts.Remote,
		Auth:       m.opts.Auth,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("%s:%s", branch, branch)),
			gitconfig.RefSpec("refs/tags/*:refs/tags/*"),
		},
	})
	switch {
	case err == nil, errors.Is(err, gogit.NoErrAlreadyUpToDate):
		return nil
	case strings.Contains(err.Error(), "non-fast-forward"):
		return fmt.Errorf("%w: %v", ErrPublishConflict, err)
	default:
		return wrapError(err, "failed to push")
	}
}

func (m *Mirror) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.Timeout)
}
