// Package testutil builds throwaway in-memory git repositories for tests.
package testutil

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Repo is an in-memory repository plus its worktree filesystem.
type Repo struct {
	Repo *gogit.Repository
	FS   billy.Filesystem
}

// NewRepo initializes an empty in-memory repository with a worktree.
func NewRepo(t *testing.T) *Repo {
	t.Helper()

	fs := memfs.New()
	repo, err := gogit.Init(memory.NewStorage(), fs)
	if err != nil {
		t.Fatalf("failed to init in-memory repo: %v", err)
	}
	return &Repo{Repo: repo, FS: fs}
}

// WriteFile creates or overwrites a file in the worktree.
func (r *Repo) WriteFile(t *testing.T, name, content string) {
	t.Helper()

	if err := util.WriteFile(r.FS, name, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// ReadFile returns the content of a worktree file.
func (r *Repo) ReadFile(t *testing.T, name string) string {
	t.Helper()

	data, err := util.ReadFile(r.FS, name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// CommitAll stages everything and commits, returning the commit hash.
func (r *Repo) CommitAll(t *testing.T, message string) plumbing.Hash {
	t.Helper()

	wt, err := r.Repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		t.Fatalf("failed to stage: %v", err)
	}
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "test",
			Email: "test@test",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash
}

// Tags returns the short names of all tags in the repository.
func (r *Repo) Tags(t *testing.T) []string {
	t.Helper()

	iter, err := r.Repo.Tags()
	if err != nil {
		t.Fatalf("failed to list tags: %v", err)
	}
	var names []string
	if err := iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	}); err != nil {
		t.Fatalf("failed to iterate tags: %v", err)
	}
	return names
}

// CommitCount returns the number of commits reachable from HEAD.
func (r *Repo) CommitCount(t *testing.T) int {
	t.Helper()

	head, err := r.Repo.Head()
	if err != nil {
		t.Fatalf("failed to resolve HEAD: %v", err)
	}
	iter, err := r.Repo.Log(&gogit.LogOptions{From: head.Hash()})
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	count := 0
	if err := iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("failed to iterate log: %v", err)
	}
	return count
}
