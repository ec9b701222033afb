package git

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Upstream is a read-only client for the source-of-versions remote.
type Upstream struct {
	url     string
	auth    transport.AuthMethod
	timeout time.Duration
}

// NewUpstream creates an upstream client. A zero timeout disables the
// per-operation deadline.
func NewUpstream(url string, auth transport.AuthMethod, timeout time.Duration) *Upstream {
	return &Upstream{url: url, auth: auth, timeout: timeout}
}

// Branches lists the branch names advertised by the upstream remote.
// The listing is fetched fresh on every call, never cached.
func (u *Upstream) Branches(ctx context.Context) ([]string, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	remote := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "upstream",
		URLs: []string{u.url},
	})

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: u.auth})
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to list branches of %s", u.url))
	}

	var branches []string
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches = append(branches, ref.Name().Short())
		}
	}
	return branches, nil
}

// Snapshot retrieves the content tree of a single branch as a shallow,
// history-free clone into a throwaway in-memory filesystem. Object storage
// stays in memory too, so the returned filesystem holds only the worktree.
func (u *Upstream) Snapshot(ctx context.Context, branch string) (billy.Filesystem, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	fs := memfs.New()
	_, err := gogit.CloneContext(ctx, memory.NewStorage(), fs, &gogit.CloneOptions{
		URL:           u.url,
		Auth:          u.auth,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Depth:         1,
		Tags:          gogit.NoTags,
	})
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to fetch snapshot of %s", branch))
	}
	return fs, nil
}

func (u *Upstream) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.timeout)
}
