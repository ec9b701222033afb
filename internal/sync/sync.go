// Package sync implements the version-sync decision procedure: resolve the
// latest upstream version branch, compare it against the persisted marker,
// and when they differ replace the mirror's content, commit, tag and publish.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/mirrorsync/mirrorsyncd/internal/config"
	"github.com/mirrorsync/mirrorsyncd/internal/git"
	"github.com/mirrorsync/mirrorsyncd/internal/version"
)

// ErrUpstreamUnavailable wraps failures to list or fetch from the upstream
// source. Nothing has been mutated when it is returned; the next scheduled
// run retries from the same state.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Upstream is the read-only view of the source-of-versions repository.
type Upstream interface {
	// Branches lists the branch names currently advertised by upstream.
	Branches(ctx context.Context) ([]string, error)

	// Snapshot retrieves the content tree of one branch without history.
	Snapshot(ctx context.Context, branch string) (billy.Filesystem, error)
}

// Mirror is the writable destination repository.
type Mirror interface {
	Worktree() (billy.Filesystem, error)
	IsClean(ctx context.Context) (bool, error)
	Discard(ctx context.Context) error
	CommitAll(ctx context.Context, message string) (string, error)
	Tag(ctx context.Context, name, commit string) error
	Push(ctx context.Context) error
}

// Engine orchestrates one sync attempt. Invocations are expected to be
// serialized by the caller; the engine itself holds no locks.
type Engine struct {
	cfg      *config.Config
	upstream Upstream
	mirror   Mirror
	logger   *slog.Logger
	dryRun   bool
	now      func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, upstream Upstream, mirror Mirror, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:      cfg,
		upstream: upstream,
		mirror:   mirror,
		logger:   logger,
		dryRun:   dryRun,
		now:      time.Now,
	}
}

// Run executes one complete sync attempt and reports its outcome. All
// failures before the commit step leave the persisted marker and HEAD
// untouched, so a failed run is retried cleanly by the next trigger.
func (e *Engine) Run(ctx context.Context) (*Outcome, error) {
	locale := e.cfg.Upstream.Locale
	e.logger.Info("starting sync",
		"upstream", e.cfg.Upstream.URL,
		"locale", locale,
		"dry_run", e.dryRun)

	// A previous attempt may have aborted mid-replacement. Its leftovers
	// were never committed, so they are safe to throw away.
	if err := e.mirror.Discard(ctx); err != nil {
		return nil, fmt.Errorf("failed to discard stale working tree state: %w", err)
	}

	worktree, err := e.mirror.Worktree()
	if err != nil {
		return nil, err
	}

	current, err := readMarker(worktree, e.cfg.Sync.MarkerFile, version.Sentinel(locale))
	if err != nil {
		return nil, err
	}

	branches, err := e.upstream.Branches(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	target, ok := version.Latest(locale, branches)
	if !ok {
		e.logger.Warn("no upstream branch matches the locale pattern",
			"locale", locale,
			"branches", len(branches))
		return &Outcome{Status: StatusNoMatch, Previous: current}, nil
	}

	if target == current {
		e.logger.Info("mirror is up to date", "version", current)
		// A previous run may have committed but failed to publish. Pushing
		// here is idempotent, so the stranded commit is recovered by the
		// next trigger instead of waiting for the next version bump.
		if !e.dryRun {
			if err := e.mirror.Push(ctx); err != nil {
				return nil, err
			}
		}
		return &Outcome{Status: StatusUpToDate, Previous: current, Current: current}, nil
	}

	e.logger.Info("newer upstream version found", "current", current, "target", target)

	if e.dryRun {
		e.logger.Info("[dry-run] would sync", "from", current, "to", target)
		return &Outcome{Status: StatusDryRun, Previous: current, Current: target}, nil
	}

	snapshot, err := e.upstream.Snapshot(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	e.logger.Info("replacing mirror content", "version", target, "preserve", e.cfg.Sync.Preserve)
	if err := replaceTree(worktree, snapshot, e.cfg.Sync.Preserve); err != nil {
		return nil, fmt.Errorf("failed to replace content: %w", err)
	}

	// Upstream sometimes republishes an identical tree under a new version
	// label. Detect that before touching the marker: no content change
	// means no commit, and the marker keeps naming the committed state.
	clean, err := e.mirror.IsClean(ctx)
	if err != nil {
		return nil, err
	}
	if clean {
		e.logger.Info("fetched tree is identical to current content, skipping commit",
			"current", current, "target", target)
		if err := e.mirror.Push(ctx); err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusNoChange, Previous: current, Current: target}, nil
	}

	// Marker and content go into the same commit.
	if err := writeMarker(worktree, e.cfg.Sync.MarkerFile, target); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Sync upstream version %s", target)
	commit, err := e.mirror.CommitAll(ctx, message)
	if err != nil {
		if errors.Is(err, git.ErrNoChanges) {
			return &Outcome{Status: StatusNoChange, Previous: current, Current: target}, nil
		}
		return nil, err
	}
	e.logger.Info("committed", "commit", commit, "version", target)

	tag := fmt.Sprintf("%s-%s", target, e.now().Format("20060102"))
	if err := e.mirror.Tag(ctx, tag, commit); err != nil {
		if !errors.Is(err, git.ErrTagExists) {
			return nil, err
		}
		e.logger.Warn("tag already exists, continuing", "tag", tag)
	}

	if err := e.mirror.Push(ctx); err != nil {
		return nil, err
	}

	e.logger.Info("sync published", "from", current, "to", target, "tag", tag)
	return &Outcome{
		Status:   StatusPublished,
		Previous: current,
		Current:  target,
		Commit:   commit,
		Tag:      tag,
	}, nil
}
