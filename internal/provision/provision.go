// Package provision bootstraps a mirror repository: it seeds the sentinel
// version marker, a README describing the mirror, and a scheduled-workflow
// file, then commits the result so the first sync starts from a well-formed
// tree.
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/template"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mirrorsync/mirrorsyncd/internal/config"
	"github.com/mirrorsync/mirrorsyncd/internal/git"
	"github.com/mirrorsync/mirrorsyncd/internal/version"
)

// Mirror is the subset of repository operations provisioning needs.
type Mirror interface {
	Worktree() (billy.Filesystem, error)
	CommitAll(ctx context.Context, message string) (string, error)
	Push(ctx context.Context) error
}

// Provisioner seeds a freshly created mirror repository.
type Provisioner struct {
	cfg    *config.Config
	mirror Mirror
	logger *slog.Logger
}

// New creates a Provisioner.
func New(cfg *config.Config, mirror Mirror, logger *slog.Logger) *Provisioner {
	return &Provisioner{cfg: cfg, mirror: mirror, logger: logger}
}

// templateData feeds the README and workflow templates.
type templateData struct {
	UpstreamURL string
	Locale      string
	MarkerFile  string
	Branch      string
	Interval    string
	Sentinel    string
}

const workflowPath = ".github/workflows/sync.yml"

// Run writes the seed files that are missing, commits them, and publishes
// the commit when push is true. Running it against an already provisioned
// mirror is a no-op.
func (p *Provisioner) Run(ctx context.Context, push bool) error {
	worktree, err := p.mirror.Worktree()
	if err != nil {
		return err
	}

	data := templateData{
		UpstreamURL: p.cfg.Upstream.URL,
		Locale:      p.cfg.Upstream.Locale,
		MarkerFile:  p.cfg.Sync.MarkerFile,
		Branch:      p.cfg.Mirror.Branch,
		Interval:    p.cfg.Sync.Interval.String(),
		Sentinel:    version.Sentinel(p.cfg.Upstream.Locale),
	}

	seeds := []struct {
		path string
		tmpl *template.Template
	}{
		{p.cfg.Sync.MarkerFile, markerTemplate},
		{"README.md", readmeTemplate},
		{workflowPath, workflowTemplate},
	}

	for _, seed := range seeds {
		exists, err := fileExists(worktree, seed.path)
		if err != nil {
			return err
		}
		if exists {
			p.logger.Info("seed file already present, keeping it", "path", seed.path)
			continue
		}
		if err := writeTemplate(worktree, seed.path, seed.tmpl, data); err != nil {
			return fmt.Errorf("failed to seed %s: %w", seed.path, err)
		}
		p.logger.Info("seeded file", "path", seed.path)
	}

	commit, err := p.mirror.CommitAll(ctx, "Provision mirror")
	if err != nil {
		if errors.Is(err, git.ErrNoChanges) {
			p.logger.Info("mirror already provisioned")
			return nil
		}
		return err
	}
	p.logger.Info("provisioning committed", "commit", commit)

	if push {
		if err := p.mirror.Push(ctx); err != nil {
			return err
		}
		p.logger.Info("provisioning published")
	}
	return nil
}

func fileExists(fs billy.Filesystem, name string) (bool, error) {
	_, err := fs.Lstat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) || os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func writeTemplate(fs billy.Filesystem, name string, tmpl *template.Template, data templateData) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	return util.WriteFile(fs, name, buf.Bytes(), 0o644)
}
