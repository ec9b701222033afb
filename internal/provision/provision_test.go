package provision

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorsync/mirrorsyncd/internal/config"
	"github.com/mirrorsync/mirrorsyncd/internal/git"
	"github.com/mirrorsync/mirrorsyncd/internal/testutil"
)

// testMirror wraps a real in-memory mirror, counting pushes instead of
// contacting a remote.
type testMirror struct {
	*git.Mirror
	pushes int
}

func (m *testMirror) Push(ctx context.Context) error {
	m.pushes++
	return nil
}

type fixture struct {
	cfg         *config.Config
	repo        *testutil.Repo
	mirror      *testMirror
	provisioner *Provisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			URL:    "https://github.com/example/phrasebook.git",
			Locale: "gb",
		},
		Mirror: config.MirrorConfig{
			Path:   "/var/lib/mirrorsync/phrasebook-gb",
			Remote: "origin",
			Branch: "main",
		},
		Sync: config.SyncConfig{
			MarkerFile: "UPSTREAM_VERSION",
			Preserve:   []string{"README.md", ".github", "UPSTREAM_VERSION"},
			Interval:   config.Duration(6 * time.Hour),
		},
	}

	repo := testutil.NewRepo(t)
	mirror := &testMirror{Mirror: git.NewMirror(repo.Repo, git.MirrorOptions{
		Branch:      "master",
		AuthorName:  "test",
		AuthorEmail: "test@test",
	})}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		cfg:         cfg,
		repo:        repo,
		mirror:      mirror,
		provisioner: New(cfg, mirror, logger),
	}
}

func TestRun_SeedsFiles(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.provisioner.Run(context.Background(), false))

	assert.Equal(t, "gb-0\n", f.repo.ReadFile(t, "UPSTREAM_VERSION"))

	readme := f.repo.ReadFile(t, "README.md")
	assert.Contains(t, readme, "https://github.com/example/phrasebook.git")
	assert.Contains(t, readme, `"gb-N"`)
	assert.Contains(t, readme, "UPSTREAM_VERSION")

	workflow := f.repo.ReadFile(t, ".github/workflows/sync.yml")
	assert.Contains(t, workflow, "ref: main")

	assert.Equal(t, 1, f.repo.CommitCount(t))
	assert.Equal(t, 0, f.mirror.pushes)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.provisioner.Run(context.Background(), false))
	require.NoError(t, f.provisioner.Run(context.Background(), false))

	assert.Equal(t, 1, f.repo.CommitCount(t), "re-running must not commit again")
}

func TestRun_KeepsExistingFiles(t *testing.T) {
	f := newFixture(t)
	f.repo.WriteFile(t, "UPSTREAM_VERSION", "gb-5\n")
	f.repo.CommitAll(t, "hand-provisioned marker")

	require.NoError(t, f.provisioner.Run(context.Background(), false))

	assert.Equal(t, "gb-5\n", f.repo.ReadFile(t, "UPSTREAM_VERSION"),
		"existing marker must not be overwritten")
	f.repo.ReadFile(t, "README.md")
}

func TestRun_Push(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.provisioner.Run(context.Background(), true))

	assert.Equal(t, 1, f.mirror.pushes)
}

func TestRun_PushSkippedWhenNothingCommitted(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.provisioner.Run(context.Background(), false))
	require.NoError(t, f.provisioner.Run(context.Background(), true))

	assert.Equal(t, 0, f.mirror.pushes,
		"an already provisioned mirror must not be pushed again")
}
