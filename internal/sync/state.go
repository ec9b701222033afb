package sync

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Status is the terminal state of one sync attempt.
type Status string

const (
	// StatusUpToDate means the persisted marker already names the latest
	// upstream version. No side effects.
	StatusUpToDate Status = "up-to-date"

	// StatusNoMatch means no upstream branch matched the locale pattern.
	// Treated as nothing to do, not as a failure.
	StatusNoMatch Status = "no-matching-version"

	// StatusNoChange means the fetched tree was identical to the current
	// content outside the preserved paths; no commit was produced and the
	// marker was left untouched.
	StatusNoChange Status = "no-change"

	// StatusPublished means a new commit and tag were pushed.
	StatusPublished Status = "published"

	// StatusDryRun means a sync was needed but suppressed by --dry-run.
	StatusDryRun Status = "dry-run"
)

// Outcome reports the result of one sync attempt for downstream notification.
type Outcome struct {
	Status   Status
	Previous string // marker value before the attempt
	Current  string // resolved target version ("" when none matched)
	Commit   string // commit hash, set when Status == StatusPublished
	Tag      string // tag name, set when Status == StatusPublished
}

// readMarker reads the persisted version marker from the working tree.
// A missing marker falls back to the given sentinel so a freshly provisioned
// (or hand-created) mirror syncs from scratch instead of failing.
func readMarker(fs billy.Filesystem, name, sentinel string) (string, error) {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		if isNotExist(err) {
			return sentinel, nil
		}
		return "", fmt.Errorf("failed to read version marker %s: %w", name, err)
	}
	marker := strings.TrimSpace(string(data))
	if marker == "" {
		return sentinel, nil
	}
	return marker, nil
}

// writeMarker overwrites the persisted version marker in the working tree.
func writeMarker(fs billy.Filesystem, name, value string) error {
	if err := util.WriteFile(fs, name, []byte(value+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write version marker %s: %w", name, err)
	}
	return nil
}
