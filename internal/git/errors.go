// Package git backs the sync procedure with go-git. It exposes two surfaces:
// Upstream, a read-only view of the source-of-versions remote, and Mirror,
// the local checkout of the destination repository that syncs are committed
// to and published from.
package git

import (
	"errors"
	"fmt"
)

// ErrNoChanges is returned by CommitAll when the working tree matches HEAD.
var ErrNoChanges = errors.New("no changes to commit")

// ErrTagExists is returned when creating a tag whose name is already taken.
// Callers treat this as non-fatal.
var ErrTagExists = errors.New("tag already exists")

// ErrPublishConflict is returned when a push is rejected because the remote
// has diverged. It is surfaced, never auto-resolved.
var ErrPublishConflict = errors.New("remote has diverged")

// wrapError adds context while keeping errors.Is checks working.
func wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
