package sync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// capturedFile is one preserved file held in memory across a replacement.
// Symlinks are captured as their target, not their target's content.
type capturedFile struct {
	data []byte
	mode os.FileMode
	link string
}

// replaceTree swaps the entire content of dst for the content of src while
// keeping the preserved paths intact. The procedure is deliberately
// three-phase: capture the preserved paths, clear dst and write the foreign
// tree unconstrained, then restore the captured state on top. Restoring
// afterwards (instead of excluding during the write) guards both against the
// foreign tree carrying a path with a preserved name and against it deleting
// a path that must persist.
func replaceTree(dst, src billy.Filesystem, preserved []string) error {
	saved := make(map[string]capturedFile)
	for _, p := range preserved {
		if err := captureTree(dst, p, saved); err != nil {
			return fmt.Errorf("failed to capture preserved path %s: %w", p, err)
		}
	}

	if err := clearTree(dst); err != nil {
		return err
	}

	if err := copyTree(dst, src, "."); err != nil {
		return err
	}

	for name, f := range saved {
		if err := restoreFile(dst, name, f); err != nil {
			return fmt.Errorf("failed to restore preserved path %s: %w", name, err)
		}
	}
	return nil
}

// captureTree records the file (or directory subtree) at name into saved.
// A preserved path that does not exist locally is skipped, not invented.
func captureTree(fs billy.Filesystem, name string, saved map[string]capturedFile) error {
	info, err := fs.Lstat(name)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := fs.Readlink(name)
		if err != nil {
			return err
		}
		saved[name] = capturedFile{mode: info.Mode(), link: target}
		return nil
	}

	if !info.IsDir() {
		data, err := util.ReadFile(fs, name)
		if err != nil {
			return err
		}
		saved[name] = capturedFile{data: data, mode: info.Mode()}
		return nil
	}

	entries, err := fs.ReadDir(name)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := captureTree(fs, fs.Join(name, entry.Name()), saved); err != nil {
			return err
		}
	}
	return nil
}

// clearTree deletes every top-level entry of the working tree except the
// repository's own .git directory.
func clearTree(fs billy.Filesystem) error {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return fmt.Errorf("failed to list working tree: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		if err := util.RemoveAll(fs, entry.Name()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// copyTree writes the subtree of src rooted at dir into dst at the same
// relative location, preserving file modes and symlinks.
func copyTree(dst, src billy.Filesystem, dir string) error {
	entries, err := src.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read snapshot dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := src.Join(dir, entry.Name())

		switch {
		case entry.IsDir():
			if err := dst.MkdirAll(name, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", name, err)
			}
			if err := copyTree(dst, src, name); err != nil {
				return err
			}

		case entry.Mode()&os.ModeSymlink != 0:
			target, err := src.Readlink(name)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", name, err)
			}
			if err := dst.Symlink(target, name); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", name, err)
			}

		default:
			data, err := util.ReadFile(src, name)
			if err != nil {
				return fmt.Errorf("failed to read snapshot file %s: %w", name, err)
			}
			if err := util.WriteFile(dst, name, data, entry.Mode().Perm()); err != nil {
				return fmt.Errorf("failed to write %s: %w", name, err)
			}
		}
	}
	return nil
}

func restoreFile(fs billy.Filesystem, name string, f capturedFile) error {
	// The foreign tree may have put a directory where the preserved file
	// was, or a file where one of its ancestor directories belongs. Clear
	// both kinds of conflict before writing. A preserved symlink needs its
	// name free too, since it cannot be written over an existing file.
	isLink := f.mode&os.ModeSymlink != 0
	if info, err := fs.Lstat(name); err == nil && (info.IsDir() || isLink) {
		if err := util.RemoveAll(fs, name); err != nil {
			return err
		}
	}
	for dir := filepath.Dir(name); dir != "." && dir != "/"; dir = filepath.Dir(dir) {
		if info, err := fs.Lstat(dir); err == nil && !info.IsDir() {
			if err := fs.Remove(dir); err != nil {
				return err
			}
		}
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if isLink {
		return fs.Symlink(f.link, name)
	}
	return util.WriteFile(fs, name, f.data, f.mode.Perm())
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || os.IsNotExist(err)
}
