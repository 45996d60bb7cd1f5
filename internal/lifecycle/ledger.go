package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
)

// entry is one ledger step. A non-empty backup holds what was at path
// before the install touched it.
type entry struct {
	path   string
	backup string
}

// Ledger is the ordered list of paths an install has created or replaced.
// Rollback removes created paths and puts replaced ones back; Commit drops
// the backups once the install has succeeded.
type Ledger struct {
	entries []entry
	logger  config.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger config.Logger) *Ledger {
	return &Ledger{logger: config.OrDiscard(logger)}
}

// Track records a path the install created.
func (l *Ledger) Track(path string) {
	l.entries = append(l.entries, entry{path: path})
}

// Preserve records path before it is overwritten with a file or symlink.
// An existing file or symlink is backed up beside it and left in place, so
// the path stays usable until the caller replaces it. A missing path is
// tracked as created. Directories are refused.
func (l *Ledger) Preserve(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.Track(path)
		return nil
	}
	if err != nil {
		return err
	}

	backup := backupName(path)
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		if err := os.Symlink(target, backup); err != nil {
			return err
		}
	case info.Mode().IsRegular():
		if err := os.Link(path, backup); err != nil {
			if err := copyRegular(path, backup, info.Mode().Perm()); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s is not a file or symlink", path)
	}

	l.entries = append(l.entries, entry{path: path, backup: backup})
	return nil
}

// MoveAside renames an existing path out of the way so the caller can
// create a fresh one. A missing path is tracked as created.
func (l *Ledger) MoveAside(path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		l.Track(path)
		return nil
	} else if err != nil {
		return err
	}

	backup := backupName(path)
	if err := os.Rename(path, backup); err != nil {
		return err
	}
	l.entries = append(l.entries, entry{path: path, backup: backup})
	return nil
}

// Paths returns the recorded paths in order.
func (l *Ledger) Paths() []string {
	paths := make([]string, len(l.entries))
	for i, e := range l.entries {
		paths[i] = e.path
	}
	return paths
}

// Rollback undoes the recorded steps in reverse order and empties the
// ledger. Failures are logged and returned; they never stop the unwinding.
func (l *Ledger) Rollback() []error {
	var errs []error
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if err := os.RemoveAll(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.logger.Error("rollback failed", "path", e.path, "error", err)
			errs = append(errs, err)
			continue
		}
		if e.backup != "" {
			if err := os.Rename(e.backup, e.path); err != nil {
				l.logger.Error("restore failed", "path", e.path, "backup", e.backup, "error", err)
				errs = append(errs, err)
				continue
			}
			l.logger.Debug("restored", "path", e.path)
			continue
		}
		l.logger.Debug("rolled back", "path", e.path)
	}
	l.entries = nil
	return errs
}

// Commit removes the backups and empties the ledger.
func (l *Ledger) Commit() []error {
	var errs []error
	for _, e := range l.entries {
		if e.backup == "" {
			continue
		}
		if err := os.RemoveAll(e.backup); err != nil {
			l.logger.Warn("failed to remove backup", "path", e.backup, "error", err)
			errs = append(errs, err)
		}
	}
	l.entries = nil
	return errs
}

// backupName returns a hidden sibling of path that does not exist yet.
func backupName(path string) string {
	dir, base := filepath.Split(path)
	stamp := time.Now().UnixNano()
	for {
		name := filepath.Join(dir, fmt.Sprintf(".%s.tapline-backup-%d", base, stamp))
		if _, err := os.Lstat(name); errors.Is(err, fs.ErrNotExist) {
			return name
		}
		stamp++
	}
}

// copyRegular copies src to a new file dst.
func copyRegular(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Chmod(dst, perm)
}
