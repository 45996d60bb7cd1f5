package integration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

// Removal is the outcome of Uninstall or Zap.
type Removal struct {
	Removed  []string // paths that existed and were removed
	Warnings []error
}

// Remover reverses Register and purges user state.
type Remover struct {
	layout    Layout
	refresher Refresher
	logger    config.Logger
}

// NewRemover creates a remover. A nil refresher disables the refresh.
func NewRemover(layout Layout, refresher Refresher, logger config.Logger) *Remover {
	return &Remover{layout: layout, refresher: refresher, logger: config.OrDiscard(logger)}
}

// Uninstall removes the Record of pkg, recomputed from its name, then
// refreshes the desktop database. Paths that are already gone are skipped,
// so repeated calls succeed. A regular file at the symlink path is left
// alone and reported as an error.
func (r *Remover) Uninstall(ctx context.Context, pkg string) (*Removal, error) {
	if err := manifest.ValidateName(pkg); err != nil {
		return nil, err
	}
	record := r.layout.RecordFor(pkg)
	res := &Removal{}
	var errs []error

	if removed, err := removeSymlink(record.Symlink); err != nil {
		errs = append(errs, pkgerr.New(pkgerr.KindFilesystem, "unlink", record.Symlink, err))
	} else if removed {
		res.Removed = append(res.Removed, record.Symlink)
	}

	for _, path := range []string{record.DesktopEntry, record.Icon} {
		removed, err := removeFile(path)
		if err != nil {
			errs = append(errs, pkgerr.New(pkgerr.KindFilesystem, "remove", path, err))
			continue
		}
		if removed {
			res.Removed = append(res.Removed, path)
		}
	}

	for _, p := range res.Removed {
		r.logger.Debug("removed", "path", p)
	}

	dir := r.layout.ApplicationsDir()
	if r.refresher != nil {
		if err := r.refresher.Refresh(ctx, dir); err != nil {
			r.logger.Warn("desktop database refresh failed", "dir", dir, "error", err)
			res.Warnings = append(res.Warnings, pkgerr.New(pkgerr.KindIntegrationWarning, "refresh", dir, err))
		}
	}

	return res, errors.Join(errs...)
}

// Zap removes each target tree. Absent targets are skipped; other failures
// are collected and the remaining targets are still attempted. Targets must
// lie strictly inside Home.
func (r *Remover) Zap(ctx context.Context, targets []string) (*Removal, error) {
	res := &Removal{}
	var errs []error

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.checkZapTarget(target); err != nil {
			errs = append(errs, pkgerr.New(pkgerr.KindFilesystem, "zap", target, err))
			continue
		}
		if _, err := os.Lstat(target); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, pkgerr.New(pkgerr.KindFilesystem, "zap", target, err))
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, pkgerr.New(pkgerr.KindFilesystem, "zap", target, err))
			continue
		}
		r.logger.Debug("zapped", "path", target)
		res.Removed = append(res.Removed, target)
	}

	return res, errors.Join(errs...)
}

func (r *Remover) checkZapTarget(target string) error {
	clean := filepath.Clean(target)
	if !filepath.IsAbs(clean) {
		return fmt.Errorf("zap target must be absolute")
	}
	home := filepath.Clean(r.layout.Home)
	rel, err := filepath.Rel(home, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside %s", clean, home)
	}
	return nil
}

// removeSymlink removes path if it is a symlink. It reports whether
// something was removed.
func removeSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.Mode()&fs.ModeSymlink == 0 {
		return false, fmt.Errorf("not a symlink, refusing to remove")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, nil
}

// removeFile removes a file or symlink at path. It reports whether
// something was removed.
func removeFile(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
