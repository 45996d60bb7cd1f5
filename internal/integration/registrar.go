package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

// Tracker is told about each path just before it is written, so a failed
// install can remove what it created and restore what it replaced.
type Tracker interface {
	Preserve(path string) error
}

// Source names what to integrate. DesktopTemplate and Icon are optional.
type Source struct {
	Package         string
	Executable      string // managed executable the symlink points at
	DesktopTemplate string // staged desktop-entry template
	Icon            string // staged PNG icon
}

// Registration is the outcome of Register.
type Registration struct {
	Record   Record
	Warnings []error // non-fatal, kind IntegrationWarning
}

// Registrar performs the integration steps.
type Registrar struct {
	layout    Layout
	refresher Refresher
	logger    config.Logger
}

// NewRegistrar creates a registrar. A nil refresher disables the refresh.
func NewRegistrar(layout Layout, refresher Refresher, logger config.Logger) *Registrar {
	return &Registrar{layout: layout, refresher: refresher, logger: config.OrDiscard(logger)}
}

// Register links, writes and copies in a fixed order:
//
//  1. force-replace the symlink <prefix>/bin/<pkg> -> src.Executable
//  2. write the desktop entry with Exec= set to that symlink path
//  3. copy the icon into the hicolor theme
//  4. refresh the desktop database
//
// Each path is passed to tracker before it is written. A refresh failure
// is returned as a warning, not an error.
func (r *Registrar) Register(ctx context.Context, src Source, tracker Tracker) (*Registration, error) {
	reg := &Registration{}
	preserve := func(op, path string) error {
		if tracker == nil {
			return nil
		}
		if err := tracker.Preserve(path); err != nil {
			return pkgerr.New(pkgerr.KindFilesystem, op, path, err)
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symlink := r.layout.SymlinkPath(src.Package)
	if info, err := os.Lstat(symlink); err == nil && info.IsDir() {
		return nil, pkgerr.Newf(pkgerr.KindFilesystem, "link", symlink, "is a directory")
	}
	if err := preserve("link", symlink); err != nil {
		return nil, err
	}
	if err := forceSymlink(src.Executable, symlink); err != nil {
		return nil, pkgerr.New(pkgerr.KindFilesystem, "link", symlink, err)
	}
	reg.Record.Symlink = symlink
	r.logger.Debug("linked executable", "symlink", symlink, "target", src.Executable)

	if src.DesktopTemplate != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry := r.layout.DesktopEntryPath(src.Package)
		template, err := os.ReadFile(src.DesktopTemplate)
		if err != nil {
			return nil, pkgerr.New(pkgerr.KindFilesystem, "read desktop entry", src.DesktopTemplate, err)
		}
		// Exec= must equal the symlink written in step 1.
		content := RewriteDesktopEntry(template, symlink, src.Package)
		if err := preserve("write desktop entry", entry); err != nil {
			return nil, err
		}
		if err := writeAtomic(entry, bytes.NewReader(content), 0644); err != nil {
			return nil, pkgerr.New(pkgerr.KindFilesystem, "write desktop entry", entry, err)
		}
		reg.Record.DesktopEntry = entry
		r.logger.Debug("wrote desktop entry", "path", entry)
	}

	if src.Icon != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		icon := r.layout.IconPath(src.Package)
		if err := preserve("install icon", icon); err != nil {
			return nil, err
		}
		if err := copyFile(src.Icon, icon, 0644); err != nil {
			return nil, pkgerr.New(pkgerr.KindFilesystem, "install icon", icon, err)
		}
		reg.Record.Icon = icon
		r.logger.Debug("installed icon", "path", icon)
	}

	if reg.Record.DesktopEntry != "" {
		if w := r.refresh(ctx); w != nil {
			reg.Warnings = append(reg.Warnings, w)
		}
	}

	return reg, nil
}

// refresh runs the refresher and turns a failure into a warning.
func (r *Registrar) refresh(ctx context.Context) error {
	if r.refresher == nil {
		return nil
	}
	dir := r.layout.ApplicationsDir()
	if err := r.refresher.Refresh(ctx, dir); err != nil {
		w := pkgerr.New(pkgerr.KindIntegrationWarning, "refresh", dir, err)
		r.logger.Warn("desktop database refresh failed", "dir", dir, "error", err)
		return w
	}
	return nil
}

// forceSymlink points link at target, replacing whatever link is there.
// The new link is created beside the old one and renamed over it, so the
// path is never missing.
func forceSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return fmt.Errorf("create link dir: %w", err)
	}
	if info, err := os.Lstat(link); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", link)
	}

	tmp := link + ".tapline-tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// copyFile copies src to dst atomically.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeAtomic(dst, in, perm)
}

// writeAtomic writes r to a temp file beside path and renames it into place.
func writeAtomic(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanupNeeded = false
	return nil
}
