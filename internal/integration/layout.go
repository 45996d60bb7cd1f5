// Package integration makes an installed package visible to the user's
// desktop and takes it away again.
//
// Every path it touches is derived from the package name by Layout, so the
// Record of what an install created can be recomputed at uninstall time
// without any stored state.
package integration

import (
	"path/filepath"
	"strings"
)

// Layout anchors the well-known paths.
type Layout struct {
	Prefix string // owns bin/ and Caskroom/
	Home   string // user home
}

// BinDir holds the stable executable symlinks.
func (l Layout) BinDir() string {
	return filepath.Join(l.Prefix, "bin")
}

// SymlinkPath is the stable, externally visible executable path.
func (l Layout) SymlinkPath(pkg string) string {
	return filepath.Join(l.BinDir(), pkg)
}

// CaskroomDir holds every managed version of pkg.
func (l Layout) CaskroomDir(pkg string) string {
	return filepath.Join(l.Prefix, "Caskroom", pkg)
}

// VersionDir holds the installed tree of one version of pkg.
func (l Layout) VersionDir(pkg, version string) string {
	return filepath.Join(l.CaskroomDir(pkg), version)
}

// ManagedPath is where the executable of one version is installed. The
// executable keeps its path relative to the package root.
func (l Layout) ManagedPath(pkg, version, executable string) string {
	return filepath.Join(l.VersionDir(pkg, version), filepath.FromSlash(executable))
}

// ApplicationsDir is the user's desktop-entry directory.
func (l Layout) ApplicationsDir() string {
	return filepath.Join(l.Home, ".local", "share", "applications")
}

// DesktopEntryPath is the installed desktop entry of pkg.
func (l Layout) DesktopEntryPath(pkg string) string {
	return filepath.Join(l.ApplicationsDir(), pkg+".desktop")
}

// IconThemeDir is the hicolor icon theme in the user's data directory.
func (l Layout) IconThemeDir() string {
	return filepath.Join(l.Home, ".local", "share", "icons", "hicolor")
}

// IconPath is the installed icon of pkg.
func (l Layout) IconPath(pkg string) string {
	return filepath.Join(l.IconThemeDir(), "256x256", "apps", pkg+".png")
}

// RecordFor recomputes the Record of pkg.
func (l Layout) RecordFor(pkg string) Record {
	return Record{
		Symlink:      l.SymlinkPath(pkg),
		DesktopEntry: l.DesktopEntryPath(pkg),
		Icon:         l.IconPath(pkg),
	}
}

// ZapTargets returns the user-state directories of a package: its cache,
// config and data directories, followed by any extra paths. A leading "~/"
// in extra is expanded against Home. Duplicates are dropped.
func (l Layout) ZapTargets(displayName string, extra []string) []string {
	targets := []string{
		filepath.Join(l.Home, ".cache", displayName),
		filepath.Join(l.Home, ".config", displayName),
		filepath.Join(l.Home, ".local", "share", displayName),
	}
	for _, p := range extra {
		if strings.HasPrefix(p, "~/") {
			p = filepath.Join(l.Home, p[2:])
		}
		targets = append(targets, filepath.Clean(p))
	}

	seen := make(map[string]bool, len(targets))
	out := targets[:0]
	for _, p := range targets {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Record is the set of paths an install creates outside the staging tree.
type Record struct {
	Symlink      string `json:"symlink"`
	DesktopEntry string `json:"desktop_entry,omitempty"`
	Icon         string `json:"icon,omitempty"`
}

// Paths lists the non-empty paths in creation order.
func (r Record) Paths() []string {
	var paths []string
	for _, p := range []string{r.Symlink, r.DesktopEntry, r.Icon} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
