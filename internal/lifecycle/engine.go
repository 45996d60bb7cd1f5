package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/extract"
	"github.com/ZebulonRouseFrantzich/tapline/internal/fetch"
	"github.com/ZebulonRouseFrantzich/tapline/internal/integration"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
)

// Fetcher downloads and verifies an artifact.
type Fetcher interface {
	Fetch(ctx context.Context, art *manifest.Artifact, destDir string) (*fetch.Result, error)
}

// Extractor unpacks an artifact into a staging tree.
type Extractor interface {
	Extract(ctx context.Context, archivePath string, kind manifest.Container, stagingDir string) error
}

// Options configures an Engine.
type Options struct {
	Layout    integration.Layout
	StateDir  string                // downloads/ and staging/ live here
	Fetcher   Fetcher               // defaults to fetch.New()
	Extractor Extractor             // defaults to extract.NewExtractor
	Refresher integration.Refresher // nil disables the desktop refresh
	Logger    config.Logger

	// KeepStaging leaves the staging tree in place after install.
	KeepStaging bool
}

// Engine runs install and removal operations. It takes no locks; callers
// must not run two operations on the same package at once.
type Engine struct {
	layout      integration.Layout
	stateDir    string
	fetcher     Fetcher
	extractor   Extractor
	registrar   *integration.Registrar
	remover     *integration.Remover
	logger      config.Logger
	keepStaging bool
}

// NewEngine creates an engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Layout.Prefix == "" || opts.Layout.Home == "" {
		return nil, fmt.Errorf("layout prefix and home are required")
	}
	if opts.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	logger := config.OrDiscard(opts.Logger)
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.New(fetch.WithLogger(logger))
	}
	if opts.Extractor == nil {
		opts.Extractor = extract.NewExtractor(logger)
	}

	return &Engine{
		layout:      opts.Layout,
		stateDir:    opts.StateDir,
		fetcher:     opts.Fetcher,
		extractor:   opts.Extractor,
		registrar:   integration.NewRegistrar(opts.Layout, opts.Refresher, logger),
		remover:     integration.NewRemover(opts.Layout, opts.Refresher, logger),
		logger:      logger,
		keepStaging: opts.KeepStaging,
	}, nil
}

// Layout returns the engine's path layout.
func (e *Engine) Layout() integration.Layout {
	return e.layout
}

// DownloadDir is where artifacts of one package version are kept.
func (e *Engine) DownloadDir(pkg, version string) string {
	return filepath.Join(e.stateDir, "downloads", pkg, version)
}

// StagingDir is the extraction root of pkg.
func (e *Engine) StagingDir(pkg string) string {
	return filepath.Join(e.stateDir, "staging", pkg)
}

// transition moves rep to s, refusing once ctx is done.
func (e *Engine) transition(ctx context.Context, rep *Report, s State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	e.logger.Info("lifecycle transition", "package", rep.Package, "from", string(rep.State), "to", string(s))
	rep.enter(s)
	return nil
}

// Install resolves, fetches, extracts and integrates m for host. The
// extracted tree is installed whole under Caskroom/<pkg>/<version>. It
// succeeds only once the stable symlink resolves to an executable. On
// failure every path created so far is removed, every path replaced is
// restored, and the report ends in StateFailed.
func (e *Engine) Install(ctx context.Context, m *manifest.Manifest, host platform.Info) (rep *Report, err error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	rep = newReport(m.Name, m.Version)
	ledger := NewLedger(e.logger)
	staging := e.StagingDir(m.Name)

	defer func() {
		if !e.keepStaging {
			if rmErr := os.RemoveAll(staging); rmErr != nil {
				e.logger.Warn("failed to remove staging tree", "path", staging, "error", rmErr)
			}
		}
		if !pkgerr.Fatal(err) {
			return
		}
		failedIn := rep.State
		rep.enter(StateFailed)
		if cleanupErrs := ledger.Rollback(); len(cleanupErrs) > 0 {
			e.logger.Warn("rollback incomplete", "package", m.Name, "errors", len(cleanupErrs))
		}
		rep.Record = integration.Record{}
		rep.ManagedPath = ""
		e.logger.Error("install failed", "package", m.Name, "stage", string(failedIn), "error", err)
	}()

	if err := m.Validate(); err != nil {
		return rep, fmt.Errorf("invalid manifest: %w", err)
	}

	art, err := manifest.Resolve(m, host)
	if err != nil {
		return rep, err
	}
	rep.Artifact = art
	e.logger.Debug("resolved artifact", "package", m.Name, "host", host.String(), "url", art.URL)

	// Preflight: fetch, verify, extract.
	if err := e.transition(ctx, rep, StatePreflight); err != nil {
		return rep, err
	}
	res, err := e.fetcher.Fetch(ctx, art, e.DownloadDir(m.Name, m.Version))
	if err != nil {
		return rep, err
	}
	rep.Fetch = res
	if err := e.extractor.Extract(ctx, res.Path, art.Container, staging); err != nil {
		return rep, err
	}

	// Installing: move the whole package tree to its managed location.
	if err := e.transition(ctx, rep, StateInstalling); err != nil {
		return rep, err
	}
	if _, err := treeFile(staging, m.App.Executable, pkgerr.KindMissingExecutable, "install"); err != nil {
		return rep, err
	}
	versionDir := e.layout.VersionDir(m.Name, m.Version)
	if err := installTree(staging, versionDir, ledger); err != nil {
		return rep, pkgerr.New(pkgerr.KindFilesystem, "install", versionDir, err)
	}
	managed := e.layout.ManagedPath(m.Name, m.Version, m.App.Executable)
	rep.ManagedPath = managed

	// Postflight: integrate.
	if err := e.transition(ctx, rep, StatePostflight); err != nil {
		return rep, err
	}
	if _, err := treeFile(versionDir, m.App.Executable, pkgerr.KindMissingExecutable, "postflight"); err != nil {
		return rep, err
	}
	if err := makeExecutable(managed); err != nil {
		return rep, pkgerr.New(pkgerr.KindFilesystem, "postflight", managed, err)
	}
	src := integration.Source{Package: m.Name, Executable: managed}
	if m.App.DesktopEntry != "" {
		if src.DesktopTemplate, err = treeFile(versionDir, m.App.DesktopEntry, pkgerr.KindFilesystem, "postflight"); err != nil {
			return rep, err
		}
	}
	if m.App.Icon != "" {
		if src.Icon, err = treeFile(versionDir, m.App.Icon, pkgerr.KindFilesystem, "postflight"); err != nil {
			return rep, err
		}
	}

	reg, err := e.registrar.Register(ctx, src, ledger)
	if err != nil {
		return rep, err
	}
	rep.Record = reg.Record
	rep.Warnings = append(rep.Warnings, reg.Warnings...)

	if err := checkReachable(reg.Record.Symlink); err != nil {
		return rep, err
	}

	if err := e.transition(ctx, rep, StateComplete); err != nil {
		return rep, err
	}
	if errs := ledger.Commit(); len(errs) > 0 {
		e.logger.Warn("failed to remove backups", "package", m.Name, "errors", len(errs))
	}
	return rep, nil
}

// Uninstall removes the integration record of pkg and its managed copies.
// It succeeds when nothing is left to remove. User state is never touched.
func (e *Engine) Uninstall(ctx context.Context, pkg string) (*Report, error) {
	rep := newReport(pkg, "")
	if err := e.transition(ctx, rep, StateUninstallPostflight); err != nil {
		return rep, err
	}

	removal, err := e.remover.Uninstall(ctx, pkg)
	if removal != nil {
		rep.Removed = removal.Removed
		rep.Warnings = removal.Warnings
	}
	if err != nil {
		rep.enter(StateFailed)
		return rep, err
	}

	for _, dir := range []string{e.layout.CaskroomDir(pkg), e.StagingDir(pkg)} {
		removed, err := removeTree(dir)
		if err != nil {
			rep.enter(StateFailed)
			return rep, pkgerr.New(pkgerr.KindFilesystem, "uninstall", dir, err)
		}
		if removed {
			rep.Removed = append(rep.Removed, dir)
		}
	}

	e.logger.Info("uninstalled", "package", pkg, "removed", len(rep.Removed))
	return rep, nil
}

// Zap removes the user state of a package: its cache, config and data
// directories named after displayName, plus extra paths. It is independent
// of Uninstall and never touches the integration record.
func (e *Engine) Zap(ctx context.Context, displayName string, extra []string) (*Report, error) {
	rep := newReport(displayName, "")
	if err := manifest.ValidateDisplayName(displayName); err != nil {
		rep.enter(StateFailed)
		return rep, err
	}

	removal, err := e.remover.Zap(ctx, e.layout.ZapTargets(displayName, extra))
	if removal != nil {
		rep.Removed = removal.Removed
	}
	if err != nil {
		rep.enter(StateFailed)
		return rep, err
	}

	e.logger.Info("lifecycle transition", "package", displayName, "from", string(rep.State), "to", string(StateZapped))
	rep.enter(StateZapped)
	return rep, nil
}

// treeFile locates rel inside root. A missing entry is an error of the
// given kind naming the expected path; an entry that resolves outside root
// is an extraction error.
func treeFile(root, rel string, kind pkgerr.Kind, op string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))

	info, err := os.Stat(path)
	if err != nil {
		return "", pkgerr.New(kind, op, path, err)
	}
	if !info.Mode().IsRegular() {
		return "", pkgerr.Newf(kind, op, path, "not a regular file")
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", pkgerr.New(pkgerr.KindFilesystem, op, root, err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", pkgerr.New(kind, op, path, err)
	}
	if !strings.HasPrefix(resolved, realRoot+string(os.PathSeparator)) {
		return "", pkgerr.Newf(pkgerr.KindExtraction, op, path, "resolves outside %s to %s", root, resolved)
	}
	return path, nil
}

// installTree copies the staged tree to versionDir. The copy is built in a
// hidden sibling and renamed into place; an existing versionDir is moved
// aside through the ledger so rollback can bring it back. Missing parent
// directories are tracked from the outermost one created.
func installTree(staging, versionDir string, ledger *Ledger) error {
	parent := filepath.Dir(versionDir)
	if err := mkdirAllTracked(parent, ledger); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(versionDir)+"-*")
	if err != nil {
		return err
	}
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			os.RemoveAll(tmp)
		}
	}()

	if err := copyTree(staging, tmp); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0755); err != nil {
		return err
	}
	if err := ledger.MoveAside(versionDir); err != nil {
		return err
	}
	if err := os.Rename(tmp, versionDir); err != nil {
		return err
	}
	cleanupNeeded = false
	return nil
}

// mkdirAllTracked creates dir and its parents, tracking the outermost
// directory it had to create.
func mkdirAllTracked(dir string, ledger *Ledger) error {
	outermost := ""
	for p := dir; ; p = filepath.Dir(p) {
		if _, err := os.Lstat(p); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		outermost = p
		if filepath.Dir(p) == p {
			break
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if outermost != "" {
		ledger.Track(outermost)
	}
	return nil
}

// copyTree copies the contents of src into the existing directory dst,
// keeping directories, regular files with their modes, and symlinks as
// they are. The extractor only produces symlinks that stay inside the tree,
// so relative links keep resolving in the copy.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.Mkdir(target, info.Mode().Perm()|0700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyRegular(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

// makeExecutable adds the execute bits to path.
func makeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode().Perm()|0111)
}

// checkReachable confirms the symlink resolves to an executable file.
func checkReachable(symlink string) error {
	info, err := os.Stat(symlink)
	if err != nil {
		return pkgerr.New(pkgerr.KindMissingExecutable, "postflight", symlink, err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
		return pkgerr.Newf(pkgerr.KindMissingExecutable, "postflight", symlink, "symlink target is not an executable file")
	}
	return nil
}

// removeTree removes dir and reports whether it existed.
func removeTree(dir string) (bool, error) {
	if _, err := os.Lstat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}
