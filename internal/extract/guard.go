package extract

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath marks an entry that would land outside the staging root.
var ErrUnsafePath = errors.New("entry escapes staging root")

// root is a staging directory that only accepts writes inside itself.
type root struct {
	dir      string // cleaned staging path
	realDir  string // dir with symlinks resolved
	maxEntry int64
}

func newRoot(dir string, maxEntry int64) (*root, error) {
	dir = filepath.Clean(dir)
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}
	return &root{dir: dir, realDir: realDir, maxEntry: maxEntry}, nil
}

// secureJoin maps an archive entry name onto the root. Absolute names and
// names that climb out with ".." are rejected.
func (r *root) secureJoin(name string) (string, error) {
	slashed := filepath.ToSlash(name)
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	target := filepath.Join(r.dir, filepath.FromSlash(slashed))
	if !within(r.dir, target) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

// within reports whether path is base or below it. Both must be clean.
func within(base, path string) bool {
	if path == base {
		return true
	}
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

// checkResolved fails if the existing path, with symlinks resolved, is
// outside the root.
func (r *root) checkResolved(path string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if !within(r.realDir, resolved) {
		return fmt.Errorf("%w: %s resolves to %s", ErrUnsafePath, path, resolved)
	}
	return nil
}

// ensureDir creates dir and its missing parents. Nothing is created below an
// existing ancestor that resolves outside the root.
func (r *root) ensureDir(dir string) error {
	ancestor := dir
	for ancestor != r.dir {
		if _, err := os.Lstat(ancestor); err == nil {
			break
		}
		ancestor = filepath.Dir(ancestor)
	}
	if err := r.checkResolved(ancestor); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return r.checkResolved(dir)
}

// replace removes whatever is at target so a new entry never writes through
// an existing link.
func replace(target string) error {
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", target, err)
	}
	return nil
}

// mkdir creates a directory entry.
func (r *root) mkdir(name string, mode fs.FileMode) error {
	target, err := r.secureJoin(name)
	if err != nil {
		return err
	}
	if err := r.ensureDir(target); err != nil {
		return err
	}
	if mode != 0 && target != r.dir {
		// Keep directories writable for the rest of the archive.
		if err := os.Chmod(target, mode.Perm()|0700); err != nil {
			return fmt.Errorf("chmod directory %s: %w", name, err)
		}
	}
	return nil
}

// writeFile creates a regular file entry from src.
func (r *root) writeFile(name string, src io.Reader, mode fs.FileMode) error {
	target, err := r.secureJoin(name)
	if err != nil {
		return err
	}
	if target == r.dir {
		return fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	if err := r.ensureDir(filepath.Dir(target)); err != nil {
		return err
	}
	if err := replace(target); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode.Perm())
	if err != nil {
		return fmt.Errorf("create file %s: %w", name, err)
	}
	if err := copyLimited(out, src, r.maxEntry); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", name, err)
	}
	// OpenFile applies the umask.
	if err := os.Chmod(target, mode.Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	return nil
}

// symlink creates a symlink entry. The link target must be relative and
// stay inside the root when joined to the link's directory.
func (r *root) symlink(name, linkname string) error {
	target, err := r.secureJoin(name)
	if err != nil {
		return err
	}
	if target == r.dir || linkname == "" || filepath.IsAbs(linkname) || strings.HasPrefix(filepath.ToSlash(linkname), "/") {
		return fmt.Errorf("%w: symlink %q -> %q", ErrUnsafePath, name, linkname)
	}
	if !within(r.dir, filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))) {
		return fmt.Errorf("%w: symlink %q -> %q", ErrUnsafePath, name, linkname)
	}

	if err := r.ensureDir(filepath.Dir(target)); err != nil {
		return err
	}
	if err := replace(target); err != nil {
		return err
	}
	if err := os.Symlink(linkname, target); err != nil {
		return fmt.Errorf("create symlink %s: %w", name, err)
	}
	return nil
}

// link creates a hard link entry to an earlier regular file of the same
// archive.
func (r *root) link(name, linkname string) error {
	target, err := r.secureJoin(name)
	if err != nil {
		return err
	}
	source, err := r.secureJoin(linkname)
	if err != nil {
		return err
	}
	if err := r.checkResolved(source); err != nil {
		return err
	}
	if info, err := os.Lstat(source); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: hard link %q -> %q is not a regular file", ErrUnsafePath, name, linkname)
	}
	if err := r.ensureDir(filepath.Dir(target)); err != nil {
		return err
	}
	if err := replace(target); err != nil {
		return err
	}
	if err := os.Link(source, target); err != nil {
		return fmt.Errorf("create hard link %s: %w", name, err)
	}
	return nil
}
