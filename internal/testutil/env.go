// Package testutil provides utilities for testing tapline in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env is an isolated user environment rooted in a test temp directory.
type Env struct {
	Root     string
	Home     string
	Prefix   string
	StateDir string
}

// SetupTestEnv points HOME, the XDG base directories and every TAPLINE_*
// variable at a fresh temp directory so tests never touch the real user's
// desktop entries, icons or binaries. Cleanup is handled by t.TempDir.
func SetupTestEnv(t *testing.T) Env {
	t.Helper()

	root := t.TempDir()
	env := Env{
		Root:     root,
		Home:     filepath.Join(root, "home"),
		Prefix:   filepath.Join(root, "prefix"),
		StateDir: filepath.Join(root, "state"),
	}

	t.Setenv("HOME", env.Home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(env.Home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(env.Home, ".cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(env.Home, ".local", "share"))
	t.Setenv("HOMEBREW_PREFIX", "")

	t.Setenv("TAPLINE_PREFIX", env.Prefix)
	t.Setenv("TAPLINE_HOME", env.Home)
	t.Setenv("TAPLINE_STATE_DIR", env.StateDir)
	t.Setenv("TAPLINE_REFRESH_COMMAND", "true")
	t.Setenv("TAPLINE_FETCH_TIMEOUT", "")
	t.Setenv("TAPLINE_RETRIES", "")
	t.Setenv("TAPLINE_KEYRING", "")
	t.Setenv("TAPLINE_KEEP_STAGING", "")

	for _, dir := range []string{env.Home, env.Prefix, env.StateDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

// WriteFile writes content under dir, creating parents, and returns the path.
func WriteFile(t *testing.T, dir, name, content string, perm os.FileMode) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// AssertAbsent fails the test if path exists (symlinks included).
func AssertAbsent(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Lstat(path); err == nil {
		t.Errorf("expected %s to be absent", path)
	} else if !os.IsNotExist(err) {
		t.Errorf("lstat %s: %v", path, err)
	}
}

// AssertPresent fails the test if path does not exist (symlinks included).
func AssertPresent(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Lstat(path); err != nil {
		t.Errorf("expected %s to exist: %v", path, err)
	}
}
