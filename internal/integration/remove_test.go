package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
	"github.com/ZebulonRouseFrantzich/tapline/internal/testutil"
)

func TestRemover_UninstallIsSymmetric(t *testing.T) {
	fx := newFixture(t)
	reg, err := NewRegistrar(fx.layout, nil, nil).Register(context.Background(), fx.src, nil)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	refresher := &fakeRefresher{}
	res, err := NewRemover(fx.layout, refresher, nil).Uninstall(context.Background(), "bbrew")
	if err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}

	for _, p := range reg.Record.Paths() {
		testutil.AssertAbsent(t, p)
	}
	if len(res.Removed) != 3 {
		t.Errorf("Removed = %v, want the three record paths", res.Removed)
	}
	testutil.AssertPresent(t, fx.src.Executable)
	if len(refresher.calls) != 1 {
		t.Errorf("refresh calls = %d, want 1", len(refresher.calls))
	}
}

func TestRemover_UninstallRepeated(t *testing.T) {
	fx := newFixture(t)
	if _, err := NewRegistrar(fx.layout, nil, nil).Register(context.Background(), fx.src, nil); err != nil {
		t.Fatal(err)
	}
	r := NewRemover(fx.layout, nil, nil)

	if _, err := r.Uninstall(context.Background(), "bbrew"); err != nil {
		t.Fatalf("first Uninstall() error = %v", err)
	}
	res, err := r.Uninstall(context.Background(), "bbrew")
	if err != nil {
		t.Fatalf("second Uninstall() error = %v", err)
	}
	if len(res.Removed) != 0 {
		t.Errorf("second Uninstall removed %v, want nothing", res.Removed)
	}
}

func TestRemover_UninstallPartial(t *testing.T) {
	fx := newFixture(t)
	fx.src.Icon = ""
	if _, err := NewRegistrar(fx.layout, nil, nil).Register(context.Background(), fx.src, nil); err != nil {
		t.Fatal(err)
	}
	// Simulate a user who already deleted the desktop entry by hand.
	if err := os.Remove(fx.layout.DesktopEntryPath("bbrew")); err != nil {
		t.Fatal(err)
	}

	res, err := NewRemover(fx.layout, nil, nil).Uninstall(context.Background(), "bbrew")
	if err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != fx.layout.SymlinkPath("bbrew") {
		t.Errorf("Removed = %v, want only the symlink", res.Removed)
	}
}

func TestRemover_UninstallLeavesZapTargets(t *testing.T) {
	fx := newFixture(t)
	if _, err := NewRegistrar(fx.layout, nil, nil).Register(context.Background(), fx.src, nil); err != nil {
		t.Fatal(err)
	}
	targets := fx.layout.ZapTargets("Bbrew", nil)
	for _, dir := range targets {
		testutil.WriteFile(t, dir, "state", "x", 0644)
	}

	if _, err := NewRemover(fx.layout, nil, nil).Uninstall(context.Background(), "bbrew"); err != nil {
		t.Fatal(err)
	}
	for _, dir := range targets {
		testutil.AssertPresent(t, filepath.Join(dir, "state"))
	}
}

func TestRemover_UninstallRefusesRegularFile(t *testing.T) {
	fx := newFixture(t)
	own := testutil.WriteFile(t, fx.layout.BinDir(), "bbrew", "user's own script", 0755)

	_, err := NewRemover(fx.layout, nil, nil).Uninstall(context.Background(), "bbrew")
	if !errors.Is(err, pkgerr.ErrFilesystem) {
		t.Errorf("Uninstall() error = %v, want Filesystem kind", err)
	}
	testutil.AssertPresent(t, own)
}

func TestRemover_UninstallRefreshWarning(t *testing.T) {
	fx := newFixture(t)
	res, err := NewRemover(fx.layout, &fakeRefresher{err: errRefresh}, nil).Uninstall(context.Background(), "bbrew")
	if err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}
	if len(res.Warnings) != 1 || !errors.Is(res.Warnings[0], pkgerr.ErrIntegrationWarning) {
		t.Errorf("Warnings = %v", res.Warnings)
	}
}

func TestRemover_UninstallRejectsBadName(t *testing.T) {
	fx := newFixture(t)
	if _, err := NewRemover(fx.layout, nil, nil).Uninstall(context.Background(), "../etc"); err == nil {
		t.Error("Uninstall() should reject a name that is not a single path element")
	}
}

func TestRemover_Zap(t *testing.T) {
	fx := newFixture(t)
	if _, err := NewRegistrar(fx.layout, nil, nil).Register(context.Background(), fx.src, nil); err != nil {
		t.Fatal(err)
	}
	targets := fx.layout.ZapTargets("Bbrew", nil)
	// Only cache and data exist; config was never created.
	testutil.WriteFile(t, targets[0], "blobs/a", "x", 0644)
	testutil.WriteFile(t, targets[2], "db.sqlite", "x", 0644)

	r := NewRemover(fx.layout, nil, nil)
	res, err := r.Zap(context.Background(), targets)
	if err != nil {
		t.Fatalf("Zap() error = %v", err)
	}
	if len(res.Removed) != 2 {
		t.Errorf("Removed = %v, want cache and data", res.Removed)
	}
	for _, dir := range targets {
		testutil.AssertAbsent(t, dir)
	}
	// Zap never touches the integration record.
	for _, p := range fx.layout.RecordFor("bbrew").Paths() {
		testutil.AssertPresent(t, p)
	}

	if _, err := r.Zap(context.Background(), targets); err != nil {
		t.Errorf("repeated Zap() error = %v", err)
	}
}

func TestRemover_ZapRefusesDangerousTargets(t *testing.T) {
	fx := newFixture(t)
	keep := testutil.WriteFile(t, fx.layout.Home, "keep", "x", 0644)

	outside := t.TempDir()
	victim := testutil.WriteFile(t, outside, "usr/bin/tool", "x", 0755)

	targets := []string{
		fx.layout.Home,
		"/",
		"/usr",
		filepath.Join(outside, "usr"),
		filepath.Join(fx.layout.Home, "..", filepath.Base(outside)),
		"relative/dir",
	}
	_, err := NewRemover(fx.layout, nil, nil).Zap(context.Background(), targets)
	if err == nil {
		t.Fatal("Zap() should refuse targets that are not strictly inside home")
	}
	for _, target := range targets {
		if !strings.Contains(err.Error(), target) {
			t.Errorf("Zap() error does not mention refused target %q: %v", target, err)
		}
	}
	testutil.AssertPresent(t, keep)
	testutil.AssertPresent(t, victim)
}
