package lifecycle

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ZebulonRouseFrantzich/tapline/internal/testutil"
)

func TestLedger_RollbackReverseOrder(t *testing.T) {
	dir := t.TempDir()
	ledger := NewLedger(nil)

	// A file inside a tracked directory: removing in reverse order takes the
	// file first, then the directory.
	sub := filepath.Join(dir, "v1")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	ledger.Track(sub)
	file := testutil.WriteFile(t, sub, "App", "x", 0755)
	ledger.Track(file)
	link := filepath.Join(dir, "link")
	if err := os.Symlink(file, link); err != nil {
		t.Fatal(err)
	}
	ledger.Track(link)

	if got := ledger.Paths(); !reflect.DeepEqual(got, []string{sub, file, link}) {
		t.Errorf("Paths() = %v", got)
	}

	if errs := ledger.Rollback(); len(errs) != 0 {
		t.Fatalf("Rollback() errors = %v", errs)
	}
	for _, p := range []string{sub, file, link} {
		testutil.AssertAbsent(t, p)
	}
	if len(ledger.Paths()) != 0 {
		t.Error("Rollback() should empty the ledger")
	}
}

func TestLedger_RollbackToleratesMissing(t *testing.T) {
	ledger := NewLedger(nil)
	ledger.Track(filepath.Join(t.TempDir(), "never-created"))
	if errs := ledger.Rollback(); len(errs) != 0 {
		t.Errorf("Rollback() errors = %v", errs)
	}
}

func TestLedger_PreserveRestoresOnRollback(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "bbrew.desktop", "old", 0644)
	link := filepath.Join(dir, "bbrew")
	if err := os.Symlink("Caskroom/bbrew/1.6.0/Bbrew", link); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(dir, "bbrew.png")

	ledger := NewLedger(nil)
	for _, p := range []string{link, file, fresh} {
		if err := ledger.Preserve(p); err != nil {
			t.Fatalf("Preserve(%s) error = %v", p, err)
		}
	}

	// Preserve leaves the originals usable until they are replaced.
	if data, err := os.ReadFile(file); err != nil || string(data) != "old" {
		t.Fatalf("file after Preserve = %q, %v", data, err)
	}

	if err := os.Remove(link); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("Caskroom/bbrew/1.7.0/Bbrew", link); err != nil {
		t.Fatal(err)
	}
	tmp := testutil.WriteFile(t, dir, "tmp", "new", 0644)
	if err := os.Rename(tmp, file); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "bbrew.png", "icon", 0644)

	if errs := ledger.Rollback(); len(errs) != 0 {
		t.Fatalf("Rollback() errors = %v", errs)
	}
	if target, err := os.Readlink(link); err != nil || target != "Caskroom/bbrew/1.6.0/Bbrew" {
		t.Errorf("symlink -> %q, %v; want the previous target", target, err)
	}
	if data, err := os.ReadFile(file); err != nil || string(data) != "old" {
		t.Errorf("file = %q, %v; want old", data, err)
	}
	testutil.AssertAbsent(t, fresh)
	assertDirHolds(t, dir, "bbrew", "bbrew.desktop")
}

func TestLedger_CommitDropsBackups(t *testing.T) {
	dir := t.TempDir()
	file := testutil.WriteFile(t, dir, "bbrew.desktop", "old", 0644)
	version := filepath.Join(dir, "1.7.0")
	testutil.WriteFile(t, version, "Bbrew", "old", 0755)

	ledger := NewLedger(nil)
	if err := ledger.Preserve(file); err != nil {
		t.Fatal(err)
	}
	if err := ledger.MoveAside(version); err != nil {
		t.Fatal(err)
	}
	testutil.AssertAbsent(t, version)
	testutil.WriteFile(t, version, "Bbrew", "new", 0755)

	if errs := ledger.Commit(); len(errs) != 0 {
		t.Fatalf("Commit() errors = %v", errs)
	}
	if data, err := os.ReadFile(filepath.Join(version, "Bbrew")); err != nil || string(data) != "new" {
		t.Errorf("Bbrew = %q, %v; want new", data, err)
	}
	assertDirHolds(t, dir, "1.7.0", "bbrew.desktop")
	if len(ledger.Paths()) != 0 {
		t.Error("Commit() should empty the ledger")
	}
}

func TestLedger_MoveAsideRestoresDirectory(t *testing.T) {
	dir := t.TempDir()
	version := filepath.Join(dir, "1.7.0")
	testutil.WriteFile(t, version, "opt/bbrew/bin/Bbrew", "old", 0755)

	ledger := NewLedger(nil)
	if err := ledger.MoveAside(version); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, version, "opt/bbrew/bin/Bbrew", "new", 0755)

	if errs := ledger.Rollback(); len(errs) != 0 {
		t.Fatalf("Rollback() errors = %v", errs)
	}
	data, err := os.ReadFile(filepath.Join(version, "opt/bbrew/bin/Bbrew"))
	if err != nil || string(data) != "old" {
		t.Errorf("Bbrew = %q, %v; want old", data, err)
	}
	assertDirHolds(t, dir, "1.7.0")
}

func TestLedger_PreserveRefusesDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "bbrew.png")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	ledger := NewLedger(nil)
	if err := ledger.Preserve(sub); err == nil {
		t.Error("Preserve() should refuse a directory")
	}
	if len(ledger.Paths()) != 0 {
		t.Errorf("Paths() = %v, want nothing recorded", ledger.Paths())
	}
}

func TestMkdirAllTracked(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Caskroom", "bbrew")

	ledger := NewLedger(nil)
	if err := mkdirAllTracked(dir, ledger); err != nil {
		t.Fatalf("mkdirAllTracked() error = %v", err)
	}
	if got := ledger.Paths(); !reflect.DeepEqual(got, []string{filepath.Join(root, "Caskroom")}) {
		t.Errorf("Paths() = %v, want the outermost created directory", got)
	}

	again := NewLedger(nil)
	if err := mkdirAllTracked(dir, again); err != nil {
		t.Fatal(err)
	}
	if len(again.Paths()) != 0 {
		t.Errorf("existing directory should not be tracked: %v", again.Paths())
	}

	if errs := ledger.Rollback(); len(errs) != 0 {
		t.Fatalf("Rollback() errors = %v", errs)
	}
	assertDirHolds(t, root)
}

// assertDirHolds checks the exact entry names of dir.
func assertDirHolds(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if len(got) != len(want) || (len(want) > 0 && !reflect.DeepEqual(got, want)) {
		t.Errorf("%s holds %v, want %v", dir, got, want)
	}
}
