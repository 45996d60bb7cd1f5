package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/ZebulonRouseFrantzich/tapline/internal/testutil"
)

// fakeRefresher records calls and returns err.
type fakeRefresher struct {
	calls []string
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, dir string) error {
	f.calls = append(f.calls, dir)
	return f.err
}

// pathLog is a Tracker that keeps the order paths were announced in.
type pathLog []string

func (p *pathLog) Preserve(path string) error {
	*p = append(*p, path)
	return nil
}

// fixture stages a managed executable, a desktop template and an icon.
type fixture struct {
	layout Layout
	src    Source
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	staging := t.TempDir()

	return fixture{
		layout: Layout{Prefix: env.Prefix, Home: env.Home},
		src: Source{
			Package:         "bbrew",
			Executable:      testutil.WriteFile(t, env.Prefix, "Caskroom/bbrew/1.7.0/Bbrew", "#!/bin/sh\n", 0755),
			DesktopTemplate: testutil.WriteFile(t, staging, "share/applications/bbrew.desktop", "[Desktop Entry]\nName=Bbrew\nExec=Bbrew\nIcon=bbrew-256\n", 0644),
			Icon:            testutil.WriteFile(t, staging, "share/icons/bbrew.png", "\x89PNG\r\n", 0644),
		},
	}
}

var errRefresh = errors.New("update-desktop-database: not found")
