package lifecycle

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/ZebulonRouseFrantzich/tapline/internal/integration"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
	"github.com/ZebulonRouseFrantzich/tapline/internal/testutil"
)

const desktopTemplate = "[Desktop Entry]\nType=Application\nName=Bbrew\nExec=/opt/bbrew/bin/Bbrew %U\nIcon=/opt/bbrew/share/icon.png\nCategories=Development;\n"

// releaseTarball builds the linux/amd64 release of bbrew 1.7.0.
func releaseTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, body := range files {
		mode := int64(0644)
		if name == "opt/bbrew/bin/Bbrew" {
			mode = 0755
		}
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: mode, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(tarBuf.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return gzBuf.Bytes()
}

func defaultFiles() map[string]string {
	return map[string]string{
		"opt/bbrew/bin/Bbrew":              "#!/bin/sh\necho bbrew 1.7.0\n",
		"share/applications/bbrew.desktop": desktopTemplate,
		"share/icons/bbrew.png":            "\x89PNG\r\n\x1a\n",
	}
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// release serves one artifact over HTTP and counts requests.
type release struct {
	server *httptest.Server
	body   []byte
	hits   int32
}

func newRelease(t *testing.T, body []byte) *release {
	t.Helper()
	r := &release{body: body}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.7.0/bbrew_1.7.0_linux_amd64.tar.gz", func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&r.hits, 1)
		w.Write(r.body)
	})
	r.server = httptest.NewServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func (r *release) requests() int32 { return atomic.LoadInt32(&r.hits) }

// bbrewManifest lists all four platforms; only linux/amd64 is served.
func bbrewManifest(baseURL, linuxDigest string) *manifest.Manifest {
	zero := "0000000000000000000000000000000000000000000000000000000000000000"
	url := baseURL + "/v{version}/bbrew_{version}_"
	return &manifest.Manifest{
		Name:        "bbrew",
		DisplayName: "Bbrew",
		Version:     "1.7.0",
		Variants: []manifest.Variant{
			{OS: "darwin", Arch: "amd64", Bits: 64, URL: url + "darwin_amd64.tar.gz", SHA256: zero},
			{OS: "darwin", Arch: "arm64", Bits: 64, URL: url + "darwin_arm64.tar.gz", SHA256: zero},
			{OS: "linux", Arch: "amd64", Bits: 64, URL: url + "linux_amd64.tar.gz", SHA256: linuxDigest},
			{OS: "linux", Arch: "arm64", Bits: 64, URL: url + "linux_arm64.tar.gz", SHA256: zero},
		},
		App: manifest.AppSpec{
			Executable:   "opt/bbrew/bin/Bbrew",
			DesktopEntry: "share/applications/bbrew.desktop",
			Icon:         "share/icons/bbrew.png",
		},
	}
}

// fakeRefresher records refresh calls.
type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, dir string) error {
	f.calls++
	return f.err
}

type harness struct {
	env       testutil.Env
	engine    *Engine
	layout    integration.Layout
	refresher *fakeRefresher
	host      platform.Info
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	h := &harness{
		env:       env,
		layout:    integration.Layout{Prefix: env.Prefix, Home: env.Home},
		refresher: &fakeRefresher{},
	}
	o := Options{Layout: h.layout, StateDir: env.StateDir, Refresher: h.refresher}
	for _, opt := range opts {
		opt(&o)
	}
	engine, err := NewEngine(o)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	h.engine = engine

	host, err := platform.Host("linux", "amd64")
	if err != nil {
		t.Fatal(err)
	}
	h.host = host
	return h
}
