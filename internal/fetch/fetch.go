// Package fetch downloads resolved artifacts and verifies them before they
// are handed to extraction.
//
// A download is streamed to a temporary part file in the destination
// directory while its SHA-256 digest is computed. Only a file whose digest
// matches the manifest, and whose detached OpenPGP signature verifies when a
// keyring and signature URL are both configured, is renamed to its final
// name. On any failure the part file is removed, so a rejected artifact never
// reaches the extractor.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
)

const (
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "tapline/1.0"

	// maxRedirects bounds the redirect chain of a release download.
	maxRedirects = 10

	// maxSignatureBytes caps a detached signature held in memory.
	maxSignatureBytes = 1 << 20
)

// Fetcher downloads and verifies artifacts.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	keyring   openpgp.EntityList
	logger    config.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout bounds each Fetch call, including signature download. Zero
// disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithKeyring enables detached signature checks for artifacts that carry a
// signature URL.
func WithKeyring(k openpgp.EntityList) Option {
	return func(f *Fetcher) { f.keyring = k }
}

// WithLogger sets the logger.
func WithLogger(l config.Logger) Option {
	return func(f *Fetcher) { f.logger = config.OrDiscard(l) }
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// New creates a fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		timeout:   config.DefaultFetchTimeout,
		userAgent: DefaultUserAgent,
		logger:    config.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Result describes a verified local artifact.
type Result struct {
	Path     string        // final location of the artifact
	Digest   string        // hex SHA-256 of the file
	Size     int64         // bytes
	Verified bool          // a detached signature was checked
	Cached   bool          // an existing file with the expected digest was reused
	Duration time.Duration // time spent
}

// Fetch downloads art into destDir and verifies it. The URL may be http(s),
// file:// or a plain local path.
//
// Errors are *pkgerr.Error of kind Fetch (transport, with Timeout set when a
// deadline expired) or Integrity (digest or signature rejected).
func (f *Fetcher) Fetch(ctx context.Context, art *manifest.Artifact, destDir string) (*Result, error) {
	if art == nil {
		return nil, fmt.Errorf("artifact is required")
	}
	start := time.Now()

	expected, err := hex.DecodeString(art.SHA256)
	if err != nil || len(expected) != sha256.Size {
		return nil, pkgerr.Newf(pkgerr.KindIntegrity, "verify", art.URL, "invalid expected digest %q", art.SHA256)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, pkgerr.New(pkgerr.KindFilesystem, "fetch", destDir, err)
	}
	dest := filepath.Join(destDir, art.Filename)

	if res, ok := f.cached(dest, art); ok {
		res.Duration = time.Since(start)
		f.logger.Debug("reusing cached artifact", "path", dest)
		return res, nil
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	f.logger.Debug("downloading artifact", "url", art.URL, "dest", dest)

	tmp, err := os.CreateTemp(destDir, art.Filename+".part-*")
	if err != nil {
		return nil, pkgerr.New(pkgerr.KindFilesystem, "fetch", destDir, err)
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	digest, size, err := f.download(ctx, art.URL, tmp)
	if err != nil {
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, pkgerr.New(pkgerr.KindFilesystem, "fetch", tmpPath, err)
	}

	if err := checkDigest(expected, digest); err != nil {
		f.logger.Warn("artifact digest mismatch", "url", art.URL, "error", err)
		return nil, pkgerr.New(pkgerr.KindIntegrity, "verify", art.URL, err)
	}

	verified := false
	if f.keyring != nil && art.SignatureURL != "" {
		if err := f.verifySignature(ctx, art.SignatureURL, tmpPath); err != nil {
			f.logger.Warn("artifact signature rejected", "url", art.SignatureURL, "error", err)
			return nil, err
		}
		verified = true
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return nil, pkgerr.New(pkgerr.KindFilesystem, "fetch", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, pkgerr.New(pkgerr.KindFilesystem, "fetch", dest, err)
	}
	cleanupNeeded = false

	return &Result{
		Path:     dest,
		Digest:   hex.EncodeToString(digest),
		Size:     size,
		Verified: verified,
		Duration: time.Since(start),
	}, nil
}

// cached reports whether dest already holds the expected artifact. A file
// with the wrong digest is removed. Signed artifacts are always fetched again
// so the signature is checked on every install.
func (f *Fetcher) cached(dest string, art *manifest.Artifact) (*Result, bool) {
	if f.keyring != nil && art.SignatureURL != "" {
		return nil, false
	}
	info, err := os.Stat(dest)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	digest, err := fileDigest(dest)
	if err != nil {
		return nil, false
	}
	if !digestEqual(art.SHA256, digest) {
		f.logger.Debug("discarding stale cached artifact", "path", dest)
		os.Remove(dest)
		return nil, false
	}
	return &Result{Path: dest, Digest: digest, Size: info.Size(), Cached: true}, true
}

// download streams rawURL into w and returns the SHA-256 of what was written.
func (f *Fetcher) download(ctx context.Context, rawURL string, w io.Writer) ([]byte, int64, error) {
	body, err := f.open(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}
	defer body.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, n, pkgerr.Fetch("fetch", rawURL, fmt.Errorf("read body: %w", err))
	}
	return h.Sum(nil), n, nil
}

// open returns a reader for rawURL.
func (f *Fetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, pkgerr.Fetch("fetch", rawURL, fmt.Errorf("parse url: %w", err))
	}

	switch u.Scheme {
	case "http", "https":
		return f.get(ctx, rawURL)
	case "file":
		return openLocal(rawURL, u.Path)
	case "":
		return openLocal(rawURL, rawURL)
	default:
		return nil, pkgerr.Fetch("fetch", rawURL, fmt.Errorf("unsupported url scheme %q", u.Scheme))
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, pkgerr.Fetch("fetch", rawURL, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, pkgerr.Fetch("fetch", rawURL, fmt.Errorf("execute request: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, pkgerr.Fetch("fetch", rawURL, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func openLocal(rawURL, path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, pkgerr.Fetch("fetch", rawURL, err)
	}
	return file, nil
}
