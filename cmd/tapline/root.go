package main

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/fetch"
	"github.com/ZebulonRouseFrantzich/tapline/internal/integration"
	"github.com/ZebulonRouseFrantzich/tapline/internal/lifecycle"
	"github.com/ZebulonRouseFrantzich/tapline/internal/manifest"
	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
	"github.com/ZebulonRouseFrantzich/tapline/internal/transaction"
)

// globalFlags holds the persistent flags. Only flags the user actually set
// override the loaded settings.
type globalFlags struct {
	configPath  string
	prefix      string
	home        string
	stateDir    string
	keyring     string
	timeout     time.Duration
	retries     int
	keepStaging bool
	verbosity   int
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	flags    globalFlags
	settings config.Settings
	zlog     zerolog.Logger
	logger   config.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "tapline",
		Short: "Install desktop applications from upstream release artifacts",
		Long: `tapline installs applications described by Lua manifests. It picks the
artifact for the current platform, verifies its SHA-256 digest, unpacks it,
links the executable into <prefix>/bin and registers the desktop entry and
icon. Uninstall reverses exactly what install registered; zap additionally
removes the application's user state.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "settings file (default $XDG_CONFIG_HOME/tapline/config.toml)")
	pf.StringVar(&a.flags.prefix, "prefix", "", "prefix owning bin/ and Caskroom/")
	pf.StringVar(&a.flags.home, "home", "", "home directory for desktop entries, icons and zap targets")
	pf.StringVar(&a.flags.stateDir, "state-dir", "", "directory for downloads, staging trees and locks")
	pf.StringVar(&a.flags.keyring, "keyring", "", "OpenPGP public keyring for detached signatures")
	pf.DurationVar(&a.flags.timeout, "timeout", config.DefaultFetchTimeout, "bound on a single download (0 disables)")
	pf.IntVar(&a.flags.retries, "retries", config.DefaultRetries, "extra attempts after a failed download")
	pf.BoolVar(&a.flags.keepStaging, "keep-staging", false, "leave the staging tree in place after install")
	pf.CountVarP(&a.flags.verbosity, "verbose", "v", "increase verbosity (-v INFO, -vv DEBUG)")

	cmd.AddCommand(
		newResolveCmd(a),
		newInstallCmd(a),
		newUninstallCmd(a),
		newZapCmd(a),
		newPathsCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setup configures logging and layers flags over the loaded settings.
func (a *app) setup(cmd *cobra.Command) error {
	a.zlog = newLogger(cmd.ErrOrStderr(), a.flags.verbosity)
	a.logger = zerologAdapter{l: a.zlog}

	s, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	paths := []struct {
		flag  string
		value string
		dst   *string
	}{
		{"prefix", a.flags.prefix, &s.Prefix},
		{"home", a.flags.home, &s.Home},
		{"state-dir", a.flags.stateDir, &s.StateDir},
		{"keyring", a.flags.keyring, &s.Keyring},
	}
	for _, p := range paths {
		if !f.Changed(p.flag) {
			continue
		}
		value := p.value
		if value != "" {
			if value, err = filepath.Abs(value); err != nil {
				return fmt.Errorf("--%s: %w", p.flag, err)
			}
		}
		*p.dst = value
	}
	if f.Changed("timeout") {
		s.FetchTimeout = a.flags.timeout
	}
	if f.Changed("retries") {
		s.Retries = a.flags.retries
	}
	if f.Changed("keep-staging") {
		s.KeepStaging = a.flags.keepStaging
	}
	if err := s.Validate(); err != nil {
		return err
	}
	a.settings = s

	a.zlog.Debug().
		Str("command", cmd.Name()).
		Str("prefix", s.Prefix).
		Str("home", s.Home).
		Str("state_dir", s.StateDir).
		Msg("command started")
	return nil
}

func (a *app) layout() integration.Layout {
	return integration.Layout{Prefix: a.settings.Prefix, Home: a.settings.Home}
}

func (a *app) lockDir() string {
	return filepath.Join(a.settings.StateDir, "locks")
}

// engine builds a lifecycle engine whose fetches are retried per settings.
func (a *app) engine() (*lifecycle.Engine, error) {
	opts := []fetch.Option{
		fetch.WithTimeout(a.settings.FetchTimeout),
		fetch.WithLogger(a.logger),
		fetch.WithUserAgent("tapline/" + strings.TrimPrefix(Version, "v")),
	}
	if a.settings.Keyring != "" {
		keyring, err := fetch.LoadKeyring(a.settings.Keyring)
		if err != nil {
			return nil, fmt.Errorf("load keyring: %w", err)
		}
		opts = append(opts, fetch.WithKeyring(keyring))
	}

	policy := fetch.DefaultRetryPolicy
	policy.Retries = a.settings.Retries
	policy.OnRetry = func(attempt int, err error) {
		a.logger.Warn("retrying download", "attempt", attempt, "error", err)
	}

	return lifecycle.NewEngine(lifecycle.Options{
		Layout:      a.layout(),
		StateDir:    a.settings.StateDir,
		Fetcher:     &retryingFetcher{fetcher: fetch.New(opts...), policy: policy},
		Refresher:   integration.NewCommandRefresher(a.settings.RefreshCommand),
		Logger:      a.logger,
		KeepStaging: a.settings.KeepStaging,
	})
}

// withLock runs fn while holding the package's lock.
func (a *app) withLock(ctx context.Context, pkg, op string, fn func() error) error {
	lock, err := transaction.AcquireLock(ctx, a.lockDir(), pkg, op)
	if err != nil {
		return err
	}
	defer lock.Release()

	a.zlog.Debug().Str("package", pkg).Str("operation", op).Str("op_id", lock.ID()).Msg("lock acquired")
	return fn()
}

// retryingFetcher retries transient download failures.
type retryingFetcher struct {
	fetcher *fetch.Fetcher
	policy  fetch.RetryPolicy
}

func (r *retryingFetcher) Fetch(ctx context.Context, art *manifest.Artifact, destDir string) (*fetch.Result, error) {
	var res *fetch.Result
	err := fetch.Retry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		res, err = r.fetcher.Fetch(ctx, art, destDir)
		return err
	})
	return res, err
}

// hostFlags overrides the detected platform.
type hostFlags struct {
	os   string
	arch string
}

func (h *hostFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&h.os, "os", "", "resolve for this OS instead of the running one")
	cmd.Flags().StringVar(&h.arch, "arch", "", "resolve for this architecture instead of the running one")
}

func (h hostFlags) detector() (platform.Detector, error) {
	if h.os == "" && h.arch == "" {
		return platform.NewDetector(), nil
	}
	goos, arch := h.os, h.arch
	if goos == "" {
		goos = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	info, err := platform.Host(goos, arch)
	if err != nil {
		return nil, err
	}
	return platform.StaticDetector{Info: info}, nil
}

// loadManifest parses path and detects the host the manifest was
// evaluated for.
func (a *app) loadManifest(ctx context.Context, path string, h hostFlags) (*manifest.Manifest, platform.Info, error) {
	detector, err := h.detector()
	if err != nil {
		return nil, platform.Info{}, err
	}
	host, err := detector.Detect(ctx)
	if err != nil {
		return nil, platform.Info{}, fmt.Errorf("platform detection failed: %w", err)
	}
	m, err := manifest.NewParser(platform.StaticDetector{Info: *host}, a.logger).ParseFile(ctx, path)
	if err != nil {
		return nil, platform.Info{}, err
	}
	return m, *host, nil
}
