// Package config holds the settings and logging interface shared by every
// tapline component.
//
// Settings are layered: built-in defaults (XDG base directories via
// adrg/xdg), then an optional TOML file, then TAPLINE_* environment
// variables. The CLI applies its flags on top of the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	// AppName names the XDG subdirectories tapline owns.
	AppName = "tapline"

	// DefaultFetchTimeout bounds a single artifact download.
	DefaultFetchTimeout = 5 * time.Minute
	// DefaultRetries is how many times the CLI retries a failed fetch.
	DefaultRetries = 3
	// DefaultRefreshCommand refreshes the desktop-entry database.
	DefaultRefreshCommand = "update-desktop-database"
)

// Environment variable names.
const (
	EnvPrefix         = "TAPLINE_PREFIX"
	EnvHome           = "TAPLINE_HOME"
	EnvStateDir       = "TAPLINE_STATE_DIR"
	EnvFetchTimeout   = "TAPLINE_FETCH_TIMEOUT"
	EnvRetries        = "TAPLINE_RETRIES"
	EnvRefreshCommand = "TAPLINE_REFRESH_COMMAND"
	EnvKeyring        = "TAPLINE_KEYRING"
	EnvKeepStaging    = "TAPLINE_KEEP_STAGING"

	// envHomebrewPrefix is honoured for the default prefix so links land
	// next to the host package manager's own.
	envHomebrewPrefix = "HOMEBREW_PREFIX"
)

// Settings configures an engine run.
type Settings struct {
	// Prefix owns bin/ (stable symlinks) and Caskroom/ (managed copies).
	Prefix string
	// Home is the user home the desktop layout and zap targets live under.
	Home string
	// StateDir holds downloads, staging trees and lock files.
	StateDir string
	// FetchTimeout bounds one download; zero disables the bound.
	FetchTimeout time.Duration
	// Retries is the number of extra fetch attempts the CLI makes.
	Retries int
	// RefreshCommand is run with the applications directory as its argument.
	RefreshCommand string
	// Keyring is an OpenPGP public keyring for detached signature checks.
	Keyring string
	// KeepStaging leaves the staging tree in place after install.
	KeepStaging bool
}

// fileSettings mirrors Settings for the TOML file; durations are strings.
type fileSettings struct {
	Prefix         *string `toml:"prefix"`
	Home           *string `toml:"home"`
	StateDir       *string `toml:"state_dir"`
	FetchTimeout   *string `toml:"fetch_timeout"`
	Retries        *int    `toml:"retries"`
	RefreshCommand *string `toml:"refresh_command"`
	Keyring        *string `toml:"keyring"`
	KeepStaging    *bool   `toml:"keep_staging"`
}

// Defaults returns the built-in settings for the current user.
func Defaults() (Settings, error) {
	xdg.Reload()

	home, err := os.UserHomeDir()
	if err != nil {
		return Settings{}, fmt.Errorf("resolve home directory: %w", err)
	}

	prefix := os.Getenv(envHomebrewPrefix)
	if prefix == "" {
		prefix = filepath.Join(home, ".local")
	}

	return Settings{
		Prefix:         prefix,
		Home:           home,
		StateDir:       filepath.Join(xdg.CacheHome, AppName),
		FetchTimeout:   DefaultFetchTimeout,
		Retries:        DefaultRetries,
		RefreshCommand: DefaultRefreshCommand,
	}, nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/tapline/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

// Load builds settings from defaults, the TOML file at path and the
// environment. An empty path means DefaultConfigPath; a missing file is not
// an error.
func Load(path string) (Settings, error) {
	s, err := Defaults()
	if err != nil {
		return Settings{}, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}
	if err := s.applyFile(path); err != nil {
		return Settings{}, err
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}

	s.Prefix = expandHome(s.Prefix, s.Home)
	s.StateDir = expandHome(s.StateDir, s.Home)
	s.Keyring = expandHome(s.Keyring, s.Home)

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read settings file: %w", err)
	}

	var fs fileSettings
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fs); err != nil {
		return fmt.Errorf("parse settings file %s: %w", path, err)
	}

	if fs.Prefix != nil {
		s.Prefix = *fs.Prefix
	}
	if fs.Home != nil {
		s.Home = *fs.Home
	}
	if fs.StateDir != nil {
		s.StateDir = *fs.StateDir
	}
	if fs.FetchTimeout != nil {
		d, err := time.ParseDuration(*fs.FetchTimeout)
		if err != nil {
			return fmt.Errorf("parse settings file %s: fetch_timeout: %w", path, err)
		}
		s.FetchTimeout = d
	}
	if fs.Retries != nil {
		s.Retries = *fs.Retries
	}
	if fs.RefreshCommand != nil {
		s.RefreshCommand = *fs.RefreshCommand
	}
	if fs.Keyring != nil {
		s.Keyring = *fs.Keyring
	}
	if fs.KeepStaging != nil {
		s.KeepStaging = *fs.KeepStaging
	}
	return nil
}

func (s *Settings) applyEnv() error {
	if v, ok := os.LookupEnv(EnvPrefix); ok && v != "" {
		s.Prefix = v
	}
	if v, ok := os.LookupEnv(EnvHome); ok && v != "" {
		s.Home = v
	}
	if v, ok := os.LookupEnv(EnvStateDir); ok && v != "" {
		s.StateDir = v
	}
	if v, ok := os.LookupEnv(EnvFetchTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFetchTimeout, err)
		}
		s.FetchTimeout = d
	}
	if v, ok := os.LookupEnv(EnvRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetries, err)
		}
		s.Retries = n
	}
	if v, ok := os.LookupEnv(EnvRefreshCommand); ok {
		s.RefreshCommand = v
	}
	if v, ok := os.LookupEnv(EnvKeyring); ok {
		s.Keyring = v
	}
	if v, ok := os.LookupEnv(EnvKeepStaging); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvKeepStaging, err)
		}
		s.KeepStaging = b
	}
	return nil
}

// Validate checks that the settings describe a usable layout.
func (s Settings) Validate() error {
	for name, dir := range map[string]string{"prefix": s.Prefix, "home": s.Home, "state_dir": s.StateDir} {
		if dir == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, dir)
		}
	}
	if s.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}
	if s.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	return nil
}

// expandHome replaces a leading "~/" with home.
func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
