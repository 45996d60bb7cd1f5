// Package manifest describes packages and resolves the artifact to install
// on a given host.
//
// A Manifest carries a flat list of platform Variants. Resolve walks them in
// declaration order and returns the first whose predicates hold for the host
// passed in, so the resolver has no hidden dependency on the running process
// and can be exercised against any simulated platform.
//
// Manifests are written in sandboxed Lua (see Parser) with a read-only
// `platform` table available for conditional values.
package manifest

import (
	"path"
	"strings"
)

// Container is the packaging format of a downloaded artifact.
type Container string

const (
	ContainerTarGz  Container = "tar.gz"
	ContainerTarXz  Container = "tar.xz"
	ContainerTarZst Container = "tar.zst"
	ContainerZip    Container = "zip"
	ContainerDeb    Container = "deb"
	// ContainerNaked is a file used as-is, e.g. a bare executable.
	ContainerNaked Container = "naked"
)

var containers = map[Container]bool{
	ContainerTarGz:  true,
	ContainerTarXz:  true,
	ContainerTarZst: true,
	ContainerZip:    true,
	ContainerDeb:    true,
	ContainerNaked:  true,
}

// Valid reports whether c is a known container kind.
func (c Container) Valid() bool {
	return containers[c]
}

// ContainerFromURL infers the container kind from an artifact URL's suffix.
// Anything unrecognised is naked.
func ContainerFromURL(rawURL string) Container {
	name := strings.ToLower(path.Base(stripQuery(rawURL)))
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return ContainerTarGz
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return ContainerTarXz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return ContainerTarZst
	case strings.HasSuffix(name, ".zip"):
		return ContainerZip
	case strings.HasSuffix(name, ".deb"):
		return ContainerDeb
	default:
		return ContainerNaked
	}
}

// Manifest identifies a package and where to get it.
type Manifest struct {
	Name        string    // package name; names the symlink, desktop entry and icon
	DisplayName string    // human name; names the zap targets (defaults to Name)
	Description string
	Homepage    string
	Version     string
	Variants    []Variant // checked in order by Resolve
	App         AppSpec
	Zap         []string // extra user-state paths removed on zap ("~/" allowed)
}

// Variant is one platform branch of a manifest. Empty OS or Arch and zero
// Bits match any host.
type Variant struct {
	OS           string
	Arch         string
	Bits         int
	URL          string // may contain {version}
	SHA256       string // hex
	Container    Container
	SignatureURL string // optional detached OpenPGP signature, may contain {version}
}

// AppSpec locates the package's pieces inside the extracted tree. Paths are
// slash-separated and relative to the staging root.
type AppSpec struct {
	Executable   string // required
	DesktopEntry string // optional desktop-entry template
	Icon         string // optional PNG icon
}

// Artifact is a resolved, concrete download.
type Artifact struct {
	Package      string
	Version      string
	URL          string
	SHA256       string
	Container    Container
	Filename     string // local file name for the download
	SignatureURL string
}

// stripQuery drops any query string or fragment from a URL.
func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
