package manifest

import (
	"fmt"
	"path"
	"strings"

	"github.com/ZebulonRouseFrantzich/tapline/internal/pkgerr"
	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
)

// versionPlaceholder is substituted with the manifest version in URLs.
const versionPlaceholder = "{version}"

// Matches reports whether every predicate of v holds for host.
func (v Variant) Matches(host platform.Info) bool {
	if v.OS != "" && v.OS != host.OS {
		return false
	}
	if v.Arch != "" && normalizeArch(v.Arch) != host.Arch {
		return false
	}
	if v.Bits != 0 && v.Bits != host.Bits {
		return false
	}
	return true
}

// Resolve selects the artifact for host. It returns the first matching
// variant in manifest order, or an UnsupportedPlatform error. It performs no
// I/O.
func Resolve(m *Manifest, host platform.Info) (*Artifact, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is required")
	}

	for _, v := range m.Variants {
		if !v.Matches(host) {
			continue
		}

		url := expandVersion(v.URL, m.Version)
		container := v.Container
		if container == "" {
			container = ContainerFromURL(url)
		}

		return &Artifact{
			Package:      m.Name,
			Version:      m.Version,
			URL:          url,
			SHA256:       strings.ToLower(v.SHA256),
			Container:    container,
			Filename:     artifactFilename(url, m.Name),
			SignatureURL: expandVersion(v.SignatureURL, m.Version),
		}, nil
	}

	return nil, pkgerr.Newf(pkgerr.KindUnsupportedPlatform, "resolve", "",
		"%s %s has no variant for %s (%d-bit)", m.Name, m.Version, host, host.Bits)
}

// normalizeArch maps an arch alias to its GOARCH name, leaving unknown
// values untouched so they simply never match.
func normalizeArch(arch string) string {
	if n, err := platform.NormalizeArch(arch); err == nil {
		return n
	}
	return arch
}

func expandVersion(s, version string) string {
	return strings.ReplaceAll(s, versionPlaceholder, version)
}

// artifactFilename derives a safe local file name from the URL's last path
// segment.
func artifactFilename(url, fallback string) string {
	name := path.Base(stripQuery(url))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	return name
}
