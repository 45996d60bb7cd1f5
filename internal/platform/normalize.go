package platform

import (
	"fmt"
	"strings"
)

// familyMap maps distribution names to their canonical family names.
var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian,
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
	"gentoo":   FamilyGentoo,
}

// archAliases maps the spellings used by release assets and uname to GOARCH names.
var archAliases = map[string]string{
	"amd64":   "amd64",
	"x86_64":  "amd64",
	"x64":     "amd64",
	"arm64":   "arm64",
	"aarch64": "arm64",
	"386":     "386",
	"i386":    "386",
	"i686":    "386",
	"x86":     "386",
	"arm":     "arm",
	"armv7":   "arm",
	"armv7l":  "arm",
	"armhf":   "arm",
}

// NormalizeArch converts an architecture alias to its GOARCH name.
func NormalizeArch(arch string) (string, error) {
	if normalized, ok := archAliases[strings.ToLower(strings.TrimSpace(arch))]; ok {
		return normalized, nil
	}
	return "", fmt.Errorf("unsupported architecture: %q", arch)
}

// BitsOf returns the word size of a normalized architecture.
func BitsOf(arch string) int {
	switch arch {
	case "386", "arm":
		return 32
	default:
		return 64
	}
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mapFamily maps distribution family strings to canonical family names.
func mapFamily(family string) string {
	if canonical, ok := familyMap[normalizeID(family)]; ok {
		return canonical
	}
	return FamilyUnknown
}
