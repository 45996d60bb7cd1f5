package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
)

// namePattern restricts package names to what is safe as a file name in
// bin/, applications/ and the icon theme.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]*$`)

var knownOS = map[string]bool{"": true, "linux": true, "darwin": true, "windows": true}

// ValidateName checks a package name.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("package name is required")
	}
	if !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid package name %q: use lowercase letters, digits and . _ + -", name)
	}
	return nil
}

// ValidateDisplayName checks a display name used as a directory name under
// the user's cache, config and data directories.
func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("display name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid display name %q: must be a single path element", name)
	}
	return nil
}

// Validate checks the manifest's structure and the invariant that no two
// variants can match the same host.
func (m *Manifest) Validate() error {
	var errs []error

	if err := ValidateName(m.Name); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateDisplayName(m.DisplayName); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(m.Variants) == 0 {
		errs = append(errs, errors.New("at least one variant is required"))
	}

	for i, v := range m.Variants {
		if err := v.validate(); err != nil {
			errs = append(errs, fmt.Errorf("variant %d: %w", i+1, err))
		}
		for j := 0; j < i; j++ {
			if m.Variants[j].overlaps(v) {
				errs = append(errs, fmt.Errorf("variants %d and %d match the same platform", j+1, i+1))
			}
		}
	}

	if m.App.Executable == "" {
		errs = append(errs, errors.New("app.executable is required"))
	}
	for field, p := range map[string]string{
		"app.executable":    m.App.Executable,
		"app.desktop_entry": m.App.DesktopEntry,
		"app.icon":          m.App.Icon,
	} {
		if p != "" && !isRelativeInside(p) {
			errs = append(errs, fmt.Errorf("%s must be a relative path inside the package, got %q", field, p))
		}
	}

	for _, z := range m.Zap {
		if !isHomePath(z) {
			errs = append(errs, fmt.Errorf("zap path %q must start with ~/ and stay inside the home directory", z))
		}
	}

	return errors.Join(errs...)
}

func (v Variant) validate() error {
	if !knownOS[v.OS] {
		return fmt.Errorf("unknown os %q", v.OS)
	}
	if v.Arch != "" {
		if _, err := platform.NormalizeArch(v.Arch); err != nil {
			return err
		}
	}
	if v.Bits != 0 && v.Bits != 32 && v.Bits != 64 {
		return fmt.Errorf("bits must be 32 or 64, got %d", v.Bits)
	}
	if strings.TrimSpace(v.URL) == "" {
		return errors.New("url is required")
	}
	if err := validateDigest(v.SHA256); err != nil {
		return err
	}
	if v.Container != "" && !v.Container.Valid() {
		return fmt.Errorf("unknown container %q", v.Container)
	}
	return nil
}

// overlaps reports whether some host satisfies both variants.
func (v Variant) overlaps(o Variant) bool {
	compatible := func(a, b string) bool { return a == "" || b == "" || a == b }
	if !compatible(v.OS, o.OS) || !compatible(normalizeArch(v.Arch), normalizeArch(o.Arch)) {
		return false
	}
	if v.Bits != 0 && o.Bits != 0 && v.Bits != o.Bits {
		return false
	}
	// An explicit arch fixes the word size, so arm64 never meets bits=32.
	for _, pair := range [][2]Variant{{v, o}, {o, v}} {
		if pair[0].Arch != "" && pair[1].Bits != 0 && platform.BitsOf(normalizeArch(pair[0].Arch)) != pair[1].Bits {
			return false
		}
	}
	return true
}

func validateDigest(digest string) error {
	if len(digest) != 64 {
		return fmt.Errorf("sha256 must be 64 hex characters, got %d", len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("sha256 is not hex: %w", err)
	}
	return nil
}

// isRelativeInside reports whether p is relative and cannot climb out of
// the directory it is joined to.
func isRelativeInside(p string) bool {
	if path.IsAbs(p) || strings.Contains(p, `\`) {
		return false
	}
	clean := path.Clean(p)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

// isHomePath reports whether p names something strictly below ~/.
func isHomePath(p string) bool {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return false
	}
	clean := path.Clean(rest)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../") && !path.IsAbs(clean)
}
