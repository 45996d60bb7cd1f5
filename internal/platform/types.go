// Package platform describes the host a package is being installed on.
//
// The host is detected once (OS and architecture from the Go runtime, Linux
// distribution details through gopsutil) and then passed explicitly to
// everything that branches on it. Nothing downstream reads runtime.GOOS
// directly, so tests can simulate any host by constructing an Info.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64", "386", "arm" (normalized)
	ArchRaw  string // architecture as reported (e.g. "x86_64", "aarch64")
	Bits     int    // 64 or 32
	Platform string // distro ID (Linux only, e.g., "ubuntu", "arch")
	Family   string // canonical family (e.g., "debian", "rhel", "arch")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// Host builds an Info for an explicit OS and architecture. The architecture
// may be given in any alias form accepted by NormalizeArch.
func Host(os, arch string) (Info, error) {
	normalized, err := NormalizeArch(arch)
	if err != nil {
		return Info{}, err
	}
	return Info{
		OS:      normalizeID(os),
		Arch:    normalized,
		ArchRaw: arch,
		Bits:    BitsOf(normalized),
	}, nil
}

// String returns "os/arch".
func (i Info) String() string {
	return i.OS + "/" + i.Arch
}

// IsLinux returns true if the platform is Linux.
func (i Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsIntel returns true for x86 CPUs of either width.
func (i Info) IsIntel() bool {
	return i.Arch == "amd64" || i.Arch == "386"
}

// IsARM returns true for ARM CPUs of either width.
func (i Info) IsARM() bool {
	return i.Arch == "arm64" || i.Arch == "arm"
}

// Is64Bit returns true for 64-bit CPUs.
func (i Info) Is64Bit() bool {
	return i.Bits == 64
}

// IsAppleSilicon returns true if running on Apple Silicon (macOS + arm64).
func (i Info) IsAppleSilicon() bool {
	return i.OS == "darwin" && i.Arch == "arm64"
}

// IsDebianFamily returns true if the Linux distribution is Debian-based.
func (i Info) IsDebianFamily() bool {
	return i.IsLinux() && i.Family == FamilyDebian
}

// IsRHELFamily returns true if the Linux distribution is RHEL-based.
func (i Info) IsRHELFamily() bool {
	return i.IsLinux() && i.Family == FamilyRHEL
}

// IsArchFamily returns true if the Linux distribution is Arch-based.
func (i Info) IsArchFamily() bool {
	return i.IsLinux() && i.Family == FamilyArch
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. It backs host overrides given on the
// command line and stands in for real detection in tests.
type StaticDetector struct {
	Info Info
}

// Detect returns a copy of the fixed Info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info := s.Info
	return &info, nil
}
