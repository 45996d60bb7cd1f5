package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect reads OS and architecture from the Go runtime and, on Linux, the
// distribution from gopsutil. A distro lookup failure is not fatal: the
// distro fields are left empty and OS/arch are still returned. A cancelled
// context is.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info, err := Host(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}

	if info.IsLinux() {
		platform, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			return &info, nil
		}

		if platform = normalizeID(platform); platform != "" {
			info.Platform = platform
			info.Family = mapFamily(family)
			info.Version = normalizeID(version)
		}
	}

	return &info, nil
}
