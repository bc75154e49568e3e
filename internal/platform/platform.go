// Package platform detects the host platform and maps it onto the
// platform keys used by the resolc release manifests.
package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// ErrUnsupported indicates that no resolc builds are published for the
// host OS/architecture combination.
var ErrUnsupported = errors.New("unsupported platform")

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // "amd64", "arm64"
	Distro  string // distro ID (Linux only, e.g. "ubuntu"), best effort
	Release string // distro version (Linux only), best effort
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// RealDetector implements Detector using runtime constants and gopsutil.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect returns information about the host platform. Distro details are
// gathered with gopsutil on Linux and degrade gracefully when detection
// fails; OS and architecture always come from the runtime.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if info.OS == "linux" {
		distro, _, release, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
			// Distro details are informational only.
			return info, nil
		}
		info.Distro = distro
		info.Release = release
	}

	return info, nil
}

// ManifestKey returns the platform path segment of the release manifest
// URL. The distribution host publishes one list.json per platform, for
// the combinations resolc binaries are built for.
func (i *Info) ManifestKey() (string, error) {
	switch {
	case i.OS == "linux" && i.Arch == "amd64":
		return "linux", nil
	case i.OS == "darwin" && (i.Arch == "amd64" || i.Arch == "arm64"):
		return "macos", nil
	case i.OS == "windows" && i.Arch == "amd64":
		return "windows", nil
	default:
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupported, i.OS, i.Arch)
	}
}
