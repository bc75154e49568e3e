// Package manifest models the resolc release manifest (list.json) and
// resolves version requirements against it.
//
// The distribution host publishes one manifest per platform. A manifest
// lists downloadable builds with their URL, SHA-256 digest, and the range
// of solc versions each build supports.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrVersionNotFound indicates the manifest has no build for the
	// requested version on this platform.
	ErrVersionNotFound = errors.New("version not found in release manifest")
	// ErrEmpty indicates a manifest with no builds at all.
	ErrEmpty = errors.New("release manifest lists no builds")
)

// MinSolcVersion is the oldest solc release any resolc build supports.
var MinSolcVersion = semver.MustParse("0.8.0")

// Build describes one downloadable resolc binary.
type Build struct {
	// Name is the release asset name, e.g. "resolc-x86_64-unknown-linux-musl".
	Name        string          `json:"name"`
	Version     *semver.Version `json:"version"`
	LongVersion string          `json:"longVersion"`
	URL         string          `json:"url"`
	// SHA256 is the hex-encoded digest of the binary.
	SHA256 string `json:"sha256"`
	// Size is the artifact size in bytes, zero when the host omits it.
	Size             int64           `json:"size,omitempty"`
	FirstSolcVersion *semver.Version `json:"firstSolcVersion"`
	LastSolcVersion  *semver.Version `json:"lastSolcVersion"`
}

// Index is the parsed list.json document for one platform.
type Index struct {
	Builds   []Build           `json:"builds"`
	Releases map[string]string `json:"releases"`
	// LatestRelease is advisory; Latest recomputes the maximum from
	// Builds so a stale field cannot win.
	LatestRelease string `json:"latestRelease"`
}

// Parse decodes a list.json document.
func Parse(data []byte) (*Index, error) {
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse release manifest: %w", err)
	}
	for i := range idx.Builds {
		b := &idx.Builds[i]
		if b.Version == nil || b.Name == "" || b.URL == "" || b.SHA256 == "" {
			return nil, fmt.Errorf("parse release manifest: build %d is missing required fields", i)
		}
	}
	return &idx, nil
}

// GetBuild returns the build for an exact version.
func (idx *Index) GetBuild(version *semver.Version) (*Build, error) {
	for i := range idx.Builds {
		if idx.Builds[i].Version.Equal(version) {
			return &idx.Builds[i], nil
		}
	}
	return nil, fmt.Errorf("%w: v%s", ErrVersionNotFound, version)
}

// Latest returns the build with the highest version under semver
// precedence. Pre-release versions are skipped when at least one stable
// version exists; the resolc channel has shipped only pre-releases so
// far, so an all-pre-release manifest falls back to the overall maximum.
func (idx *Index) Latest() (*Build, error) {
	if len(idx.Builds) == 0 {
		return nil, ErrEmpty
	}

	var stable, overall *Build
	for i := range idx.Builds {
		b := &idx.Builds[i]
		if overall == nil || b.Version.GreaterThan(overall.Version) {
			overall = b
		}
		if b.Version.Prerelease() == "" {
			if stable == nil || b.Version.GreaterThan(stable.Version) {
				stable = b
			}
		}
	}

	if stable != nil {
		return stable, nil
	}
	return overall, nil
}

// SolcRange returns the solc version range this build supports.
func (b *Build) SolcRange() (*semver.Constraints, error) {
	return semver.NewConstraint(fmt.Sprintf(">=%s, <=%s", b.FirstSolcVersion, b.LastSolcVersion))
}

// SolcCompatError reports a solc version outside a build's supported range.
type SolcCompatError struct {
	SolcVersion   *semver.Version
	ResolcVersion *semver.Version
	Supported     string
}

func (e *SolcCompatError) Error() string {
	return fmt.Sprintf("solc v%s is not supported by resolc v%s (supported range: %s)",
		e.SolcVersion, e.ResolcVersion, e.Supported)
}

// CheckSolcCompat verifies that the given solc version falls inside the
// range supported by this build.
func (b *Build) CheckSolcCompat(solc *semver.Version) error {
	rng, err := b.SolcRange()
	if err != nil {
		return fmt.Errorf("solc range for resolc v%s: %w", b.Version, err)
	}

	if !rng.Check(solc) || solc.LessThan(MinSolcVersion) {
		return &SolcCompatError{
			SolcVersion:   solc,
			ResolcVersion: b.Version,
			Supported:     fmt.Sprintf(">=%s, <=%s", b.FirstSolcVersion, b.LastSolcVersion),
		}
	}
	return nil
}
