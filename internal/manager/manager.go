// Package manager wires the manifest resolver, artifact fetcher, and
// version store into the operations exposed by the rvm CLI.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/paritytech/rvm/internal/fetch"
	"github.com/paritytech/rvm/internal/logging"
	"github.com/paritytech/rvm/internal/manifest"
	"github.com/paritytech/rvm/internal/platform"
	"github.com/paritytech/rvm/internal/store"
)

const (
	// fetchRetries is how many times a failed transfer is retried.
	// Only TransferError is retryable; every other failure is terminal.
	fetchRetries = 3
)

// retryBackoffBase scales the exponential backoff between download
// attempts. Tests shrink it.
var retryBackoffBase = time.Second

// ErrOfflineInstall indicates an install was requested in offline mode
// for a version that is not already present.
var ErrOfflineInstall = errors.New("cannot install new versions in offline mode")

// Config holds configuration for the manager.
type Config struct {
	// DataDir is the store root.
	DataDir string
	// Platform describes the host; required.
	Platform *platform.Info
	// Offline forces the resolver to use the cached manifest.
	Offline bool
	// BaseURL overrides the distribution host (tests).
	BaseURL string
	// Client overrides the HTTP client for manifest and artifact
	// requests (tests).
	Client *http.Client
	// LockTimeout overrides the store lock acquisition timeout.
	LockTimeout time.Duration
}

// Manager orchestrates version resolution, artifact download, and store
// mutation.
type Manager struct {
	store    *store.Store
	resolver *manifest.Resolver
	fetcher  *fetch.Fetcher
	offline  bool
}

// New creates a manager rooted at cfg.DataDir.
func New(cfg Config) (*Manager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required")
	}
	if cfg.Platform == nil {
		return nil, fmt.Errorf("Platform is required")
	}

	key, err := cfg.Platform.ManifestKey()
	if err != nil {
		return nil, err
	}

	st, err := store.New(store.Config{Root: cfg.DataDir, LockTimeout: cfg.LockTimeout})
	if err != nil {
		return nil, err
	}

	resolver, err := manifest.NewResolver(manifest.Config{
		CacheDir:    st.CacheDir(),
		PlatformKey: key,
		BaseURL:     cfg.BaseURL,
		Client:      cfg.Client,
	})
	if err != nil {
		return nil, err
	}

	fetcher := fetch.NewFetcher(st.StagingDir())
	if cfg.Client != nil {
		fetcher.SetClient(cfg.Client)
	}

	return &Manager{
		store:    st,
		resolver: resolver,
		fetcher:  fetcher,
		offline:  cfg.Offline,
	}, nil
}

// Store exposes the underlying version store.
func (m *Manager) Store() *store.Store { return m.store }

// Resolve determines the concrete build for a version requirement
// without installing anything.
func (m *Manager) Resolve(ctx context.Context, req manifest.Request) (*manifest.Build, error) {
	return m.resolver.Resolve(ctx, req, m.offline)
}

// Install resolves the requirement, downloads and verifies the artifact,
// and installs it. Re-installing a present version with a matching
// digest skips the download entirely.
func (m *Manager) Install(ctx context.Context, req manifest.Request) (*store.InstalledVersion, error) {
	log := logging.Logger("manager")

	build, err := m.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if existing, err := m.store.Installed(build.Version); err == nil &&
		strings.EqualFold(existing.Build.SHA256, build.SHA256) {
		log.Info().Str("version", build.Version.String()).Msg("already installed")
		return existing, nil
	}

	if m.offline {
		return nil, fmt.Errorf("%w: v%s", ErrOfflineInstall, build.Version)
	}

	staged, err := m.fetchWithRetry(ctx, build)
	if err != nil {
		return nil, err
	}
	defer staged.Remove()

	return m.store.Install(ctx, build, staged.Path)
}

// fetchWithRetry retries transient transfer failures with exponential
// backoff. Integrity failures are never retried.
func (m *Manager) fetchWithRetry(ctx context.Context, build *manifest.Build) (*fetch.Staged, error) {
	log := logging.Logger("manager")

	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * retryBackoffBase
			log.Debug().Int("attempt", attempt).Dur("backoff", backoff).
				Str("url", build.URL).Msg("retrying download")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		staged, err := m.fetcher.Fetch(ctx, build)
		if err == nil {
			return staged, nil
		}

		var transferErr *fetch.TransferError
		if !errors.As(err, &transferErr) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("download failed after %d retries: %w", fetchRetries, lastErr)
}

// Remove uninstalls a version.
func (m *Manager) Remove(ctx context.Context, version *semver.Version) error {
	return m.store.Remove(ctx, version)
}

// SetDefault marks an installed version as the default.
func (m *Manager) SetDefault(ctx context.Context, version *semver.Version) error {
	return m.store.SetDefault(ctx, version)
}

// Which returns the executable path for the given version, or the
// default version when version is nil.
func (m *Manager) Which(version *semver.Version) (string, error) {
	return m.store.ResolveBinary(version)
}

// Entry is one row of a merged listing.
type Entry struct {
	Version   *semver.Version
	Installed bool
	Default   bool
	// Path is set for installed versions.
	Path string
	// SolcRange is the supported solc version range, when known.
	SolcRange string
}

// List merges installed versions with the versions available from the
// manifest, ascending by version. When no manifest can be obtained in
// offline mode the listing degrades to installed versions only. The
// optional solc version filters both sides to compatible builds.
func (m *Manager) List(ctx context.Context, solc *semver.Version) ([]Entry, error) {
	installed, err := m.store.List()
	if err != nil {
		return nil, err
	}

	defaultVersion, err := m.store.DefaultVersion()
	if err != nil && !errors.Is(err, store.ErrNoDefault) {
		return nil, err
	}

	entries := make([]Entry, 0, len(installed))
	seen := make(map[string]bool, len(installed))
	for _, iv := range installed {
		if solc != nil && iv.Build.CheckSolcCompat(solc) != nil {
			continue
		}
		entries = append(entries, Entry{
			Version:   iv.Version,
			Installed: true,
			Default:   defaultVersion != nil && defaultVersion.Equal(iv.Version),
			Path:      iv.Path,
			SolcRange: solcRange(&iv.Build),
		})
		seen[iv.Version.String()] = true
	}

	idx, err := m.resolver.Load(ctx, m.offline)
	if err != nil {
		if m.offline && errors.Is(err, manifest.ErrUnavailable) {
			return entries, nil
		}
		return nil, err
	}

	for i := range idx.Builds {
		build := &idx.Builds[i]
		if seen[build.Version.String()] {
			continue
		}
		if solc != nil && build.CheckSolcCompat(solc) != nil {
			continue
		}
		entries = append(entries, Entry{
			Version:   build.Version,
			SolcRange: solcRange(build),
		})
	}

	sortEntries(entries)
	return entries, nil
}

func solcRange(b *manifest.Build) string {
	if b.FirstSolcVersion == nil || b.LastSolcVersion == nil {
		return ""
	}
	return fmt.Sprintf(">=%s, <=%s", b.FirstSolcVersion, b.LastSolcVersion)
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version.LessThan(entries[j].Version)
	})
}
