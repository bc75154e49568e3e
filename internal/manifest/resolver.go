package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/paritytech/rvm/internal/logging"
)

const (
	// RepoURL is the distribution host serving per-platform list.json files.
	RepoURL = "https://raw.githubusercontent.com/paritytech/resolc-bin/refs/heads/main"
	// DefaultTimeout bounds a single manifest fetch.
	DefaultTimeout = 30 * time.Second
	// maxManifestSize caps how much of a manifest response is read.
	maxManifestSize = 8 << 20
)

// ErrUnavailable indicates no manifest could be obtained: the fetch
// failed in online mode, or no cached copy exists in offline mode.
var ErrUnavailable = errors.New("release manifest unavailable")

// Request names an installable target: an exact version or "latest".
type Request struct {
	Version *semver.Version // nil when Latest is set
	Latest  bool
	// Solc, when set, additionally requires the resolved build to
	// support this solc version.
	Solc *semver.Version
}

// ParseRequest interprets a CLI version argument.
func ParseRequest(spec string) (Request, error) {
	if spec == "latest" {
		return Request{Latest: true}, nil
	}
	v, err := semver.NewVersion(spec)
	if err != nil {
		return Request{}, fmt.Errorf("invalid version %q: %w", spec, err)
	}
	return Request{Version: v}, nil
}

// Config holds configuration for the manifest resolver.
type Config struct {
	// CacheDir is where fetched manifests are cached for offline use.
	CacheDir string
	// PlatformKey selects the per-platform manifest, e.g. "linux".
	PlatformKey string
	// BaseURL overrides the distribution host (tests).
	BaseURL string
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Resolver fetches release manifests and resolves version requirements
// against them.
type Resolver struct {
	client      *http.Client
	baseURL     string
	cacheDir    string
	platformKey string
}

// NewResolver creates a resolver for one platform.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("CacheDir is required")
	}
	if cfg.PlatformKey == "" {
		return nil, fmt.Errorf("PlatformKey is required")
	}

	r := &Resolver{
		client:      cfg.Client,
		baseURL:     cfg.BaseURL,
		cacheDir:    cfg.CacheDir,
		platformKey: cfg.PlatformKey,
	}
	if r.baseURL == "" {
		r.baseURL = RepoURL
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: DefaultTimeout}
	}
	return r, nil
}

// URL returns the manifest URL for this resolver's platform.
func (r *Resolver) URL() string {
	return fmt.Sprintf("%s/%s/list.json", r.baseURL, r.platformKey)
}

// Load obtains the release manifest. Online mode fetches from the
// distribution host and opportunistically refreshes the local cache;
// offline mode reads the most recent cached copy.
func (r *Resolver) Load(ctx context.Context, offline bool) (*Index, error) {
	if offline {
		return r.loadCached()
	}

	idx, data, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}

	// Cache refresh is best effort and never fails the resolution.
	if err := r.writeCache(data); err != nil {
		log := logging.Logger("manifest")
		log.Warn().Err(err).Str("path", r.cachePath()).Msg("failed to refresh manifest cache")
	}

	return idx, nil
}

// Resolve determines the concrete build for a version requirement.
func (r *Resolver) Resolve(ctx context.Context, req Request, offline bool) (*Build, error) {
	idx, err := r.Load(ctx, offline)
	if err != nil {
		return nil, err
	}

	var build *Build
	if req.Latest {
		build, err = idx.Latest()
	} else {
		build, err = idx.GetBuild(req.Version)
	}
	if err != nil {
		return nil, err
	}

	if req.Solc != nil {
		if err := build.CheckSolcCompat(req.Solc); err != nil {
			return nil, err
		}
	}

	return build, nil
}

func (r *Resolver) fetch(ctx context.Context) (*Index, []byte, error) {
	url := r.URL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create manifest request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: fetch %s: unexpected status %d", ErrUnavailable, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, url, err)
	}

	idx, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return idx, data, nil
}

func (r *Resolver) cachePath() string {
	return filepath.Join(r.cacheDir, fmt.Sprintf("list-%s.json", r.platformKey))
}

func (r *Resolver) loadCached() (*Index, error) {
	data, err := os.ReadFile(r.cachePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no cached manifest for platform %s (run once without --offline)",
				ErrUnavailable, r.platformKey)
		}
		return nil, fmt.Errorf("%w: read cached manifest: %v", ErrUnavailable, err)
	}

	idx, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return idx, nil
}

// writeCache atomically replaces the cached manifest using the
// write-temp-then-rename pattern, never leaving a partially written copy.
func (r *Resolver) writeCache(data []byte) error {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	finalPath := r.cachePath()
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temporary manifest cache: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename manifest cache: %w", err)
	}

	return nil
}
