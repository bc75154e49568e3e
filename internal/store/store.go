// Package store owns the on-disk tree of installed resolc versions and
// the default-version pointer.
//
// Layout under the store root:
//
//	versions/<version>/<build-name>   the executable
//	versions/<version>/build.json     recorded release metadata incl. digest
//	default-version                   pointer file (version string)
//	staging/                          fetcher scratch area
//	trash/                            rename target for removals
//	.rvm.lock                         cross-process advisory lock
//
// Every mutation holds the store lock for its whole duration and makes
// the new state visible with a single atomic rename, so readers observe
// either the prior state or the completed one, never an intermediate.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/paritytech/rvm/internal/logging"
	"github.com/paritytech/rvm/internal/manifest"
)

const (
	versionsDirName = "versions"
	stagingDirName  = "staging"
	trashDirName    = "trash"
	cacheDirName    = "cache"
	pointerFileName = "default-version"
	metadataName    = "build.json"
	tmpDirPrefix    = ".tmp-"
)

var (
	// ErrNotInstalled indicates the requested version is absent from the store.
	ErrNotInstalled = errors.New("version is not installed")
	// ErrNoDefault indicates no default version has been set.
	ErrNoDefault = errors.New("no default resolc version is set")
)

// InstalledVersion describes one version present in the store.
type InstalledVersion struct {
	Version *semver.Version
	// Path is the absolute path of the installed executable.
	Path string
	// Build is the release metadata recorded at install time.
	Build manifest.Build
}

// Store is the on-disk version store. All mutating methods serialize
// against every other rvm process on the machine via the store lock.
type Store struct {
	root        string
	lockTimeout time.Duration
}

// Config holds configuration for the store.
type Config struct {
	// Root is the store root directory.
	Root string
	// LockTimeout bounds lock acquisition; DefaultLockTimeout when zero.
	LockTimeout time.Duration
}

// New opens (and if needed creates) the store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("Root is required")
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	for _, dir := range []string{
		cfg.Root,
		filepath.Join(cfg.Root, versionsDirName),
		filepath.Join(cfg.Root, stagingDirName),
		filepath.Join(cfg.Root, cacheDirName),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	return &Store{root: cfg.Root, lockTimeout: cfg.LockTimeout}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// StagingDir returns the scratch area for not-yet-installed artifacts.
// It lives on the same filesystem as the versions tree so installs can
// use an atomic rename.
func (s *Store) StagingDir() string { return filepath.Join(s.root, stagingDirName) }

// CacheDir returns the directory holding cached release manifests.
func (s *Store) CacheDir() string { return filepath.Join(s.root, cacheDirName) }

func (s *Store) versionsDir() string { return filepath.Join(s.root, versionsDirName) }

func (s *Store) versionDir(v *semver.Version) string {
	return filepath.Join(s.versionsDir(), v.String())
}

func (s *Store) pointerPath() string { return filepath.Join(s.root, pointerFileName) }

// Install moves a staged, already-verified artifact into the store as
// the given version. Installing a version that is already present with a
// matching digest is an idempotent no-op returning the existing entry.
func (s *Store) Install(ctx context.Context, build *manifest.Build, stagedPath string) (*InstalledVersion, error) {
	log := logging.Logger("store")

	lock, err := acquireLock(ctx, s.root, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	if existing, err := s.installed(build.Version); err == nil &&
		strings.EqualFold(existing.Build.SHA256, build.SHA256) {
		log.Debug().Str("version", build.Version.String()).Msg("version already installed")
		return existing, nil
	}

	// Assemble the complete version directory under a sibling temporary
	// name, then publish it with one rename. A crash at any point leaves
	// either no directory or the finished one under the final name. Any
	// existing directory (a republished build, or the remains of a
	// damaged install) is displaced only after assembly succeeds, so a
	// failed replacement never costs the prior install.
	tmpDir := filepath.Join(s.versionsDir(), tmpDirPrefix+uuid.New().String())
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("create temporary version directory: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.RemoveAll(tmpDir)
		}
	}()

	binPath := filepath.Join(tmpDir, build.Name)
	if err := os.Rename(stagedPath, binPath); err != nil {
		return nil, fmt.Errorf("move staged artifact: %w", err)
	}
	if err := os.Chmod(binPath, 0755); err != nil {
		return nil, fmt.Errorf("set executable permissions: %w", err)
	}

	meta, err := json.MarshalIndent(build, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal build metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, metadataName), meta, 0644); err != nil {
		return nil, fmt.Errorf("write build metadata: %w", err)
	}

	finalDir := s.versionDir(build.Version)
	if _, err := os.Stat(finalDir); err == nil {
		// The pointer (if any) keeps naming the version and stays
		// valid throughout the replacement.
		if err := s.trashDir(finalDir); err != nil {
			return nil, fmt.Errorf("replace v%s: %w", build.Version, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat version directory: %w", err)
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return nil, fmt.Errorf("publish version directory: %w", err)
	}
	cleanup = false

	log.Info().Str("version", build.Version.String()).Str("path", finalDir).Msg("version installed")

	return &InstalledVersion{
		Version: build.Version,
		Path:    filepath.Join(finalDir, build.Name),
		Build:   *build,
	}, nil
}

// Remove uninstalls a version. Removing the current default clears the
// default pointer; it is never silently repointed at another version.
func (s *Store) Remove(ctx context.Context, version *semver.Version) error {
	log := logging.Logger("store")

	lock, err := acquireLock(ctx, s.root, s.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	dir := s.versionDir(version)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: v%s", ErrNotInstalled, version)
		}
		return fmt.Errorf("stat version directory: %w", err)
	}

	if def, err := s.readPointer(); err == nil && def.Equal(version) {
		if err := os.Remove(s.pointerPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear default pointer: %w", err)
		}
		log.Info().Str("version", version.String()).Msg("cleared default pointer")
	}

	if err := s.trashDir(dir); err != nil {
		return fmt.Errorf("remove v%s: %w", version, err)
	}

	log.Info().Str("version", version.String()).Msg("version removed")
	return nil
}

// trashDir moves a directory into the trash area and then deletes it, so
// a crash mid-delete never leaves a half-deleted tree under a live name.
func (s *Store) trashDir(dir string) error {
	log := logging.Logger("store")

	trashRoot := filepath.Join(s.root, trashDirName)
	if err := os.MkdirAll(trashRoot, 0755); err != nil {
		return fmt.Errorf("create trash directory: %w", err)
	}

	dest := filepath.Join(trashRoot, uuid.New().String())
	if err := os.Rename(dir, dest); err != nil {
		return fmt.Errorf("move to trash: %w", err)
	}

	if err := os.RemoveAll(dest); err != nil {
		// The entry is out of the live tree; deletion can be finished
		// by a later removal pass.
		log.Warn().Err(err).Str("path", dest).Msg("failed to empty trash entry")
	}
	return nil
}

// SetDefault atomically replaces the default-version pointer.
func (s *Store) SetDefault(ctx context.Context, version *semver.Version) error {
	log := logging.Logger("store")

	lock, err := acquireLock(ctx, s.root, s.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	if _, err := s.installed(version); err != nil {
		return err
	}

	tmpPath := s.pointerPath() + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(version.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("write temporary pointer file: %w", err)
	}
	if err := os.Rename(tmpPath, s.pointerPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename pointer file: %w", err)
	}

	log.Info().Str("version", version.String()).Msg("default version set")
	return nil
}

// DefaultVersion returns the version named by the default pointer.
func (s *Store) DefaultVersion() (*semver.Version, error) {
	return s.readPointer()
}

func (s *Store) readPointer() (*semver.Version, error) {
	data, err := os.ReadFile(s.pointerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDefault
		}
		return nil, fmt.Errorf("read default pointer: %w", err)
	}

	v, err := semver.NewVersion(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parse default pointer: %w", err)
	}
	return v, nil
}

// ResolveBinary returns the executable path for the given version, or
// for the default version when version is nil. Reads are lock-free: the
// rename discipline guarantees a consistent snapshot.
func (s *Store) ResolveBinary(version *semver.Version) (string, error) {
	if version == nil {
		def, err := s.readPointer()
		if err != nil {
			return "", err
		}
		version = def
	}

	iv, err := s.installed(version)
	if err != nil {
		return "", err
	}
	return iv.Path, nil
}

// installed loads the metadata of one installed version.
func (s *Store) installed(version *semver.Version) (*InstalledVersion, error) {
	dir := s.versionDir(version)

	data, err := os.ReadFile(filepath.Join(dir, metadataName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: v%s", ErrNotInstalled, version)
		}
		return nil, fmt.Errorf("read build metadata: %w", err)
	}

	var build manifest.Build
	if err := json.Unmarshal(data, &build); err != nil {
		return nil, fmt.Errorf("parse build metadata for v%s: %w", version, err)
	}

	binPath := filepath.Join(dir, build.Name)
	if _, err := os.Stat(binPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: v%s (binary missing)", ErrNotInstalled, version)
		}
		return nil, fmt.Errorf("stat binary: %w", err)
	}

	return &InstalledVersion{Version: build.Version, Path: binPath, Build: build}, nil
}

// Installed reports the metadata of one installed version.
func (s *Store) Installed(version *semver.Version) (*InstalledVersion, error) {
	return s.installed(version)
}

// List returns all installed versions in ascending semver order.
// Unfinished temporary directories and trash are never reported.
func (s *Store) List() ([]InstalledVersion, error) {
	entries, err := os.ReadDir(s.versionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read versions directory: %w", err)
	}

	var installed []InstalledVersion
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), tmpDirPrefix) {
			continue
		}
		version, err := semver.NewVersion(entry.Name())
		if err != nil {
			continue
		}
		iv, err := s.installed(version)
		if err != nil {
			continue
		}
		installed = append(installed, *iv)
	}

	sort.Slice(installed, func(i, j int) bool {
		return installed[i].Version.LessThan(installed[j].Version)
	})
	return installed, nil
}
