package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/paritytech/rvm/internal/fetch"
	"github.com/paritytech/rvm/internal/manifest"
	"github.com/paritytech/rvm/internal/platform"
	"github.com/paritytech/rvm/internal/store"
)

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// distHost simulates the distribution host: a per-platform manifest
// plus the artifacts it points at, with controllable failures.
type distHost struct {
	srv *httptest.Server

	mu           sync.Mutex
	artifacts    map[string][]byte // version -> binary content
	failures     map[string]int    // version -> remaining 500 responses
	hits         map[string]int    // version -> artifact request count
	badDigest    map[string]bool   // version -> advertise a wrong sha256
	manifestHits int
}

func newDistHost(t *testing.T) *distHost {
	t.Helper()

	h := &distHost{
		artifacts: make(map[string][]byte),
		failures:  make(map[string]int),
		hits:      make(map[string]int),
		badDigest: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/linux/list.json", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.manifestHits++
		doc := h.manifestLocked()
		h.mu.Unlock()
		w.Write(doc)
	})
	mux.HandleFunc("/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		version := strings.TrimPrefix(r.URL.Path, "/artifacts/")

		h.mu.Lock()
		h.hits[version]++
		content, ok := h.artifacts[version]
		fail := h.failures[version] > 0
		if fail {
			h.failures[version]--
		}
		h.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		if fail {
			http.Error(w, "transient failure", http.StatusInternalServerError)
			return
		}
		w.Write(content)
	})

	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *distHost) add(version string, content []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.artifacts[version] = content
}

func (h *distHost) manifestLocked() []byte {
	idx := manifest.Index{Releases: make(map[string]string)}
	for version, content := range h.artifacts {
		digest := digestOf(content)
		if h.badDigest[version] {
			digest = strings.Repeat("0", 64)
		}
		idx.Builds = append(idx.Builds, manifest.Build{
			Name:             "resolc-x86_64-unknown-linux-musl",
			Version:          semver.MustParse(version),
			LongVersion:      version + "+commit.0000000",
			URL:              h.srv.URL + "/artifacts/" + version,
			SHA256:           digest,
			FirstSolcVersion: semver.MustParse("0.8.0"),
			LastSolcVersion:  semver.MustParse("0.8.29"),
		})
		idx.Releases[version] = "resolc-x86_64-unknown-linux-musl"
	}

	doc, err := json.Marshal(&idx)
	if err != nil {
		panic(err)
	}
	return doc
}

func (h *distHost) artifactHits(version string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[version]
}

func newTestManager(t *testing.T, h *distHost, dataDir string, offline bool) *Manager {
	t.Helper()

	mgr, err := New(Config{
		DataDir:  dataDir,
		Platform: &platform.Info{OS: "linux", Arch: "amd64"},
		Offline:  offline,
		BaseURL:  h.srv.URL,
		Client:   h.srv.Client(),
	})
	if err != nil {
		t.Fatalf("manager.New failed: %v", err)
	}
	return mgr
}

func exactRequest(t *testing.T, version string) manifest.Request {
	t.Helper()

	req, err := manifest.ParseRequest(version)
	if err != nil {
		t.Fatalf("ParseRequest(%q) failed: %v", version, err)
	}
	return req
}

func TestInstallLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newDistHost(t)
	h.add("1.0.0", []byte("resolc binary 1.0.0"))
	h.add("1.2.0", []byte("resolc binary 1.2.0"))

	mgr := newTestManager(t, h, filepath.Join(t.TempDir(), "rvm"), false)

	iv, err := mgr.Install(ctx, exactRequest(t, "1.2.0"))
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	content, err := os.ReadFile(iv.Path)
	if err != nil {
		t.Fatalf("read installed binary: %v", err)
	}
	if string(content) != "resolc binary 1.2.0" {
		t.Errorf("installed binary content mismatch: %q", content)
	}
	info, err := os.Stat(iv.Path)
	if err != nil {
		t.Fatalf("stat installed binary: %v", err)
	}
	if info.Mode()&0111 == 0 {
		t.Errorf("installed binary is not executable: %v", info.Mode())
	}

	if err := mgr.SetDefault(ctx, iv.Version); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}
	path, err := mgr.Which(nil)
	if err != nil {
		t.Fatalf("Which failed: %v", err)
	}
	if path != iv.Path {
		t.Errorf("Which mismatch: got %s, want %s", path, iv.Path)
	}

	// Reinstalling a present version with an unchanged digest must not
	// touch the network.
	before := h.artifactHits("1.2.0")
	if _, err := mgr.Install(ctx, exactRequest(t, "1.2.0")); err != nil {
		t.Fatalf("reinstall failed: %v", err)
	}
	if got := h.artifactHits("1.2.0"); got != before {
		t.Errorf("reinstall re-downloaded the artifact: %d hits, want %d", got, before)
	}

	if err := mgr.Remove(ctx, iv.Version); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := mgr.Which(nil); !errors.Is(err, store.ErrNoDefault) {
		t.Errorf("expected ErrNoDefault after removing the default, got %v", err)
	}

	if _, err := mgr.Install(ctx, exactRequest(t, "1.2.0")); err != nil {
		t.Fatalf("reinstall after remove failed: %v", err)
	}
}

func TestInstallLatest(t *testing.T) {
	h := newDistHost(t)
	h.add("1.0.0", []byte("old"))
	h.add("1.2.0", []byte("new"))

	mgr := newTestManager(t, h, filepath.Join(t.TempDir(), "rvm"), false)

	iv, err := mgr.Install(context.Background(), exactRequest(t, "latest"))
	if err != nil {
		t.Fatalf("Install latest failed: %v", err)
	}
	if iv.Version.String() != "1.2.0" {
		t.Errorf("latest resolved to %s, want 1.2.0", iv.Version)
	}
}

func TestInstallUnknownVersion(t *testing.T) {
	h := newDistHost(t)
	h.add("1.0.0", []byte("old"))

	mgr := newTestManager(t, h, filepath.Join(t.TempDir(), "rvm"), false)

	_, err := mgr.Install(context.Background(), exactRequest(t, "9.9.9"))
	if !errors.Is(err, manifest.ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestInstallRetriesTransientFailures(t *testing.T) {
	defer func(base time.Duration) { retryBackoffBase = base }(retryBackoffBase)
	retryBackoffBase = time.Millisecond

	h := newDistHost(t)
	h.add("1.0.0", []byte("resolc binary 1.0.0"))
	h.failures["1.0.0"] = 2

	mgr := newTestManager(t, h, filepath.Join(t.TempDir(), "rvm"), false)

	if _, err := mgr.Install(context.Background(), exactRequest(t, "1.0.0")); err != nil {
		t.Fatalf("Install failed despite retries: %v", err)
	}
	if got := h.artifactHits("1.0.0"); got != 3 {
		t.Errorf("artifact requested %d times, want 3", got)
	}
}

func TestInstallRetriesExhausted(t *testing.T) {
	defer func(base time.Duration) { retryBackoffBase = base }(retryBackoffBase)
	retryBackoffBase = time.Millisecond

	h := newDistHost(t)
	h.add("1.0.0", []byte("resolc binary 1.0.0"))
	h.failures["1.0.0"] = 100

	mgr := newTestManager(t, h, filepath.Join(t.TempDir(), "rvm"), false)

	_, err := mgr.Install(context.Background(), exactRequest(t, "1.0.0"))
	var transferErr *fetch.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if got := h.artifactHits("1.0.0"); got != fetchRetries+1 {
		t.Errorf("artifact requested %d times, want %d", got, fetchRetries+1)
	}
}

func TestInstallIntegrityFailureIsTerminal(t *testing.T) {
	defer func(base time.Duration) { retryBackoffBase = base }(retryBackoffBase)
	retryBackoffBase = time.Millisecond

	h := newDistHost(t)
	h.add("1.0.0", []byte("resolc binary 1.0.0"))
	h.badDigest["1.0.0"] = true

	dataDir := filepath.Join(t.TempDir(), "rvm")
	mgr := newTestManager(t, h, dataDir, false)

	_, err := mgr.Install(context.Background(), exactRequest(t, "1.0.0"))
	var integrityErr *fetch.IntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if got := h.artifactHits("1.0.0"); got != 1 {
		t.Errorf("integrity failure was retried: %d requests", got)
	}

	if _, err := mgr.Store().Installed(semver.MustParse("1.0.0")); !errors.Is(err, store.ErrNotInstalled) {
		t.Errorf("version installed despite digest mismatch: %v", err)
	}
	entries, err := os.ReadDir(mgr.Store().StagingDir())
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging area not cleaned up: %v", entries)
	}
}

func TestOffline(t *testing.T) {
	ctx := context.Background()
	h := newDistHost(t)
	h.add("1.0.0", []byte("resolc binary 1.0.0"))
	h.add("1.2.0", []byte("resolc binary 1.2.0"))

	dataDir := filepath.Join(t.TempDir(), "rvm")

	// Online run installs one version and seeds the manifest cache.
	online := newTestManager(t, h, dataDir, false)
	if _, err := online.Install(ctx, exactRequest(t, "1.0.0")); err != nil {
		t.Fatalf("online install failed: %v", err)
	}

	offline := newTestManager(t, h, dataDir, true)

	t.Run("present_version_resolves", func(t *testing.T) {
		iv, err := offline.Install(ctx, exactRequest(t, "1.0.0"))
		if err != nil {
			t.Fatalf("offline reinstall of present version failed: %v", err)
		}
		if iv.Version.String() != "1.0.0" {
			t.Errorf("resolved %s, want 1.0.0", iv.Version)
		}
	})

	t.Run("missing_version_is_rejected", func(t *testing.T) {
		hits := h.artifactHits("1.2.0")
		_, err := offline.Install(ctx, exactRequest(t, "1.2.0"))
		if !errors.Is(err, ErrOfflineInstall) {
			t.Errorf("expected ErrOfflineInstall, got %v", err)
		}
		if got := h.artifactHits("1.2.0"); got != hits {
			t.Errorf("offline install hit the network: %d requests", got-hits)
		}
	})

	t.Run("list_uses_cached_manifest", func(t *testing.T) {
		entries, err := offline.List(ctx, nil)
		if err != nil {
			t.Fatalf("offline List failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
		}
	})

	t.Run("list_without_cache_degrades_to_installed", func(t *testing.T) {
		if err := os.Remove(filepath.Join(online.Store().CacheDir(), "list-linux.json")); err != nil {
			t.Fatalf("remove cached manifest: %v", err)
		}

		entries, err := offline.List(ctx, nil)
		if err != nil {
			t.Fatalf("offline List without cache failed: %v", err)
		}
		if len(entries) != 1 || !entries[0].Installed {
			t.Fatalf("expected only the installed version, got %+v", entries)
		}
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	h := newDistHost(t)
	h.add("1.0.0", []byte("resolc binary 1.0.0"))
	h.add("1.2.0", []byte("resolc binary 1.2.0"))
	h.add("2.0.0", []byte("resolc binary 2.0.0"))

	mgr := newTestManager(t, h, filepath.Join(t.TempDir(), "rvm"), false)

	iv, err := mgr.Install(ctx, exactRequest(t, "1.2.0"))
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if err := mgr.SetDefault(ctx, iv.Version); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}

	entries, err := mgr.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []struct {
		version   string
		installed bool
		isDefault bool
	}{
		{"1.0.0", false, false},
		{"1.2.0", true, true},
		{"2.0.0", false, false},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i, w := range want {
		e := entries[i]
		if e.Version.String() != w.version || e.Installed != w.installed || e.Default != w.isDefault {
			t.Errorf("entry %d mismatch: got {%s installed=%t default=%t}, want %+v",
				i, e.Version, e.Installed, e.Default, w)
		}
	}

	t.Run("solc_filter", func(t *testing.T) {
		entries, err := mgr.List(ctx, semver.MustParse("0.7.6"))
		if err != nil {
			t.Fatalf("List with solc filter failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no builds supporting solc 0.7.6, got %+v", entries)
		}

		entries, err = mgr.List(ctx, semver.MustParse("0.8.20"))
		if err != nil {
			t.Fatalf("List with solc filter failed: %v", err)
		}
		if len(entries) != 3 {
			t.Errorf("expected all builds to support solc 0.8.20, got %+v", entries)
		}
	})
}
