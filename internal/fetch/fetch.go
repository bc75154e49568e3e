// Package fetch downloads resolc artifacts into a staging area and
// verifies them against the digest recorded in the release manifest.
//
// The fetcher never returns bytes that failed verification, and it never
// writes inside the live version store: staged files are handed to the
// store which moves them into place with an atomic rename.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paritytech/rvm/internal/logging"
	"github.com/paritytech/rvm/internal/manifest"
)

const (
	// DefaultTimeout bounds a single artifact download.
	DefaultTimeout = 5 * time.Minute
	// DefaultUserAgent is the User-Agent header sent with requests.
	DefaultUserAgent = "rvm/1.0"
)

// IntegrityError reports a digest mismatch between the downloaded bytes
// and the manifest. It is terminal: the staged artifact has already been
// deleted when this error is returned.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected sha256 %s, got %s",
		e.URL, e.Expected, e.Actual)
}

// TransferError reports a network-level download failure. It is the only
// error class callers may retry; Offset records how far the transfer got.
type TransferError struct {
	URL    string
	Offset int64
	Status int // HTTP status, zero when the request never completed
	Err    error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transfer failed for %s: unexpected status %d (after %d bytes)",
			e.URL, e.Status, e.Offset)
	}
	return fmt.Sprintf("transfer failed for %s after %d bytes: %v", e.URL, e.Offset, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Staged is a verified artifact sitting in the staging area, ready to be
// installed. The path is outside the live store tree.
type Staged struct {
	Path   string
	SHA256 string
	Size   int64
}

// Remove deletes the staged file. Safe to call after a successful
// install, where the file has already been moved away.
func (s *Staged) Remove() {
	if s.Path != "" {
		os.Remove(s.Path)
	}
}

// Fetcher downloads artifacts into a staging directory.
type Fetcher struct {
	client     *http.Client
	stagingDir string
	userAgent  string
}

// NewFetcher creates a fetcher writing into stagingDir.
func NewFetcher(stagingDir string) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		stagingDir: stagingDir,
		userAgent:  DefaultUserAgent,
	}
}

// SetClient overrides the HTTP client (tests).
func (f *Fetcher) SetClient(client *http.Client) { f.client = client }

// Fetch downloads the build's artifact, hashing the bytes as they
// arrive, and returns a handle to the verified staged file. On any
// failure the partially written file is deleted. Fetch itself never
// retries; that policy belongs to the caller, and only for TransferError.
func (f *Fetcher) Fetch(ctx context.Context, build *manifest.Build) (*Staged, error) {
	log := logging.Logger("fetch")

	if err := os.MkdirAll(f.stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, build.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &TransferError{URL: build.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransferError{URL: build.URL, Status: resp.StatusCode}
	}

	stagedPath := filepath.Join(f.stagingDir, fmt.Sprintf("%s-%s", build.Name, uuid.New().String()))
	file, err := os.OpenFile(stagedPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	keep := false
	defer func() {
		file.Close()
		if !keep {
			os.Remove(stagedPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), resp.Body)
	if err != nil {
		return nil, &TransferError{URL: build.URL, Offset: written, Err: err}
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close staging file: %w", err)
	}

	// A size mismatch is a fast-fail signal; the digest check below is
	// authoritative either way.
	if build.Size > 0 && written != build.Size {
		log.Debug().Int64("expected", build.Size).Int64("actual", written).
			Str("url", build.URL).Msg("artifact size mismatch")
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, build.SHA256) {
		return nil, &IntegrityError{
			URL:      build.URL,
			Expected: strings.ToLower(build.SHA256),
			Actual:   actual,
		}
	}

	log.Debug().Str("url", build.URL).Int64("bytes", written).Msg("artifact fetched and verified")

	keep = true
	return &Staged{Path: stagedPath, SHA256: actual, Size: written}, nil
}
