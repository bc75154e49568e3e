// Package testutil provides utilities for testing rvm in isolation.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/paritytech/rvm/internal/paths"
)

// SetupTestEnv points the rvm data directory at a per-test temporary
// location so tests never touch the user's real version store. Cleanup
// is handled by t.TempDir.
func SetupTestEnv(t *testing.T) string {
	t.Helper()

	dataDir := filepath.Join(t.TempDir(), "rvm")
	t.Setenv(paths.EnvDataDir, dataDir)
	return dataDir
}
