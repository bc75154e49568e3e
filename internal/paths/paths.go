// Package paths resolves the on-disk locations used by rvm.
//
// The store root defaults to the XDG data directory ($XDG_DATA_HOME/rvm)
// and can be overridden with the RVM_DATA_DIR environment variable, which
// tests use to run against isolated directories.
package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// EnvDataDir overrides the store root when set.
const EnvDataDir = "RVM_DATA_DIR"

// DataDir returns the rvm store root, creating it if necessary.
func DataDir() (string, error) {
	dir := os.Getenv(EnvDataDir)
	if dir == "" {
		dir = filepath.Join(xdg.DataHome, "rvm")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory %s: %w", dir, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s exists but is not a directory", dir)
	}

	return dir, nil
}
