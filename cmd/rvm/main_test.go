package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paritytech/rvm/internal/testutil"
)

func TestParseVersionArg(t *testing.T) {
	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{arg: "1.2.0", want: "1.2.0"},
		{arg: "0.1.0-dev.13", want: "0.1.0-dev.13"},
		{arg: "v1.2.0", want: "1.2.0"},
		{arg: "latest", wantErr: true},
		{arg: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			v, err := parseVersionArg(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseVersionArg(%q) succeeded, want error", tt.arg)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVersionArg(%q) failed: %v", tt.arg, err)
			}
			if v.String() != tt.want {
				t.Errorf("got %s, want %s", v, tt.want)
			}
		})
	}
}

func TestParseSolcFlag(t *testing.T) {
	v, err := parseSolcFlag("")
	if err != nil || v != nil {
		t.Errorf("empty flag should yield no filter, got %v, %v", v, err)
	}

	v, err = parseSolcFlag("0.8.20")
	if err != nil {
		t.Fatalf("parseSolcFlag failed: %v", err)
	}
	if v.String() != "0.8.20" {
		t.Errorf("got %s, want 0.8.20", v)
	}

	if _, err := parseSolcFlag("newest"); err == nil {
		t.Error("expected error for malformed solc version")
	}
}

func TestNewManagerUsesDataDirOverride(t *testing.T) {
	dataDir := testutil.SetupTestEnv(t)

	opts := &rootOptions{offline: true}
	mgr, err := newManager(context.Background(), opts)
	if err != nil {
		t.Fatalf("newManager failed: %v", err)
	}

	if mgr.Store().Root() != dataDir {
		t.Errorf("store rooted at %s, want %s", mgr.Store().Root(), dataDir)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "versions")); err != nil {
		t.Errorf("store layout not initialized: %v", err)
	}
}
