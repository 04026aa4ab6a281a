//go:build !windows

package driver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFindRuntime(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "spectral-scan")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("failed to write runtime: %v", err)
	}

	got, err := FindRuntime(bin)
	if err != nil {
		t.Fatalf("FindRuntime failed: %v", err)
	}
	if got != bin {
		t.Errorf("Expected %s, got %s", bin, got)
	}

	t.Setenv("PATH", dir)

	got, err = FindRuntime("spectral-scan")
	if err != nil {
		t.Fatalf("FindRuntime via PATH failed: %v", err)
	}
	if got != bin {
		t.Errorf("Expected %s, got %s", bin, got)
	}
}

func TestFindRuntime_Errors(t *testing.T) {
	var cfgErr *ConfigError
	if _, err := FindRuntime(""); !errors.As(err, &cfgErr) {
		t.Errorf("Expected ConfigError, got %v", err)
	}

	var rtErr *RuntimeError
	if _, err := FindRuntime(filepath.Join(t.TempDir(), "missing")); !errors.As(err, &rtErr) {
		t.Errorf("Expected RuntimeError, got %v", err)
	}
}
