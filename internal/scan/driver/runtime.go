//go:build !windows

package driver

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// FindRuntime resolves the scan runtime binary. A path containing a
// separator is used as is, otherwise the name is looked up in PATH and then
// next to the running executable.
func FindRuntime(runtime string) (string, error) {
	if runtime == "" {
		return "", NewConfigError("scan runtime is not configured")
	}

	if filepath.Base(runtime) != runtime {
		if _, err := os.Stat(runtime); err != nil {
			return "", NewRuntimeError("scan runtime not found", err)
		}
		return runtime, nil
	}

	binPath, err := exec.LookPath(runtime)
	if err == nil {
		return binPath, nil
	}
	if !errors.Is(err, exec.ErrNotFound) {
		return "", NewRuntimeError("failed to look up scan runtime", err)
	}

	exePath, exeErr := os.Executable()
	if exeErr != nil {
		return "", NewRuntimeError("scan runtime not found", err)
	}

	binPath = filepath.Join(filepath.Dir(exePath), runtime)
	if _, statErr := os.Stat(binPath); statErr != nil {
		return "", NewRuntimeError("scan runtime not found", err)
	}

	return binPath, nil
}
