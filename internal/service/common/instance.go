//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another process of the same executable
// is found, which would mean two events overriding the same points.
var ErrAlreadyRunning = errors.New("another instance is already running")

// processLister lists running processes; replaced in tests.
type processLister func() ([]ps.Process, error)

// CheckSingleInstance fails when another process runs the current executable.
func CheckSingleInstance() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return checkSingleInstance(ps.Processes, filepath.Base(executable), os.Getpid())
}

// checkSingleInstance scans processes for another one named like name.
func checkSingleInstance(list processLister, name string, self int) error {
	processList, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	name = normalizeExecutable(name)

	var others []int

	for _, process := range processList {
		if process.Pid() == self {
			continue
		}

		if normalizeExecutable(process.Executable()) != name {
			continue
		}

		others = append(others, process.Pid())
	}

	if len(others) > 0 {
		return fmt.Errorf("%w: %s pid %v", ErrAlreadyRunning, name, others)
	}

	return nil
}

// normalizeExecutable strips the Windows extension and case so names compare equal.
func normalizeExecutable(name string) string {
	if runtime.GOOS == "windows" {
		name = strings.TrimSuffix(strings.ToLower(name), ".exe")
	}

	return name
}
