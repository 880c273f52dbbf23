// Package lockfile implements the single-instance PID lock of spec.md §6:
// one lock file under a user-config directory, created exclusively at
// startup, cleaned on graceful exit, with stale-lock detection so a crashed
// daemon doesn't wedge the next launch.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is an acquired PID lock file. Release must be called on clean
// shutdown.
type Lock struct {
	path string
	file *os.File
}

// Dir returns the user-config directory this daemon's state lives under,
// creating it if necessary.
func Dir(appName string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving user config dir: %w", err)
	}
	dir := filepath.Join(base, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	return dir, nil
}

// Acquire creates path exclusively and writes the current PID into it. If
// an existing lock file is found to be stale (its PID no longer exists),
// it is replaced; otherwise Acquire fails.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file %s: %w", path, err)
		}
		if staleErr := reapStale(path); staleErr != nil {
			return nil, staleErr
		}
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("another instance is already running (lock %s held): %w", path, err)
		}
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing pid to lock file: %w", err)
	}

	return &Lock{path: path, file: f}, nil
}

// reapStale removes path if the PID it names no longer corresponds to a
// running process. It returns an error if the lock is held by a live
// process.
func reapStale(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // raced with another exit; fine to retry acquire
		}
		return fmt.Errorf("reading existing lock file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Unreadable contents: treat as stale and replace.
		return os.Remove(path)
	}

	if processAlive(pid) {
		return fmt.Errorf("daemon already running with pid %d (lock %s)", pid, path)
	}
	return os.Remove(path)
}

// processAlive reports whether pid refers to a live process, using the
// signal-0 idiom: sending signal 0 performs error checking without
// delivering an actual signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// WriteDiscovery records the address the daemon actually bound next to the
// lock file. A client that only knows the configured port can read this
// file to find where the daemon ended up after a free-port fallback.
func WriteDiscovery(path string, addr string) error {
	if err := os.WriteFile(path, []byte(addr+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing discovery file %s: %w", path, err)
	}
	return nil
}

// Release removes the lock file. Safe to call once, at clean shutdown.
func (l *Lock) Release() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	return os.Remove(l.path)
}
