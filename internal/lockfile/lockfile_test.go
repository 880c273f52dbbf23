package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vayu.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading lock file: %v", err)
	}
	if got, _ := strconv.Atoi(string(data[:len(data)-1])); got != os.Getpid() {
		t.Fatalf("lock file pid = %d, want %d", got, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after Release")
	}
}

func TestAcquireHeldByLiveProcessFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vayu.lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if _, err := Acquire(path); err == nil {
		t.Fatalf("expected second Acquire to fail while the first is held")
	}
}

func TestAcquireReapsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vayu.lock")

	if err := os.WriteFile(path, []byte("999999999\n"), 0o644); err != nil {
		t.Fatalf("writing stale lock file: %v", err)
	}

	lock, err := Acquire(path)
	if err != nil {
		t.Fatalf("expected Acquire to reap a stale lock, got: %v", err)
	}
	defer lock.Release()
}

func TestDirCreatesDirectory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir, err := Dir("vayu-test")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected Dir to create %s", dir)
	}
}
