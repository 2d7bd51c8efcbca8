//go:build !windows

package applock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestProbe_MissingFile(t *testing.T) {
	if err := Probe(filepath.Join(t.TempDir(), "Player.log")); err != nil {
		t.Errorf("missing file should read as not running, got %v", err)
	}
}

func TestProbe_UnheldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Player.log")
	if err := os.WriteFile(path, []byte("log"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Probe(path); err != nil {
		t.Errorf("unheld file should read as not running, got %v", err)
	}
}

func TestProbe_HeldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Player.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		t.Fatal(err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := Probe(path); !errors.Is(err, ErrAppRunning) {
		t.Errorf("got %v, want ErrAppRunning", err)
	}
}
