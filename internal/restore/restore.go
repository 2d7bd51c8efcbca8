// Package restore extracts a preserved snapshot back into a live
// slot directory. A failed restore leaves the directory as it was;
// a successful one leaves exactly the snapshot's files.
package restore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gurnec/Undo-FFG/internal/applock"
	"github.com/gurnec/Undo-FFG/internal/fileset"
)

// Suppressor arms the discard of the next settle cycle for a slot,
// so a restore does not observe its own writes as a new save state.
type Suppressor interface {
	SuppressNext(slot int)
}

// SlotPatcher rewrites format-specific slot references inside the
// restored files. It runs after extraction; failure aborts the
// restore.
type SlotPatcher func(dir string, slot int) error

// Engine performs restores for one game.
type Engine struct {
	lockPath string
	sup      Suppressor
	patch    SlotPatcher
	logger   *slog.Logger
}

// New creates a restore engine. lockPath is the app's log file,
// probed before any write; empty disables the probe. patch may be
// nil for games whose saves carry no slot reference.
func New(lockPath string, sup Suppressor, patch SlotPatcher, logger *slog.Logger) *Engine {
	return &Engine{lockPath: lockPath, sup: sup, patch: patch, logger: logger}
}

// Restore replaces the content of dir with files and returns the
// names it extracted. On any error the directory's previous regular
// files are put back and every extracted file is removed.
func (e *Engine) Restore(dir string, slot int, files fileset.FileSet) ([]string, error) {
	if e.lockPath != "" {
		if err := applock.Probe(e.lockPath); err != nil {
			return nil, err
		}
	}

	for _, f := range files {
		if f.Name == "" || !filepath.IsLocal(f.Name) {
			return nil, fmt.Errorf("archive entry %q resolves outside the slot directory", f.Name)
		}
	}

	orig, err := fileset.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read live directory: %w", err)
		}
		orig = nil
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create live directory: %w", err)
		}
	}

	// Armed before the first write so the watcher discards the settle
	// cycle these writes cause. Covers the rollback writes too.
	e.sup.SuppressNext(slot)
	e.logger.Debug("restore started", "slot", slot, "dir", dir, "files", len(files))

	for _, f := range orig {
		if err := os.Remove(filepath.Join(dir, f.Name)); err != nil {
			e.rollback(dir, nil, orig)
			return nil, fmt.Errorf("clear %s: %w", f.Name, err)
		}
	}

	extracted := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.Name)
		if parent := filepath.Dir(path); parent != dir {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				e.rollback(dir, extracted, orig)
				return nil, fmt.Errorf("extract %s: %w", f.Name, err)
			}
		}
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			e.rollback(dir, extracted, orig)
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		extracted = append(extracted, f.Name)
		if !f.ModTime.IsZero() {
			if err := os.Chtimes(path, time.Time{}, f.ModTime); err != nil {
				e.logger.Debug("restore timestamp not set", "file", f.Name, "error", err)
			}
		}
	}

	if e.patch != nil {
		if err := e.patch(dir, slot); err != nil {
			e.rollback(dir, extracted, orig)
			return nil, fmt.Errorf("slot patch: %w", err)
		}
	}

	e.logger.Info("restore complete", "slot", slot, "files", len(extracted))
	return extracted, nil
}

// rollback removes the files extracted so far and puts the previous
// content back. Best effort: failures here are logged, the original
// error is what the caller sees.
func (e *Engine) rollback(dir string, extracted []string, orig fileset.FileSet) {
	for _, name := range extracted {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			e.logger.Error("rollback removal failed", "file", name, "error", err)
		}
	}
	for _, f := range orig {
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Data, 0o644); err != nil {
			e.logger.Error("rollback rewrite failed", "file", f.Name, "error", err)
		}
	}
}
