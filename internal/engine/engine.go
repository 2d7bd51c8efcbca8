// Package engine ties the watcher, the snapshot store and the restore
// machinery together for one game profile. Every snapshot decision
// runs under a single lock, so the registry always reflects one settle
// or one command at a time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gurnec/Undo-FFG/internal/config"
	"github.com/gurnec/Undo-FFG/internal/fileset"
	"github.com/gurnec/Undo-FFG/internal/fingerprint"
	"github.com/gurnec/Undo-FFG/internal/game"
	"github.com/gurnec/Undo-FFG/internal/journal"
	"github.com/gurnec/Undo-FFG/internal/registry"
	"github.com/gurnec/Undo-FFG/internal/restore"
	"github.com/gurnec/Undo-FFG/internal/settings"
	"github.com/gurnec/Undo-FFG/internal/store"
	"github.com/gurnec/Undo-FFG/internal/summary"
	"github.com/gurnec/Undo-FFG/internal/watcher"
)

// Notifier receives presentation callbacks. Calls arrive on the
// engine's event goroutine and must return promptly.
type Notifier interface {
	// SnapshotObserved fires when a settle cycle ends on non-empty
	// save data: created reports whether a new archive was written,
	// and sum holds the extracted summary (may be empty).
	SnapshotObserved(info store.Info, sum summary.Summary, created bool)
	// WatcherFailed fires once when directory watching breaks down.
	WatcherFailed(err error)
}

type nopNotifier struct{}

func (nopNotifier) SnapshotObserved(store.Info, summary.Summary, bool) {}
func (nopNotifier) WatcherFailed(error)                                {}

// Snapshot pairs a preserved archive with its summary for display.
type Snapshot struct {
	Info    store.Info
	Summary summary.Summary
	Current bool
}

// Engine coordinates watching, archiving and restoring for one game
// profile.
type Engine struct {
	cfg      *config.Config
	profile  game.Profile
	root     string
	snaps    *store.Store
	restorer *restore.Engine
	watch    *watcher.Watcher
	jrnl     journal.Journal
	notifier Notifier
	logger   *slog.Logger

	settingsPath string
	now          func() time.Time

	mu    sync.Mutex
	reg   *registry.Registry
	limit int
}

// New creates an engine for the profile. The journal and notifier may
// be nil. The registry is seeded from the archives already on disk, so
// retention and restore work without the watcher running.
func New(cfg *config.Config, profile game.Profile, jrnl journal.Journal, notifier Notifier, logger *slog.Logger) (*Engine, error) {
	root := cfg.Paths.SaveRoot
	if root == "" {
		var err error
		root, err = game.SaveRoot()
		if err != nil {
			return nil, err
		}
	}

	if jrnl == nil {
		jrnl = journal.Nop{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}

	sett, err := settings.Load(cfg.SettingsPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	w, err := watcher.New(watcher.Config{
		SettleDelay:  cfg.Watch.SettleDelay,
		PollInterval: cfg.Watch.PollInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, slot := range profile.Slots() {
		dir, err := profile.SlotDir(root, slot)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.AddSlot(slot, dir)
	}

	e := &Engine{
		cfg:          cfg,
		profile:      profile,
		root:         root,
		snaps:        store.New(cfg.SnapshotDir(profile.ID), profile.ID, logger),
		watch:        w,
		jrnl:         jrnl,
		notifier:     notifier,
		logger:       logger,
		settingsPath: cfg.SettingsPath(),
		now:          time.Now,
		reg:          registry.New(),
		limit:        sett.RetentionLimit,
	}
	e.restorer = restore.New(profile.LockPath(root), w, profile.Patcher, logger)

	if err := e.seedRegistry(); err != nil {
		w.Close()
		return nil, err
	}

	return e, nil
}

// Close releases the engine's watcher resources. Run does this itself;
// Close is for engines used only for one-shot commands.
func (e *Engine) Close() error {
	return e.watch.Close()
}

// seedRegistry loads the preserved fingerprints from the archives on
// disk, oldest first per slot.
func (e *Engine) seedRegistry() error {
	bySlot, err := e.snaps.ListAll()
	if err != nil {
		return fmt.Errorf("failed to scan snapshot store: %w", err)
	}
	total := 0
	for slot, infos := range bySlot {
		fps := make([]fingerprint.Digest, 0, len(infos))
		for _, info := range infos {
			fps = append(fps, info.Fingerprint)
		}
		e.reg.Seed(slot, fps)
		total += len(fps)
	}
	if total > 0 {
		e.logger.Info("loaded preserved undo states", "count", total)
	}
	return nil
}

// SaveDir returns the watched save location for the profile.
func (e *Engine) SaveDir() string {
	return e.profile.ProductDir(e.root)
}

// RetentionLimit returns the active per-slot archive limit.
func (e *Engine) RetentionLimit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limit
}

// Run starts the watcher and processes settle events until ctx is
// cancelled or watching fails beyond repair.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting undo engine",
		"game", e.profile.ID,
		"save_dir", e.SaveDir(),
		"snapshot_dir", e.snaps.Dir(),
		"retention_limit", e.RetentionLimit())

	e.watch.Start()
	defer func() {
		_ = e.watch.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("shutting down")
			return nil
		case ev := <-e.watch.Events():
			e.handleSettle(ev)
		case err := <-e.watch.Fatal():
			e.jrnl.Record(e.profile.ID, -1, "", journal.KindWatchFailed, err.Error())
			e.notifier.WatcherFailed(err)
			return fmt.Errorf("directory watching failed: %w", err)
		}
	}
}

// handleSettle applies one settled directory state: an empty slot
// clears the current marker, a known fingerprint just becomes current,
// and anything else is archived and pushed through retention.
func (e *Engine) handleSettle(ev watcher.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot, fp := ev.Slot, ev.Fingerprint

	if fp.IsEmpty() {
		e.reg.ClearCurrent(slot)
		e.logger.Debug("slot has no save", "slot", slot)
		return
	}

	if e.reg.Contains(slot, fp) {
		e.reg.SetCurrent(slot, fp)
		e.logger.Debug("slot settled on a preserved state",
			"slot", slot, "fingerprint", fp.Short())
		if info, ok := e.findInfo(slot, fp); ok {
			e.notifier.SnapshotObserved(info, nil, false)
		}
		return
	}

	dir, err := e.profile.SlotDir(e.root, slot)
	if err != nil {
		e.logger.Error("settle event for unknown slot", "slot", slot, "error", err)
		return
	}

	files, err := fileset.ReadDir(dir)
	if err != nil {
		e.logger.Warn("could not read save directory, waiting for next change",
			"slot", slot, "error", err)
		return
	}

	// The directory may have moved on between settling and reading.
	// Archive only content that still carries the settled fingerprint;
	// a fresh settle event covers anything newer.
	verify, err := fingerprint.Compute(dir)
	if err != nil || verify != fp {
		e.logger.Debug("save changed during capture, waiting for next settle", "slot", slot)
		return
	}

	info, err := e.snaps.Put(slot, fp, files, e.now())
	if err != nil {
		e.logger.Error("failed to archive undo state",
			"slot", slot, "fingerprint", fp.Short(), "error", err)
		return
	}

	e.reg.Insert(slot, fp)
	e.reg.SetCurrent(slot, fp)

	sum := e.extractSummary(files)
	e.logger.Info("undo state preserved",
		"slot", slot, "fingerprint", fp.Short(), "summary", sum.String())
	e.jrnl.Record(e.profile.ID, slot, fp.String(), journal.KindCreated, sum.String())

	e.enforceLimit(slot)

	e.notifier.SnapshotObserved(info, sum, true)
}

// enforceLimit evicts the slot's oldest archives until it fits the
// retention limit. Called with e.mu held.
func (e *Engine) enforceLimit(slot int) {
	for e.reg.Len(slot) > e.limit {
		oldest, ok := e.reg.EvictOldest(slot)
		if !ok {
			return
		}
		if err := e.snaps.Delete(slot, oldest); err != nil {
			e.logger.Warn("failed to delete evicted archive",
				"slot", slot, "fingerprint", oldest.Short(), "error", err)
		}
		e.logger.Info("evicted oldest undo state",
			"slot", slot, "fingerprint", oldest.Short())
		e.jrnl.Record(e.profile.ID, slot, oldest.String(), journal.KindEvicted, "")
	}
}

// RestoreFromStore rewrites the slot directory from the preserved
// archive whose fingerprint starts with prefix.
func (e *Engine) RestoreFromStore(slot int, prefix string) (store.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dir, err := e.profile.SlotDir(e.root, slot)
	if err != nil {
		return store.Info{}, err
	}

	info, err := e.snaps.ResolvePrefix(slot, prefix)
	if err != nil {
		return store.Info{}, err
	}

	files, err := e.snaps.Get(slot, info.Fingerprint)
	if err != nil {
		return store.Info{}, err
	}

	if _, err := e.restorer.Restore(dir, slot, files); err != nil {
		return store.Info{}, err
	}

	e.reg.SetCurrent(slot, info.Fingerprint)
	e.logger.Info("restored undo state",
		"slot", slot, "fingerprint", info.Fingerprint.Short(), "saved_at", info.SavedAt)
	e.jrnl.Record(e.profile.ID, slot, info.Fingerprint.String(), journal.KindRestored, info.Name)
	return info, nil
}

// RestoreFromFile rewrites the slot directory from an exported archive.
// The zip must hold at least one file the game recognizes as save data.
func (e *Engine) RestoreFromFile(path string, slot int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dir, err := e.profile.SlotDir(e.root, slot)
	if err != nil {
		return nil, err
	}

	files, err := store.ReadArchive(path)
	if err != nil {
		return nil, err
	}
	if !e.containsArtifact(files) {
		return nil, fmt.Errorf("%s contains no recognizable %s save data",
			filepath.Base(path), e.profile.Name)
	}

	extracted, err := e.restorer.Restore(dir, slot, files)
	if err != nil {
		return nil, err
	}

	// Restore suppresses the settle cycle its writes cause, so account
	// for the slot's new content here. The imported state itself is
	// archived on the next settle, like any other fresh save.
	if fp, err := fingerprint.Compute(dir); err == nil && e.reg.Contains(slot, fp) {
		e.reg.SetCurrent(slot, fp)
	} else {
		e.reg.ClearCurrent(slot)
	}

	e.logger.Info("imported save archive",
		"slot", slot, "file", path, "files", len(extracted))
	e.jrnl.Record(e.profile.ID, slot, "", journal.KindImported, filepath.Base(path))
	return extracted, nil
}

// ExportToFile copies the archive matching prefix to dest unchanged.
func (e *Engine) ExportToFile(slot int, prefix, dest string) (store.Info, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, err := e.snaps.ResolvePrefix(slot, prefix)
	if err != nil {
		return store.Info{}, err
	}
	if err := e.snaps.Export(slot, info.Fingerprint, dest); err != nil {
		return store.Info{}, err
	}
	e.jrnl.Record(e.profile.ID, slot, info.Fingerprint.String(), journal.KindExported, dest)
	return info, nil
}

// SetRetentionLimit persists a new per-slot archive limit and evicts
// immediately wherever a slot now exceeds it.
func (e *Engine) SetRetentionLimit(n int) error {
	if n < 1 {
		return fmt.Errorf("retention limit must be at least 1, got %d", n)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := settings.Save(e.settingsPath, &settings.Settings{RetentionLimit: n}); err != nil {
		return fmt.Errorf("failed to persist retention limit: %w", err)
	}
	e.limit = n
	for _, slot := range e.reg.Slots() {
		e.enforceLimit(slot)
	}
	e.logger.Info("retention limit updated", "limit", n)
	return nil
}

// Snapshots returns the slot's preserved undo states oldest first,
// with summaries and the live-directory marker filled in. The marker
// follows the last settled state while the engine runs, otherwise the
// directory content decides. Archives that cannot be read back are
// listed with a blank summary.
func (e *Engine) Snapshots(slot int) ([]Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos, err := e.snaps.List(slot)
	if err != nil {
		return nil, err
	}

	live, ok := e.reg.Current(slot)
	if !ok {
		if dir, err := e.profile.SlotDir(e.root, slot); err == nil {
			if fp, err := fingerprint.Compute(dir); err == nil {
				live = fp
			}
		}
	}

	snapshots := make([]Snapshot, 0, len(infos))
	for _, info := range infos {
		snap := Snapshot{Info: info, Current: !live.IsEmpty() && info.Fingerprint == live}
		if files, err := e.snaps.Get(slot, info.Fingerprint); err == nil {
			snap.Summary = e.extractSummary(files)
		} else {
			e.logger.Warn("unreadable archive", "name", info.Name, "error", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// extractSummary never fails: unreadable save data yields a blank
// summary.
func (e *Engine) extractSummary(files fileset.FileSet) summary.Summary {
	if e.profile.Extractor == nil {
		return nil
	}
	sum, err := e.profile.Extractor.Extract(files)
	if err != nil {
		e.logger.Debug("summary extraction failed", "error", err)
		return nil
	}
	return sum
}

// containsArtifact reports whether any file looks like save data for
// the profile's game.
func (e *Engine) containsArtifact(files fileset.FileSet) bool {
	if e.profile.Artifact == nil {
		return len(files) > 0
	}
	for _, f := range files {
		if e.profile.Artifact(f.Name, f.Data) {
			return true
		}
	}
	return false
}

// findInfo locates the slot's archive for an exact fingerprint.
func (e *Engine) findInfo(slot int, fp fingerprint.Digest) (store.Info, bool) {
	infos, err := e.snaps.List(slot)
	if err != nil {
		return store.Info{}, false
	}
	for _, info := range infos {
		if info.Fingerprint == fp {
			return info, true
		}
	}
	return store.Info{}, false
}
