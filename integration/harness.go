//go:build integration

package integration

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gurnec/Undo-FFG/internal/config"
	"github.com/gurnec/Undo-FFG/internal/engine"
	"github.com/gurnec/Undo-FFG/internal/fingerprint"
	"github.com/gurnec/Undo-FFG/internal/game"
	"github.com/gurnec/Undo-FFG/internal/journal"
	"github.com/gurnec/Undo-FFG/internal/settings"
	"github.com/gurnec/Undo-FFG/internal/store"
	"github.com/gurnec/Undo-FFG/internal/summary"
)

const (
	settleDelay  = 50 * time.Millisecond
	pollInterval = 25 * time.Millisecond
	eventWait    = 10 * time.Second
	quietWait    = 500 * time.Millisecond
)

// observedEvent mirrors one Notifier callback.
type observedEvent struct {
	info    store.Info
	created bool
}

// channelNotifier forwards engine callbacks to the test goroutine.
type channelNotifier struct {
	events chan observedEvent
	failed chan error
}

func (n *channelNotifier) SnapshotObserved(info store.Info, _ summary.Summary, created bool) {
	n.events <- observedEvent{info: info, created: created}
}

func (n *channelNotifier) WatcherFailed(err error) {
	n.failed <- err
}

// Harness runs one engine against temporary directories with a real
// filesystem watcher and journal.
type Harness struct {
	t        *testing.T
	cfg      *config.Config
	profile  game.Profile
	eng      *engine.Engine
	jrnl     *journal.SQLite
	notifier *channelNotifier
	cancel   context.CancelFunc
	done     chan error
}

// NewHarness builds an engine over fresh temporary directories with a
// two-slot test profile and a retention limit of 2. Start launches the
// run loop.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	cfg := &config.Config{
		Paths: config.PathsConfig{
			SaveRoot: t.TempDir(),
			DataDir:  t.TempDir(),
		},
		Watch: config.WatchConfig{
			SettleDelay:  settleDelay,
			PollInterval: pollInterval,
		},
		Journal: config.JournalConfig{Enabled: true},
	}

	if err := settings.Save(cfg.SettingsPath(), &settings.Settings{RetentionLimit: 2}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	return NewHarnessAt(t, cfg)
}

// NewHarnessAt builds an engine over an existing configuration, so a
// test can restart against the same directories.
func NewHarnessAt(t *testing.T, cfg *config.Config) *Harness {
	t.Helper()

	profile := game.Profile{
		ID:       "testgame",
		Name:     "Test Game",
		Vendor:   "Vendor",
		Product:  "Product",
		SlotDirs: []string{"SaveA", "SaveB"},
		LockFile: "Player.log",
		Artifact: func(name string, data []byte) bool {
			return strings.HasSuffix(name, ".sav")
		},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	jrnl, err := journal.Open(cfg.JournalPath(), logger)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	notifier := &channelNotifier{
		events: make(chan observedEvent, 64),
		failed: make(chan error, 1),
	}

	eng, err := engine.New(cfg, profile, jrnl, notifier, logger)
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	h := &Harness{
		t:        t,
		cfg:      cfg,
		profile:  profile,
		eng:      eng,
		jrnl:     jrnl,
		notifier: notifier,
	}
	t.Cleanup(func() {
		h.Stop()
		_ = jrnl.Close()
	})
	return h
}

// Start launches the engine's run loop. Saves written before Start are
// picked up by the initial settle cycle.
func (h *Harness) Start() {
	h.t.Helper()

	if h.cancel != nil {
		h.t.Fatal("harness already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() {
		h.done <- h.eng.Run(ctx)
	}()
}

// Stop cancels the run loop and fails the test if it exits non-nil.
// Stopping an unstarted or already stopped harness is a no-op.
func (h *Harness) Stop() {
	h.t.Helper()

	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil

	select {
	case err := <-h.done:
		if err != nil {
			h.t.Errorf("engine stopped with error: %v", err)
		}
	case <-time.After(eventWait):
		h.t.Error("engine did not stop")
	}
}

// SlotDir resolves a slot's live directory.
func (h *Harness) SlotDir(slot int) string {
	h.t.Helper()

	dir, err := h.profile.SlotDir(h.cfg.Paths.SaveRoot, slot)
	if err != nil {
		h.t.Fatalf("SlotDir(%d): %v", slot, err)
	}
	return dir
}

// WriteSave replaces the slot's save file and returns the directory's
// new fingerprint. Archive names carry one-second timestamps, so each
// write waits for a fresh second to keep listings and restart seeding
// in creation order.
func (h *Harness) WriteSave(slot int, content string) fingerprint.Digest {
	h.t.Helper()

	now := time.Now()
	time.Sleep(now.Truncate(time.Second).Add(time.Second).Sub(now))

	dir := h.SlotDir(slot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "game.sav"), []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}

	fp, err := fingerprint.Compute(dir)
	if err != nil {
		h.t.Fatalf("Compute(%s): %v", dir, err)
	}
	return fp
}

// WaitPreserved blocks until the engine archives the fingerprint on
// the slot.
func (h *Harness) WaitPreserved(slot int, fp fingerprint.Digest) store.Info {
	h.t.Helper()

	deadline := time.After(eventWait)
	for {
		select {
		case ev := <-h.notifier.events:
			if ev.created && ev.info.Slot == slot && ev.info.Fingerprint == fp {
				return ev.info
			}
		case err := <-h.notifier.failed:
			h.t.Fatalf("watcher failed: %v", err)
		case <-deadline:
			h.t.Fatalf("timed out waiting for slot %d to preserve %s", slot, fp.Short())
		}
	}
}

// AssertNothingPreserved fails if any new archive shows up within the
// quiet window.
func (h *Harness) AssertNothingPreserved() {
	h.t.Helper()

	deadline := time.After(quietWait)
	for {
		select {
		case ev := <-h.notifier.events:
			if ev.created {
				h.t.Fatalf("unexpected archive %s on slot %d", ev.info.Fingerprint.Short(), ev.info.Slot)
			}
		case err := <-h.notifier.failed:
			h.t.Fatalf("watcher failed: %v", err)
		case <-deadline:
			return
		}
	}
}

// Fingerprints lists the slot's preserved fingerprints oldest first.
func (h *Harness) Fingerprints(slot int) []fingerprint.Digest {
	h.t.Helper()

	snaps, err := h.eng.Snapshots(slot)
	if err != nil {
		h.t.Fatalf("Snapshots(%d): %v", slot, err)
	}
	fps := make([]fingerprint.Digest, len(snaps))
	for i, snap := range snaps {
		fps[i] = snap.Info.Fingerprint
	}
	return fps
}
