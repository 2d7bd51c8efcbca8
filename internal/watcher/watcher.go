// Package watcher turns raw filesystem notifications for the live
// save directories into settle events: one (slot, fingerprint) pair
// per burst of changes, emitted only once the directory content has
// stopped moving.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gurnec/Undo-FFG/internal/fingerprint"
)

// Event reports that a slot's directory settled on a fingerprint.
// The fingerprint is Empty when the directory is missing or holds no
// eligible files.
type Event struct {
	Slot        int
	Fingerprint fingerprint.Digest
}

// Config carries the settle timing knobs.
type Config struct {
	// SettleDelay is how long a directory must stay quiet after a raw
	// change before fingerprint probing starts.
	SettleDelay time.Duration

	// PollInterval is the pause between fingerprint probes; a cycle
	// completes when two consecutive probes agree.
	PollInterval time.Duration
}

const (
	defaultSettleDelay  = 500 * time.Millisecond
	defaultPollInterval = 500 * time.Millisecond
)

// slot tracks one watched directory. A slot whose target directory
// does not exist watches the nearest existing ancestor instead and
// promotes itself once the directory appears.
type slot struct {
	num     int
	dir     string
	watched string

	// Settle cycle: settling alone means the raw change is waiting
	// out the delay, settling with havePending means probing until
	// two consecutive fingerprints agree.
	settling    bool
	havePending bool
	pending     fingerprint.Digest
	nextPoll    time.Time
}

// Watcher multiplexes every slot of one game through a single
// fsnotify watcher and a single goroutine.
type Watcher struct {
	cfg    Config
	logger *slog.Logger
	fsw    *fsnotify.Watcher

	slots     []*slot
	watchRefs map[string]int

	mu         sync.Mutex
	suppressed map[int]bool

	events chan Event
	fatal  chan error

	started   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a watcher. Slots are registered with AddSlot before
// Start.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}

	return &Watcher{
		cfg:        cfg,
		logger:     logger,
		fsw:        fsw,
		watchRefs:  make(map[string]int),
		suppressed: make(map[int]bool),
		events:     make(chan Event, 16),
		fatal:      make(chan error, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// AddSlot registers a live directory. Must be called before Start.
func (w *Watcher) AddSlot(num int, dir string) {
	w.slots = append(w.slots, &slot{num: num, dir: filepath.Clean(dir)})
}

// Events delivers settle events, one per completed cycle.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Fatal delivers at most one error; after it the watcher has stopped
// observing changes.
func (w *Watcher) Fatal() <-chan error {
	return w.fatal
}

// SuppressNext discards the next completed settle cycle for the slot.
// One-shot: the first completed cycle consumes it, whatever caused
// that cycle.
func (w *Watcher) SuppressNext(slotNum int) {
	w.mu.Lock()
	w.suppressed[slotNum] = true
	w.mu.Unlock()
}

func (w *Watcher) takeSuppression(slotNum int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.suppressed[slotNum] {
		return false
	}
	delete(w.suppressed, slotNum)
	return true
}

// Start begins watching. Every slot runs one initial settle cycle so
// pre-existing content is observed without waiting for a change.
func (w *Watcher) Start() {
	for _, s := range w.slots {
		w.ensureWatch(s)
		w.markChanged(s)
	}
	w.started = true
	go w.run()
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.stopCh) })
	err := w.fsw.Close()
	if w.started {
		<-w.doneCh
	}
	return err
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.fail(errors.New("change feed closed"))
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.fail(errors.New("error feed closed"))
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; re-probe everything.
				w.logger.Warn("change feed overflowed, re-checking all slots")
				for _, s := range w.slots {
					w.ensureWatch(s)
					w.markChanged(s)
				}
				continue
			}
			w.fail(fmt.Errorf("watch failed: %w", err))
			return

		case now := <-ticker.C:
			for _, s := range w.slots {
				if s.watched != s.dir {
					w.ensureWatch(s)
					if s.watched == s.dir {
						w.markChanged(s)
					}
				}
				w.tickSlot(s, now)
			}
		}
	}
}

func (w *Watcher) fail(err error) {
	w.logger.Error("watcher stopped", "error", err)
	select {
	case w.fatal <- err:
	default:
	}
}

// handleEvent routes one raw notification to the slots it concerns.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	for _, s := range w.slots {
		switch {
		case name == s.dir || filepath.Dir(name) == s.dir:
			// Content changed, or the directory itself appeared or
			// went away; re-point the watch either way.
			w.ensureWatch(s)
			w.markChanged(s)

		case s.watched != s.dir:
			// Waiting for the directory to appear; any neighboring
			// event may be its creation.
			w.ensureWatch(s)
			if s.watched == s.dir {
				w.markChanged(s)
			}
		}
	}
}

// markChanged opens (or restarts) the slot's settle cycle.
func (w *Watcher) markChanged(s *slot) {
	s.settling = true
	s.havePending = false
	s.nextPoll = time.Now().Add(w.cfg.SettleDelay)
}

// tickSlot advances a settle cycle: probe the fingerprint, complete
// the cycle when two consecutive probes agree.
func (w *Watcher) tickSlot(s *slot, now time.Time) {
	if !s.settling || now.Before(s.nextPoll) {
		return
	}

	fp, err := fingerprint.Compute(s.dir)
	if err != nil {
		// A file vanished mid-read; the content is still moving.
		w.logger.Debug("fingerprint probe retry", "slot", s.num, "error", err)
		s.havePending = false
		s.nextPoll = now.Add(w.cfg.PollInterval)
		return
	}

	if s.havePending && fp == s.pending {
		w.complete(s, fp)
		return
	}
	s.pending = fp
	s.havePending = true
	s.nextPoll = now.Add(w.cfg.PollInterval)
}

func (w *Watcher) complete(s *slot, fp fingerprint.Digest) {
	s.settling = false
	s.havePending = false

	if w.takeSuppression(s.num) {
		w.logger.Debug("settle suppressed", "slot", s.num, "fingerprint", fp.Short())
		return
	}
	w.logger.Debug("directory settled", "slot", s.num, "fingerprint", fp.Short())

	select {
	case w.events <- Event{Slot: s.num, Fingerprint: fp}:
	case <-w.stopCh:
	}
}

// ensureWatch points the slot's watch at its directory, or at the
// nearest existing ancestor when the directory is missing. Shared
// ancestors are reference counted so slots do not tear down each
// other's watches.
func (w *Watcher) ensureWatch(s *slot) {
	target := s.dir
	for {
		if fi, err := os.Stat(target); err == nil && fi.IsDir() {
			break
		}
		parent := filepath.Dir(target)
		if parent == target {
			break
		}
		target = parent
	}
	if target == s.watched {
		return
	}

	if err := w.addWatch(target); err != nil {
		w.logger.Warn("watch add failed", "slot", s.num, "path", target, "error", err)
		return
	}
	if s.watched != "" {
		w.dropWatch(s.watched)
	}
	s.watched = target
}

func (w *Watcher) addWatch(path string) error {
	if w.watchRefs[path] == 0 {
		if err := w.fsw.Add(path); err != nil {
			return err
		}
	}
	w.watchRefs[path]++
	return nil
}

func (w *Watcher) dropWatch(path string) {
	w.watchRefs[path]--
	if w.watchRefs[path] > 0 {
		return
	}
	delete(w.watchRefs, path)
	// The watch may already be gone if the directory was deleted.
	_ = w.fsw.Remove(path)
}
