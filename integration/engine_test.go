//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gurnec/Undo-FFG/internal/fingerprint"
	"github.com/gurnec/Undo-FFG/internal/journal"
)

// TestEngineLifecycle drives one engine through the full undo flow
// with a real filesystem watcher: preserve, evict, restore, import.
// The subtests build on each other and must run in order.
func TestEngineLifecycle(t *testing.T) {
	h := NewHarness(t)

	var fpA, fpB, fpC, fpE, fpF fingerprint.Digest

	t.Run("A_PreservesExistingSaveAtLaunch", func(t *testing.T) {
		fpA = h.WriteSave(0, "state A")
		h.Start()
		h.WaitPreserved(0, fpA)
	})

	t.Run("B_PreservesEachSettledState", func(t *testing.T) {
		fpB = h.WriteSave(0, "state B")
		h.WaitPreserved(0, fpB)
	})

	t.Run("C_RetentionKeepsNewestTwo", func(t *testing.T) {
		fpC = h.WriteSave(0, "state C")
		h.WaitPreserved(0, fpC)

		got := h.Fingerprints(0)
		if len(got) != 2 || got[0] != fpB || got[1] != fpC {
			t.Fatalf("slot 0 preserves %v, want [%s %s]", got, fpB.Short(), fpC.Short())
		}
	})

	t.Run("D_RestoreDoesNotResnapshot", func(t *testing.T) {
		info, err := h.eng.RestoreFromStore(0, fpB.String()[:8])
		if err != nil {
			t.Fatalf("RestoreFromStore: %v", err)
		}
		if info.Fingerprint != fpB {
			t.Fatalf("restored %s, want %s", info.Fingerprint.Short(), fpB.Short())
		}

		live, err := fingerprint.Compute(h.SlotDir(0))
		if err != nil {
			t.Fatal(err)
		}
		if live != fpB {
			t.Fatalf("live fingerprint = %s, want %s", live.Short(), fpB.Short())
		}

		// The restore writes settle, but the suppressed cycle must not
		// produce a new archive.
		h.AssertNothingPreserved()

		got := h.Fingerprints(0)
		if len(got) != 2 || got[0] != fpB || got[1] != fpC {
			t.Fatalf("slot 0 preserves %v after restore, want [%s %s]", got, fpB.Short(), fpC.Short())
		}

		snaps, err := h.eng.Snapshots(0)
		if err != nil {
			t.Fatal(err)
		}
		for _, snap := range snaps {
			if snap.Current != (snap.Info.Fingerprint == fpB) {
				t.Errorf("current marker on %s = %v", snap.Info.Fingerprint.Short(), snap.Current)
			}
		}
	})

	t.Run("E_WatcherStillLiveAfterRestore", func(t *testing.T) {
		fpE = h.WriteSave(0, "state E")
		h.WaitPreserved(0, fpE)

		got := h.Fingerprints(0)
		if len(got) != 2 || got[0] != fpC || got[1] != fpE {
			t.Fatalf("slot 0 preserves %v, want [%s %s]", got, fpC.Short(), fpE.Short())
		}
	})

	t.Run("F_EmptiedSlotRecoversOnRecreate", func(t *testing.T) {
		if err := os.RemoveAll(h.SlotDir(0)); err != nil {
			t.Fatal(err)
		}
		h.AssertNothingPreserved()

		fpF = h.WriteSave(0, "state F")
		h.WaitPreserved(0, fpF)
	})

	t.Run("G_SecondSlotIsIndependent", func(t *testing.T) {
		fpG := h.WriteSave(1, "slot one state")
		h.WaitPreserved(1, fpG)

		if got := h.Fingerprints(1); len(got) != 1 || got[0] != fpG {
			t.Fatalf("slot 1 preserves %v, want [%s]", got, fpG.Short())
		}
		if got := h.Fingerprints(0); len(got) != 2 {
			t.Fatalf("slot 0 lost archives after slot 1 activity: %v", got)
		}
	})

	t.Run("H_ExportImportAcrossSlots", func(t *testing.T) {
		exported := filepath.Join(t.TempDir(), "state.zip")
		if _, err := h.eng.ExportToFile(0, fpF.String()[:8], exported); err != nil {
			t.Fatalf("ExportToFile: %v", err)
		}

		if _, err := h.eng.RestoreFromFile(exported, 1); err != nil {
			t.Fatalf("RestoreFromFile: %v", err)
		}

		live, err := fingerprint.Compute(h.SlotDir(1))
		if err != nil {
			t.Fatal(err)
		}
		if live != fpF {
			t.Fatalf("slot 1 fingerprint = %s, want %s", live.Short(), fpF.Short())
		}
		h.AssertNothingPreserved()
	})

	t.Run("I_JournalRecordsLifecycle", func(t *testing.T) {
		entries, err := h.jrnl.Recent("testgame", 100)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}

		kinds := make(map[string]int)
		for _, e := range entries {
			kinds[e.Kind]++
		}
		if kinds[journal.KindCreated] < 5 {
			t.Errorf("journal has %d created entries, want at least 5", kinds[journal.KindCreated])
		}
		if kinds[journal.KindEvicted] < 2 {
			t.Errorf("journal has %d evicted entries, want at least 2", kinds[journal.KindEvicted])
		}
		if kinds[journal.KindRestored] != 1 {
			t.Errorf("journal has %d restored entries, want 1", kinds[journal.KindRestored])
		}
		if kinds[journal.KindImported] != 1 {
			t.Errorf("journal has %d imported entries, want 1", kinds[journal.KindImported])
		}
		if kinds[journal.KindExported] != 1 {
			t.Errorf("journal has %d exported entries, want 1", kinds[journal.KindExported])
		}
	})

	t.Run("J_CleanShutdown", func(t *testing.T) {
		h.Stop()
	})
}

// TestEngineRestart proves preserved states survive a full engine
// restart and seed the new registry in age order.
func TestEngineRestart(t *testing.T) {
	h := NewHarness(t)

	fpA := h.WriteSave(0, "first run state")
	h.Start()
	h.WaitPreserved(0, fpA)
	h.Stop()

	// Second engine over the same directories.
	h2 := NewHarnessAt(t, h.cfg)
	fpB := h2.WriteSave(0, "second run state")
	h2.Start()
	h2.WaitPreserved(0, fpB)

	got := h2.Fingerprints(0)
	if len(got) != 2 || got[0] != fpA || got[1] != fpB {
		t.Fatalf("slot 0 preserves %v, want [%s %s]", got, fpA.Short(), fpB.Short())
	}
}
