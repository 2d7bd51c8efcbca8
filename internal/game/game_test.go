package game

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gurnec/Undo-FFG/internal/nrbf"
	"github.com/gurnec/Undo-FFG/internal/testutil"
)

func TestFind(t *testing.T) {
	p, ok := Find("mom2e")
	if !ok {
		t.Fatal("mom2e profile missing")
	}
	if p.Name != "Mansions of Madness Second Edition" {
		t.Errorf("name = %q", p.Name)
	}
	if len(p.SlotDirs) != 1 || p.Patcher != nil {
		t.Error("mom2e should have a single slot and no patcher")
	}

	p, ok = Find("RTL")
	if !ok {
		t.Fatal("profile lookup should be case insensitive")
	}
	if len(p.SlotDirs) != 5 || p.Patcher == nil {
		t.Error("rtl should have five slots and a patcher")
	}

	if _, ok := Find("descent"); ok {
		t.Error("unknown id should not resolve")
	}
}

func TestAll(t *testing.T) {
	if _, ok := Find(DefaultID); !ok {
		t.Fatalf("default profile %q missing", DefaultID)
	}

	all := All()
	if len(all) != 4 {
		t.Fatalf("len(All()) = %d, want 4", len(all))
	}
	seen := map[string]bool{}
	for _, p := range all {
		if seen[p.ID] {
			t.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Artifact == nil || p.Extractor == nil {
			t.Errorf("profile %q lacks artifact matcher or extractor", p.ID)
		}
		if p.LockFile == "" || len(p.SlotDirs) == 0 {
			t.Errorf("profile %q lacks lock file or slot dirs", p.ID)
		}
	}
}

func TestSlotDir(t *testing.T) {
	p, _ := Find("rtl")
	root := filepath.Join("home", "saves")

	dir, err := p.SlotDir(root, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(root, "Fantasy Flight Games", "Road to Legend", "SavedGameC")
	if dir != want {
		t.Errorf("SlotDir = %q, want %q", dir, want)
	}

	if _, err := p.SlotDir(root, 5); err == nil {
		t.Error("slot 5 of a five-slot game should be rejected")
	}
	if _, err := p.SlotDir(root, -1); err == nil {
		t.Error("negative slot should be rejected")
	}

	if got := p.Slots(); len(got) != 5 || got[0] != 0 || got[4] != 4 {
		t.Errorf("Slots() = %v", got)
	}
}

func TestLockPath(t *testing.T) {
	p, _ := Find("mom2e")
	want := filepath.Join("r", "Fantasy Flight Games", "Mansions of Madness Second Edition", "Player.log")
	if got := p.LockPath("r"); got != want {
		t.Errorf("LockPath = %q, want %q", got, want)
	}
}

func TestArtifactMatchers(t *testing.T) {
	save := testutil.SaveStream("The Delve", 2, 0, "Grisban")

	if !binaryArtifact("GameData.dat", save) {
		t.Error("binary save not recognized")
	}
	if binaryArtifact("GameData.dat", []byte(`{"campaign":"x"}`)) {
		t.Error("JSON recognized as binary save")
	}

	if !jsonArtifact("current.json", []byte(`{"campaign":"x"}`)) {
		t.Error("JSON save not recognized")
	}
	if jsonArtifact("current.json", []byte("not json")) {
		t.Error("invalid JSON recognized")
	}
	if jsonArtifact("GameData.dat", []byte(`{"campaign":"x"}`)) {
		t.Error("non-.json name recognized")
	}
}

func TestPatchSlotIndex(t *testing.T) {
	dir := t.TempDir()
	save := testutil.SaveStream("The Delve", 2, 0, "Grisban")
	if err := os.WriteFile(filepath.Join(dir, "SavedGame"), save, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Log"), []byte("log text"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := patchSlotIndex(dir, 3); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "SavedGame"))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := nrbf.Decode(data)
	if err != nil {
		t.Fatalf("patched save no longer decodes: %v", err)
	}
	obj := doc.Root().(*nrbf.Object)
	if v, _ := obj.Member("SaveSlot"); v != int32(3) {
		t.Errorf("SaveSlot = %v, want 3", v)
	}
	if v, _ := obj.Member("Round"); v != int32(2) {
		t.Errorf("Round = %v, patching must not touch other members", v)
	}

	log, err := os.ReadFile(filepath.Join(dir, "Log"))
	if err != nil || string(log) != "log text" {
		t.Errorf("log file modified: %q, %v", log, err)
	}
}

func TestPatchSlotIndex_NoSaveFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Log"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := patchSlotIndex(dir, 1)
	if err == nil || !strings.Contains(err.Error(), "slot field") {
		t.Errorf("got %v, want missing slot field error", err)
	}
}

func TestPatchSlotIndex_MissingDir(t *testing.T) {
	if err := patchSlotIndex(filepath.Join(t.TempDir(), "gone"), 1); err == nil {
		t.Error("missing directory should fail")
	}
}
