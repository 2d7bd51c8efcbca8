package restore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/gurnec/Undo-FFG/internal/fileset"
	"github.com/gurnec/Undo-FFG/internal/fingerprint"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingSuppressor captures the live directory listing at arm
// time, proving suppression happens before the first write.
type recordingSuppressor struct {
	dir   string
	slots []int
	seen  []string
}

func (r *recordingSuppressor) SuppressNext(slot int) {
	r.slots = append(r.slots, slot)
	entries, _ := os.ReadDir(r.dir)
	r.seen = nil
	for _, e := range entries {
		r.seen = append(r.seen, e.Name())
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRestore_RoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"GameData.dat": "save state",
		"MoM_SaveGame": "tiles",
		"Log":          "app chatter",
	})
	want, err := fingerprint.Compute(src)
	if err != nil {
		t.Fatal(err)
	}
	files, err := fileset.ReadDir(src)
	if err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	writeFiles(t, dest, map[string]string{
		"stale.dat": "previous campaign",
		"Log":       "other chatter",
	})
	sup := &recordingSuppressor{dir: dest}
	e := New(filepath.Join(dest, "Player.log"), sup, nil, testLogger())

	names, err := e.Restore(dest, 0, files)
	if err != nil {
		t.Fatal(err)
	}

	wantNames := []string{"GameData.dat", "Log", "MoM_SaveGame"}
	if len(names) != 3 {
		t.Fatalf("extracted %v", names)
	}
	if got := listDir(t, dest); strings.Join(got, ",") != strings.Join(wantNames, ",") {
		t.Errorf("directory holds %v, want exactly %v", got, wantNames)
	}

	got, err := fingerprint.Compute(dest)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("fingerprint after restore = %s, want %s", got.Short(), want.Short())
	}

	if len(sup.slots) != 1 || sup.slots[0] != 0 {
		t.Errorf("suppression armed for %v, want exactly [0]", sup.slots)
	}
	found := false
	for _, n := range sup.seen {
		if n == "stale.dat" {
			found = true
		}
	}
	if !found {
		t.Error("suppression must be armed before the directory is touched")
	}
}

func TestRestore_RejectsEscapingNames(t *testing.T) {
	dest := t.TempDir()
	writeFiles(t, dest, map[string]string{"old.dat": "keep"})
	sup := &recordingSuppressor{dir: dest}
	e := New("", sup, nil, testLogger())

	for _, bad := range []string{"../evil", "/etc/evil", ""} {
		_, err := e.Restore(dest, 0, fileset.FileSet{{Name: bad, Data: []byte("x")}})
		if err == nil || !strings.Contains(err.Error(), "outside the slot directory") {
			t.Errorf("name %q: got %v, want rejection", bad, err)
		}
	}

	if len(sup.slots) != 0 {
		t.Error("rejected restores must not arm suppression")
	}
	if data, _ := os.ReadFile(filepath.Join(dest, "old.dat")); string(data) != "keep" {
		t.Error("rejected restore touched the live directory")
	}
}

func TestRestore_RollbackOnExtractFailure(t *testing.T) {
	dest := t.TempDir()
	writeFiles(t, dest, map[string]string{"old.dat": "original"})
	// A directory squatting on an archive name makes the extraction
	// of that entry fail.
	if err := os.Mkdir(filepath.Join(dest, "blocked"), 0o755); err != nil {
		t.Fatal(err)
	}

	e := New("", &recordingSuppressor{dir: dest}, nil, testLogger())
	files := fileset.FileSet{
		{Name: "a.dat", Data: []byte("new")},
		{Name: "blocked", Data: []byte("collides")},
	}

	_, err := e.Restore(dest, 0, files)
	if err == nil || !strings.Contains(err.Error(), "extract blocked") {
		t.Fatalf("got %v, want extraction failure", err)
	}

	if data, _ := os.ReadFile(filepath.Join(dest, "old.dat")); string(data) != "original" {
		t.Error("original content not rolled back")
	}
	if _, err := os.Stat(filepath.Join(dest, "a.dat")); !errors.Is(err, os.ErrNotExist) {
		t.Error("partially extracted file left behind")
	}
}

func TestRestore_PatcherFailureRollsBack(t *testing.T) {
	dest := t.TempDir()
	writeFiles(t, dest, map[string]string{"old.dat": "original"})

	patch := func(dir string, slot int) error {
		return errors.New("restored files contain no slot field")
	}
	e := New("", &recordingSuppressor{dir: dest}, patch, testLogger())

	_, err := e.Restore(dest, 2, fileset.FileSet{{Name: "new.dat", Data: []byte("fresh")}})
	if err == nil || !strings.Contains(err.Error(), "slot patch") {
		t.Fatalf("got %v, want slot patch failure", err)
	}

	if got := listDir(t, dest); len(got) != 1 || got[0] != "old.dat" {
		t.Errorf("directory holds %v after failed patch, want only old.dat", got)
	}
	if data, _ := os.ReadFile(filepath.Join(dest, "old.dat")); string(data) != "original" {
		t.Error("original content not rolled back")
	}
}

func TestRestore_PatcherRunsAfterExtraction(t *testing.T) {
	dest := t.TempDir()

	var gotContent string
	var gotSlot int
	patch := func(dir string, slot int) error {
		data, err := os.ReadFile(filepath.Join(dir, "new.dat"))
		if err != nil {
			return err
		}
		gotContent = string(data)
		gotSlot = slot
		return nil
	}
	e := New("", &recordingSuppressor{dir: dest}, patch, testLogger())

	if _, err := e.Restore(dest, 3, fileset.FileSet{{Name: "new.dat", Data: []byte("fresh")}}); err != nil {
		t.Fatal(err)
	}
	if gotContent != "fresh" || gotSlot != 3 {
		t.Errorf("patcher saw %q in slot %d, want fresh in 3", gotContent, gotSlot)
	}
}

func TestRestore_CreatesMissingDir(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Road to Legend", "SavedGameA")
	e := New("", &recordingSuppressor{dir: dest}, nil, testLogger())

	names, err := e.Restore(dest, 0, fileset.FileSet{{Name: "SavedGameA", Data: []byte("descent")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "SavedGameA" {
		t.Errorf("extracted %v", names)
	}
	if data, _ := os.ReadFile(filepath.Join(dest, "SavedGameA")); string(data) != "descent" {
		t.Error("file not extracted into created directory")
	}
}

func TestRestore_NestedEntry(t *testing.T) {
	dest := t.TempDir()
	e := New("", &recordingSuppressor{dir: dest}, nil, testLogger())

	files := fileset.FileSet{{Name: "sub/extra.json", Data: []byte(`{"x":1}`)}}
	if _, err := e.Restore(dest, 0, files); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "sub", "extra.json"))
	if err != nil || string(data) != `{"x":1}` {
		t.Errorf("nested entry not extracted: %q, %v", data, err)
	}
}
