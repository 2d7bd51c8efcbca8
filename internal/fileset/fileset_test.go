package fileset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "GameData.dat"), []byte("alpha"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Log.txt"), []byte("chatter"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "Backup"), 0755); err != nil {
		t.Fatal(err)
	}

	files, err := ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Log files are captured too: an archive must restore the slot
	// exactly as it was, logs included.
	want := []string{"GameData.dat", "Log.txt"}
	if !reflect.DeepEqual(files.Names(), want) {
		t.Errorf("names = %v, want %v", files.Names(), want)
	}

	f, ok := files.Lookup("GameData.dat")
	if !ok {
		t.Fatal("GameData.dat not found")
	}
	if string(f.Data) != "alpha" {
		t.Errorf("data = %q, want %q", f.Data, "alpha")
	}
	if f.ModTime.IsZero() {
		t.Error("mod time should be populated")
	}
}

func TestReadDir_Missing(t *testing.T) {
	if _, err := ReadDir(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLookup_Missing(t *testing.T) {
	var files FileSet
	if _, ok := files.Lookup("anything"); ok {
		t.Error("lookup on empty set should report not found")
	}
}
