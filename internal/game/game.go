// Package game describes the supported companion applications: where
// each keeps its save slots, how its save files are recognized, and
// how to read or adjust them.
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gurnec/Undo-FFG/internal/nrbf"
	"github.com/gurnec/Undo-FFG/internal/summary"
)

// Profile describes one companion app. Slots are numbered from 0 in
// the order of SlotDirs.
type Profile struct {
	ID       string
	Name     string
	Vendor   string
	Product  string
	SlotDirs []string

	// LockFile is the file the app keeps open while it runs, probed
	// before a restore is allowed to touch the live directory.
	LockFile string

	// Artifact reports whether data looks like one of the app's save
	// files. Import validation calls it before touching the live
	// directory.
	Artifact func(name string, data []byte) bool

	// Extractor derives the display fields shown next to a snapshot.
	Extractor summary.Extractor

	// Patcher rewrites the slot index embedded in restored save
	// files; nil for apps whose saves carry no slot reference.
	Patcher func(dir string, slot int) error
}

// DefaultID is the profile assumed when the command line names none.
const DefaultID = "mom2e"

var profiles = []Profile{
	{
		ID:        "mom2e",
		Name:      "Mansions of Madness Second Edition",
		Vendor:    "Fantasy Flight Games",
		Product:   "Mansions of Madness Second Edition",
		SlotDirs:  []string{"SavedGame"},
		LockFile:  "Player.log",
		Artifact:  binaryArtifact,
		Extractor: summary.NRBF{},
	},
	{
		ID:        "rtl",
		Name:      "Road to Legend",
		Vendor:    "Fantasy Flight Games",
		Product:   "Road to Legend",
		SlotDirs:  []string{"SavedGameA", "SavedGameB", "SavedGameC", "SavedGameD", "SavedGameE"},
		LockFile:  "Player.log",
		Artifact:  binaryArtifact,
		Extractor: summary.NRBF{},
		Patcher:   patchSlotIndex,
	},
	{
		ID:        "lota",
		Name:      "Legends of the Alliance",
		Vendor:    "Fantasy Flight Games",
		Product:   "Imperial Assault",
		SlotDirs:  []string{"SavedGameA", "SavedGameB", "SavedGameC", "SavedGameD", "SavedGameE"},
		LockFile:  "Player.log",
		Artifact:  binaryArtifact,
		Extractor: summary.NRBF{},
		Patcher:   patchSlotIndex,
	},
	{
		ID:        "jime",
		Name:      "Journeys in Middle-earth",
		Vendor:    "Fantasy Flight Games",
		Product:   "Journeys in Middle-earth",
		SlotDirs:  []string{"SavedGames"},
		LockFile:  "Player.log",
		Artifact:  jsonArtifact,
		Extractor: summary.JSON{},
	},
}

// All returns every supported profile.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Find returns the profile with the given id, matched case
// insensitively.
func Find(id string) (Profile, bool) {
	for _, p := range profiles {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Profile{}, false
}

// Slots returns the slot numbers of the profile, 0..len(SlotDirs)-1.
func (p Profile) Slots() []int {
	s := make([]int, len(p.SlotDirs))
	for i := range s {
		s[i] = i
	}
	return s
}

// ProductDir returns the app's directory under the save root.
func (p Profile) ProductDir(root string) string {
	return filepath.Join(root, p.Vendor, p.Product)
}

// SlotDir returns the live directory of one slot under the save root.
func (p Profile) SlotDir(root string, slot int) (string, error) {
	if slot < 0 || slot >= len(p.SlotDirs) {
		return "", fmt.Errorf("game %s has no slot %d", p.ID, slot)
	}
	return filepath.Join(p.ProductDir(root), p.SlotDirs[slot]), nil
}

// LockPath returns the file probed to detect a running app.
func (p Profile) LockPath(root string) string {
	return filepath.Join(p.ProductDir(root), p.LockFile)
}

// SaveRoot returns the platform's default location for the companion
// apps' save data. paths.save_root in the config overrides it.
func SaveRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "LocalLow"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		return "", errors.New("no default save location on this platform, set paths.save_root")
	}
}

// binaryArtifact recognizes the .NET binary-serialized saves the
// desktop apps write.
func binaryArtifact(name string, data []byte) bool {
	return nrbf.IsStream(data)
}

// jsonArtifact recognizes the JSON saves the Middle-earth app writes.
func jsonArtifact(name string, data []byte) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json") && json.Valid(data)
}

// patchSlotIndex rewrites every slot-numbered member of the binary
// saves in dir so the app associates the restored files with their
// new location. Restores between slots depend on it; failure aborts
// the restore.
func patchSlotIndex(dir string, slot int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read restored directory: %w", err)
	}

	patched := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if !nrbf.IsStream(data) {
			continue
		}
		doc, err := nrbf.Decode(data)
		if err != nil {
			return fmt.Errorf("decode %s: %w", e.Name(), err)
		}

		changed := false
		var patchErr error
		nrbf.Walk(doc.Root(), func(o *nrbf.Object) bool {
			for _, name := range o.MemberNames() {
				if !strings.Contains(strings.ToLower(name), "slot") || !doc.CanPatch(o, name) {
					continue
				}
				if err := doc.PatchMember(o, name, slot); err != nil {
					patchErr = err
					return false
				}
				changed = true
			}
			return true
		})
		if patchErr != nil {
			return fmt.Errorf("patch %s: %w", e.Name(), patchErr)
		}
		if !changed {
			continue
		}
		if err := os.WriteFile(path, doc.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", e.Name(), err)
		}
		patched++
	}
	if patched == 0 {
		return errors.New("restored files contain no slot field")
	}
	return nil
}
