package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// File is one regular file captured from a save slot directory.
// Companion app saves are small, so contents are held in memory.
type File struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// FileSet is the complete contents of one save slot directory,
// sorted by name.
type FileSet []File

// ReadDir captures every regular file directly inside dir, including
// log files. Subdirectories are ignored; the companion apps keep their
// saves flat.
func ReadDir(dir string) (FileSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read save directory: %w", err)
	}

	files := make(FileSet, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		files = append(files, File{
			Name:    entry.Name(),
			Data:    data,
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Lookup returns the file with the given name.
func (s FileSet) Lookup(name string) (File, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// Names returns all file names in order.
func (s FileSet) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}
