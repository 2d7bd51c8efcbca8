package store

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gurnec/Undo-FFG/internal/fileset"
	"github.com/gurnec/Undo-FFG/internal/fingerprint"
)

// ErrSnapshotNotFound indicates no archive exists for the requested
// slot and fingerprint.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// stampLayout is the archive timestamp format. Colons are not legal in
// Windows file names, so the time-of-day separator is a period. The
// layout sorts lexically in chronological order.
const stampLayout = "2006-01-02 15.04.05"

// Info describes one archived undo state.
type Info struct {
	Slot        int
	Fingerprint fingerprint.Digest
	SavedAt     time.Time
	Name        string
}

// Store keeps undo states as zip archives in a single directory. The
// archive names are the only index: `{game} {timestamp} {digest}-{slot}.zip`.
type Store struct {
	dir     string
	gameID  string
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// New creates a store for one game's archives rooted at dir. The
// directory is created lazily on first Put.
func New(dir, gameID string, logger *slog.Logger) *Store {
	pattern := regexp.MustCompile(
		`^` + regexp.QuoteMeta(gameID) + ` (\d{4}-\d{2}-\d{2} \d{2}\.\d{2}\.\d{2}) ([0-9a-f]{32})-(\d+)\.zip$`)
	return &Store{
		dir:     dir,
		gameID:  gameID,
		pattern: pattern,
		logger:  logger,
	}
}

// Dir returns the store's archive directory.
func (s *Store) Dir() string {
	return s.dir
}

// Put archives files under a name derived from the creation time. An
// archive that already exists for the same slot and fingerprint is
// kept untouched and returned as-is, so a Put can never clobber
// history.
func (s *Store) Put(slot int, fp fingerprint.Digest, files fileset.FileSet, at time.Time) (Info, error) {
	if fp.IsEmpty() {
		return Info{}, fmt.Errorf("refusing to archive the empty fingerprint")
	}

	if existing, ok, err := s.find(slot, fp); err != nil {
		return Info{}, err
	} else if ok {
		s.logger.Debug("archive already present, keeping existing",
			"slot", slot, "fingerprint", fp.Short(), "name", existing.Name)
		return existing, nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Info{}, fmt.Errorf("create snapshot directory: %w", err)
	}

	stamp := at.Local().Format(stampLayout)
	name := fmt.Sprintf("%s %s %s-%d.zip", s.gameID, stamp, fp, slot)

	if err := s.writeArchive(name, files); err != nil {
		return Info{}, err
	}

	saved, err := time.ParseInLocation(stampLayout, stamp, time.Local)
	if err != nil {
		return Info{}, fmt.Errorf("parse archive timestamp: %w", err)
	}

	return Info{Slot: slot, Fingerprint: fp, SavedAt: saved, Name: name}, nil
}

// writeArchive builds the zip in a temp file and renames it into
// place, so an interrupted write never leaves a listable archive.
func (s *Store) writeArchive(name string, files fileset.FileSet) error {
	tmpFile, err := os.CreateTemp(s.dir, ".undoffg-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	zw := zip.NewWriter(tmpFile)
	for _, f := range files {
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: f.ModTime,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			_ = zw.Close()
			_ = tmpFile.Close()
			return fmt.Errorf("archive %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			_ = zw.Close()
			_ = tmpFile.Close()
			return fmt.Errorf("archive %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

// Get reads the archived files for a slot and fingerprint.
func (s *Store) Get(slot int, fp fingerprint.Digest) (fileset.FileSet, error) {
	info, ok, err := s.find(slot, fp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("slot %d fingerprint %s: %w", slot, fp.Short(), ErrSnapshotNotFound)
	}
	return ReadArchive(filepath.Join(s.dir, info.Name))
}

// Delete removes every archive for the slot and fingerprint, including
// timestamp duplicates. Deleting a missing snapshot is not an error.
func (s *Store) Delete(slot int, fp fingerprint.Digest) error {
	all, err := s.scan()
	if err != nil {
		return err
	}
	for _, info := range all {
		if info.Slot != slot || info.Fingerprint != fp {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, info.Name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete archive %s: %w", info.Name, err)
		}
	}
	return nil
}

// List returns the slot's archived undo states ordered oldest first.
// Unrecognized files are skipped; when duplicates share a fingerprint
// only the newest is reported.
func (s *Store) List(slot int) ([]Info, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	matching := make([]Info, 0, len(all))
	for _, info := range all {
		if info.Slot == slot {
			matching = append(matching, info)
		}
	}
	return s.dedupe(matching), nil
}

// ListAll returns every slot's archived undo states, each ordered
// oldest first.
func (s *Store) ListAll() (map[int][]Info, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	bySlot := make(map[int][]Info)
	for _, info := range all {
		bySlot[info.Slot] = append(bySlot[info.Slot], info)
	}
	for slot, infos := range bySlot {
		bySlot[slot] = s.dedupe(infos)
	}
	return bySlot, nil
}

// Export copies the archive to dest unchanged. It refuses to overwrite
// an existing destination.
func (s *Store) Export(slot int, fp fingerprint.Digest, dest string) error {
	info, ok, err := s.find(slot, fp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("slot %d fingerprint %s: %w", slot, fp.Short(), ErrSnapshotNotFound)
	}

	src, err := os.Open(filepath.Join(s.dir, info.Name))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("write export file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

// ResolvePrefix finds the single archive in the slot whose fingerprint
// begins with prefix.
func (s *Store) ResolvePrefix(slot int, prefix string) (Info, error) {
	infos, err := s.List(slot)
	if err != nil {
		return Info{}, err
	}

	prefix = strings.ToLower(prefix)
	var matches []Info
	for _, info := range infos {
		if strings.HasPrefix(info.Fingerprint.String(), prefix) {
			matches = append(matches, info)
		}
	}

	switch len(matches) {
	case 0:
		return Info{}, fmt.Errorf("slot %d fingerprint prefix %q: %w", slot, prefix, ErrSnapshotNotFound)
	case 1:
		return matches[0], nil
	default:
		return Info{}, fmt.Errorf("fingerprint prefix %q is ambiguous (%d matches in slot %d)", prefix, len(matches), slot)
	}
}

// find locates the newest archive for a slot and fingerprint.
func (s *Store) find(slot int, fp fingerprint.Digest) (Info, bool, error) {
	infos, err := s.List(slot)
	if err != nil {
		return Info{}, false, err
	}
	for _, info := range infos {
		if info.Fingerprint == fp {
			return info, true, nil
		}
	}
	return Info{}, false, nil
}

// scan parses every archive name in the store directory. A missing
// directory is an empty store.
func (s *Store) scan() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, ok := s.parseName(entry.Name())
		if !ok {
			s.logger.Debug("skipping unrecognized file in snapshot directory", "name", entry.Name())
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].SavedAt.Equal(infos[j].SavedAt) {
			return infos[i].SavedAt.Before(infos[j].SavedAt)
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// parseName decodes one archive name. Malformed names are reported as
// not ok and never fail a listing.
func (s *Store) parseName(name string) (Info, bool) {
	m := s.pattern.FindStringSubmatch(name)
	if m == nil {
		return Info{}, false
	}

	saved, err := time.ParseInLocation(stampLayout, m[1], time.Local)
	if err != nil {
		return Info{}, false
	}
	fp, err := fingerprint.Parse(m[2])
	if err != nil || fp.IsEmpty() {
		return Info{}, false
	}
	slot, err := strconv.Atoi(m[3])
	if err != nil {
		return Info{}, false
	}

	return Info{Slot: slot, Fingerprint: fp, SavedAt: saved, Name: name}, true
}

// dedupe collapses archives sharing a fingerprint down to the newest
// one. Input must be sorted oldest first; order is preserved.
func (s *Store) dedupe(infos []Info) []Info {
	newest := make(map[fingerprint.Digest]Info, len(infos))
	for _, info := range infos {
		if prev, ok := newest[info.Fingerprint]; ok {
			s.logger.Warn("ignoring older duplicate archive",
				"slot", info.Slot, "fingerprint", info.Fingerprint.Short(), "name", prev.Name)
		}
		newest[info.Fingerprint] = info
	}

	result := make([]Info, 0, len(newest))
	for _, info := range infos {
		if newest[info.Fingerprint].Name == info.Name {
			result = append(result, info)
		}
	}
	return result
}

// ReadArchive loads a zip archive into memory.
func ReadArchive(path string) (fileset.FileSet, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filepath.Base(path), err)
	}
	defer func() {
		_ = zr.Close()
	}()

	files := make(fileset.FileSet, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archived file %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archived file %s: %w", f.Name, err)
		}
		files = append(files, fileset.File{
			Name:    f.Name,
			Data:    data,
			ModTime: f.Modified,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
