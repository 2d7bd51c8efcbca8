package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Digest identifies the combined content of a save directory.
type Digest [16]byte

// Empty is the digest of a slot with no eligible save files (missing
// directory, empty directory, or log files only). It is never written
// to the snapshot store.
var Empty Digest

// IsEmpty reports whether d is the empty digest.
func (d Digest) IsEmpty() bool {
	return d == Empty
}

// String returns the digest as 32 lowercase hex characters.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns an abbreviated form for log output and listings.
func (d Digest) Short() string {
	return d.String()[:8]
}

// Parse decodes a 32-character hex digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*len(d) {
		return Empty, fmt.Errorf("digest must be %d hex characters, got %d", 2*len(d), len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Empty, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	copy(d[:], raw)
	return d, nil
}

// Excluded reports whether a file name is ignored when fingerprinting.
// Companion apps rewrite their log files constantly; including them
// would make every digest unstable.
func Excluded(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "log")
}

// Compute digests every eligible regular file directly inside dir.
// Files are hashed in sorted name order so the result does not depend
// on directory iteration order. A missing directory or a directory with
// no eligible files yields Empty. If a file disappears between listing
// and hashing the error matches fs.ErrNotExist and the caller may
// simply retry.
func Compute(dir string) (Digest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty, nil
		}
		return Empty, fmt.Errorf("read save directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if Excluded(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Empty, nil
	}
	sort.Strings(names)

	h := md5.New()
	for _, name := range names {
		if err := hashFile(h, filepath.Join(dir, name)); err != nil {
			return Empty, fmt.Errorf("hash %s: %w", name, err)
		}
	}

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// hashFile streams one file into the digest.
func hashFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	_, err = io.Copy(h, f)
	return err
}
