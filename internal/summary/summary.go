// Package summary derives the human-readable fields shown next to a
// snapshot (scenario name, round number and similar) from a slot's
// save files. Extractors are format specific; callers treat them as
// opaque and must tolerate failure, a snapshot with a blank summary is
// still a valid snapshot.
package summary

import (
	"fmt"
	"strings"

	"github.com/gurnec/Undo-FFG/internal/fileset"
)

// Field is one key/value pair of a snapshot description.
type Field struct {
	Key   string
	Value string
}

// Summary is an ordered list of description fields. The zero value
// means nothing could be extracted.
type Summary []Field

// Get returns the value of the first field with the given key.
func (s Summary) Get(key string) (string, bool) {
	for _, f := range s {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// String renders the summary on one line for list output and logs.
func (s Summary) String() string {
	if len(s) == 0 {
		return ""
	}
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = fmt.Sprintf("%s: %s", f.Key, f.Value)
	}
	return strings.Join(parts, ", ")
}

// Extractor derives a Summary from the files of one slot directory.
type Extractor interface {
	Extract(files fileset.FileSet) (Summary, error)
}
