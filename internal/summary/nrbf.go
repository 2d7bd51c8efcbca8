package summary

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gurnec/Undo-FFG/internal/fileset"
	"github.com/gurnec/Undo-FFG/internal/nrbf"
)

// ErrNoSaveData reports that no file in the set held a readable save.
var ErrNoSaveData = errors.New("no readable save data")

// NRBF extracts summary fields from .NET binary-serialized saves. It
// matches member names case-insensitively because the three apps that
// write this format name their fields differently.
type NRBF struct{}

func (NRBF) Extract(files fileset.FileSet) (Summary, error) {
	for _, f := range files {
		if !nrbf.IsStream(f.Data) {
			continue
		}
		doc, err := nrbf.Decode(f.Data)
		if err != nil {
			continue
		}
		if s := scanObjects(doc); len(s) > 0 {
			return s, nil
		}
	}
	return nil, ErrNoSaveData
}

// scanObjects walks the object graph and keeps the first match per
// field, so values near the root win over nested duplicates.
func scanObjects(doc *nrbf.Document) Summary {
	var scenario, round, investigators string

	nrbf.Walk(doc.Root(), func(o *nrbf.Object) bool {
		for _, name := range o.MemberNames() {
			lower := strings.ToLower(name)
			v, _ := o.Member(name)
			switch {
			case scenario == "" && (strings.Contains(lower, "scenario") || strings.Contains(lower, "variant")):
				if s, ok := asText(v); ok {
					scenario = s
				}
			case round == "" && strings.Contains(lower, "round"):
				if n, ok := asCount(v); ok {
					round = fmt.Sprintf("%d", n)
				}
			case investigators == "" && strings.Contains(lower, "investigator"):
				if n, ok := asCount(v); ok && n > 0 {
					investigators = fmt.Sprintf("%d", n)
				}
			}
		}
		return scenario == "" || round == "" || investigators == ""
	})

	var s Summary
	if scenario != "" {
		s = append(s, Field{Key: "Scenario", Value: scenario})
	}
	if round != "" {
		s = append(s, Field{Key: "Round", Value: round})
	}
	if investigators != "" {
		s = append(s, Field{Key: "Investigators", Value: investigators})
	}
	return s
}

// asText accepts string members, its callers skip numeric ids that
// happen to share a name token with a wanted field.
func asText(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// asCount accepts integer members and the length of object arrays
// (player rosters are serialized as arrays of ids).
func asCount(v any) (int, bool) {
	switch n := v.(type) {
	case byte:
		return int(n), true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case []any:
		return len(n), true
	}
	return 0, false
}
