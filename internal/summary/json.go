package summary

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gurnec/Undo-FFG/internal/fileset"
)

// JSON extracts summary fields from text saves whose top-level value
// is a JSON object, the format the Middle-earth app writes.
type JSON struct{}

func (JSON) Extract(files fileset.FileSet) (Summary, error) {
	for _, f := range files {
		var root map[string]any
		if err := json.Unmarshal(f.Data, &root); err != nil {
			continue
		}
		if s := scanJSON(root); len(s) > 0 {
			return s, nil
		}
	}
	return nil, ErrNoSaveData
}

func scanJSON(root map[string]any) Summary {
	var campaign, scenario, heroes string

	walkJSON(root, 0, func(key string, v any) {
		lower := strings.ToLower(key)
		switch {
		case campaign == "" && strings.Contains(lower, "campaign"):
			if s, ok := asText(v); ok {
				campaign = s
			}
		case scenario == "" && (strings.Contains(lower, "scenario") || strings.Contains(lower, "adventure")):
			if s, ok := asText(v); ok {
				scenario = s
			}
		case heroes == "" && (strings.Contains(lower, "hero") || strings.Contains(lower, "party")):
			if n, ok := asJSONCount(v); ok && n > 0 {
				heroes = fmt.Sprintf("%d", n)
			}
		}
	})

	var s Summary
	if campaign != "" {
		s = append(s, Field{Key: "Campaign", Value: campaign})
	}
	if scenario != "" {
		s = append(s, Field{Key: "Scenario", Value: scenario})
	}
	if heroes != "" {
		s = append(s, Field{Key: "Heroes", Value: heroes})
	}
	return s
}

// walkJSON visits every key of nested objects in sorted order so the
// extracted fields do not depend on map iteration order.
func walkJSON(v any, depth int, visit func(key string, v any)) {
	if depth > 32 {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			visit(k, t[k])
			walkJSON(t[k], depth+1, visit)
		}
	case []any:
		for _, e := range t {
			walkJSON(e, depth+1, visit)
		}
	}
}

// asJSONCount accepts whole numbers and array lengths.
func asJSONCount(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case []any:
		return len(n), true
	}
	return 0, false
}
