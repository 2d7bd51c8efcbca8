// Package settings persists the user preferences that survive
// restarts, currently the per-slot retention limit.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRetentionLimit is the number of undo states kept per slot
// until the user changes it.
const DefaultRetentionLimit = 20

// Settings are the persisted user preferences.
type Settings struct {
	RetentionLimit int `json:"retention_limit"`
}

// Load reads settings from path. A missing file or an absent field
// yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{RetentionLimit: DefaultRetentionLimit}, nil
		}
		return nil, err
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.RetentionLimit < 0 {
		return nil, fmt.Errorf("retention limit %d out of range", s.RetentionLimit)
	}
	if s.RetentionLimit == 0 {
		s.RetentionLimit = DefaultRetentionLimit
	}
	return &s, nil
}

// Save persists the settings to path, creating the parent directory
// if needed.
func Save(path string, s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
