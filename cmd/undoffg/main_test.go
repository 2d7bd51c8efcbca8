package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gurnec/Undo-FFG/internal/config"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	cfg := &config.Config{Log: config.LogConfig{Level: "info", Format: "text"}}

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
		{name: "config fallback", logLevel: "", logFormat: ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger(cfg)
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestSetup_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	configContent := []byte(`game: rtl
paths:
  data_dir: "` + filepath.Join(tmpDir, "data") + `"
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	cfg, profile, logger, err := setup(nil)
	if err != nil {
		t.Fatalf("setup returned error: %v", err)
	}
	if cfg == nil || logger == nil {
		t.Fatal("setup returned nil config or logger")
	}
	if profile.ID != "rtl" {
		t.Errorf("profile = %s, want rtl", profile.ID)
	}
}

func TestSetup_ArgOverridesConfig(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	tmpDir := t.TempDir()
	configContent := []byte(`game: rtl
paths:
  data_dir: "` + filepath.Join(tmpDir, "data") + `"
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	_, profile, _, err := setup([]string{"jime"})
	if err != nil {
		t.Fatalf("setup returned error: %v", err)
	}
	if profile.ID != "jime" {
		t.Errorf("profile = %s, want jime", profile.ID)
	}
}

func TestSetup_UnknownGame(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, _, _, err := setup([]string{"chess"}); err == nil {
		t.Fatal("expected error for unknown game, got nil")
	}
}

func TestSetup_DefaultProfile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, profile, _, err := setup(nil)
	if err != nil {
		t.Fatalf("setup returned error: %v", err)
	}
	if profile.ID != "mom2e" {
		t.Errorf("default profile = %s, want mom2e", profile.ID)
	}
}

func TestSplitGameArg(t *testing.T) {
	for _, tc := range []struct {
		name     string
		args     []string
		want     int
		wantGame bool
	}{
		{name: "prefix only", args: []string{"abcd1234"}, want: 1, wantGame: false},
		{name: "game and prefix", args: []string{"rtl", "abcd1234"}, want: 1, wantGame: true},
		{name: "export args", args: []string{"ab", "out.zip"}, want: 2, wantGame: false},
		{name: "export with game", args: []string{"rtl", "ab", "out.zip"}, want: 2, wantGame: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gameArg, rest := splitGameArg(tc.args, tc.want)
			if (len(gameArg) > 0) != tc.wantGame {
				t.Errorf("gameArg = %v, wantGame %v", gameArg, tc.wantGame)
			}
			if len(rest) != tc.want {
				t.Errorf("rest = %v, want %d args", rest, tc.want)
			}
		})
	}
}

func TestOpenJournal_Disabled(t *testing.T) {
	cfg := &config.Config{
		Paths:   config.PathsConfig{DataDir: t.TempDir()},
		Journal: config.JournalConfig{Enabled: false},
	}

	jrnl := openJournal(cfg, setupLogger(&config.Config{}))
	t.Cleanup(func() { _ = jrnl.Close() })

	entries, err := jrnl.Recent("mom2e", 10)
	if err != nil || entries != nil {
		t.Errorf("disabled journal returned (%v, %v), want (nil, nil)", entries, err)
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}

func TestGamesCmd(t *testing.T) {
	gamesCmd.Run(gamesCmd, []string{})
}
