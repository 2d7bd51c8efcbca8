package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gurnec/Undo-FFG/internal/applock"
	"github.com/gurnec/Undo-FFG/internal/config"
	"github.com/gurnec/Undo-FFG/internal/engine"
	"github.com/gurnec/Undo-FFG/internal/game"
	"github.com/gurnec/Undo-FFG/internal/journal"
	"github.com/gurnec/Undo-FFG/internal/store"
	"github.com/gurnec/Undo-FFG/internal/summary"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Command flags
	slotNum      int
	historyCount int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "undoffg",
	Short: "Undo support for Fantasy Flight Games companion apps",
	Long: `undoffg watches a companion app's save directory and preserves every
settled save as an immutable zip archive, so any earlier state can be
restored after a misclick or a brutal mythos phase.

Supported apps: Mansions of Madness Second Edition, Road to Legend,
Legends of the Alliance, and Journeys in Middle-earth.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [game]",
	Short: "Watch the save directory and preserve every settled state",
	Long: `Run watches the game's save slots and archives each state the companion
app writes. It keeps running until interrupted; preserved states survive
restarts and are listed with 'undoffg list'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var listCmd = &cobra.Command{
	Use:   "list [game]",
	Short: "List preserved undo states",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [game] <fingerprint-prefix>",
	Short: "Rewrite a save slot from a preserved undo state",
	Long: `Restore rewrites the slot directory from the preserved archive whose
fingerprint starts with the given prefix. The companion app must not be
running. Interrupted restores are rolled back to the previous content.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestore,
}

var importCmd = &cobra.Command{
	Use:   "import [game] <zipfile>",
	Short: "Rewrite a save slot from an exported archive",
	Long: `Import extracts a previously exported zip into the slot directory. The
archive must contain at least one recognizable save file for the game.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export [game] <fingerprint-prefix> <dest.zip>",
	Short: "Copy a preserved undo state to a standalone zip",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runExport,
}

var limitCmd = &cobra.Command{
	Use:   "limit [game] <n>",
	Short: "Set how many undo states each slot keeps",
	Long: `Limit persists a new per-slot retention limit and immediately drops the
oldest archives wherever a slot exceeds it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLimit,
}

var historyCmd = &cobra.Command{
	Use:   "history [game]",
	Short: "Show recent journal entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var gamesCmd = &cobra.Command{
	Use:   "games",
	Short: "List supported game profiles",
	Run: func(cmd *cobra.Command, args []string) {
		for _, p := range game.All() {
			marker := " "
			if p.ID == game.DefaultID {
				marker = "*"
			}
			fmt.Printf("%s %-6s %s (%d slots)\n", marker, p.ID, p.Name, len(p.SlotDirs))
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("undoffg %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the per-user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	// Slot selection for commands that touch one slot
	restoreCmd.Flags().IntVar(&slotNum, "slot", 0, "save slot (0-based)")
	importCmd.Flags().IntVar(&slotNum, "slot", 0, "save slot (0-based)")
	exportCmd.Flags().IntVar(&slotNum, "slot", 0, "save slot (0-based)")

	historyCmd.Flags().IntVar(&historyCount, "count", 20, "number of entries to show")

	// Add commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(limitCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(gamesCmd)
	rootCmd.AddCommand(versionCmd)
}

// consoleNotifier prints one line per settle so a terminal user can
// follow along without reading logs.
type consoleNotifier struct{}

func (consoleNotifier) SnapshotObserved(info store.Info, sum summary.Summary, created bool) {
	verb := "current state"
	if created {
		verb = "preserved"
	}
	line := fmt.Sprintf("%s  slot %d  %s  %s",
		info.SavedAt.Format("2006-01-02 15:04:05"), info.Slot, info.Fingerprint.Short(), verb)
	if s := sum.String(); s != "" {
		line += "  (" + s + ")"
	}
	fmt.Println(line)
}

func (consoleNotifier) WatcherFailed(err error) {
	fmt.Fprintf(os.Stderr, "watching stopped: %v\n", err)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, profile, logger, err := setup(args)
	if err != nil {
		return err
	}

	jrnl := openJournal(cfg, logger)
	defer func() {
		_ = jrnl.Close()
	}()

	eng, err := engine.New(cfg, profile, jrnl, consoleNotifier{}, logger)
	if err != nil {
		return err
	}

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine stopped", "error", err)
		return err
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, profile, logger, err := setup(args)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, profile, nil, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	total := 0
	for _, slot := range profile.Slots() {
		snaps, err := eng.Snapshots(slot)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			marker := " "
			if snap.Current {
				marker = "*"
			}
			line := fmt.Sprintf("%s %s  slot %d  %s",
				marker, snap.Info.SavedAt.Format("2006-01-02 15:04:05"), slot, snap.Info.Fingerprint.Short())
			if s := snap.Summary.String(); s != "" {
				line += "  " + s
			}
			fmt.Println(line)
			total++
		}
	}
	if total == 0 {
		fmt.Println("no undo states preserved yet")
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	gameArgs, rest := splitGameArg(args, 1)
	cfg, profile, logger, err := setup(gameArgs)
	if err != nil {
		return err
	}

	jrnl := openJournal(cfg, logger)
	defer func() {
		_ = jrnl.Close()
	}()

	eng, err := engine.New(cfg, profile, jrnl, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	info, err := eng.RestoreFromStore(slotNum, rest[0])
	if err != nil {
		if errors.Is(err, applock.ErrAppRunning) {
			return fmt.Errorf("%s appears to be running, close it before restoring", profile.Name)
		}
		return err
	}

	fmt.Printf("restored slot %d to %s (saved %s)\n",
		slotNum, info.Fingerprint.Short(), info.SavedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	gameArgs, rest := splitGameArg(args, 1)
	cfg, profile, logger, err := setup(gameArgs)
	if err != nil {
		return err
	}

	jrnl := openJournal(cfg, logger)
	defer func() {
		_ = jrnl.Close()
	}()

	eng, err := engine.New(cfg, profile, jrnl, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	names, err := eng.RestoreFromFile(rest[0], slotNum)
	if err != nil {
		if errors.Is(err, applock.ErrAppRunning) {
			return fmt.Errorf("%s appears to be running, close it before importing", profile.Name)
		}
		return err
	}

	fmt.Printf("imported %d file(s) into slot %d\n", len(names), slotNum)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	gameArgs, rest := splitGameArg(args, 2)
	cfg, profile, logger, err := setup(gameArgs)
	if err != nil {
		return err
	}

	jrnl := openJournal(cfg, logger)
	defer func() {
		_ = jrnl.Close()
	}()

	eng, err := engine.New(cfg, profile, jrnl, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	info, err := eng.ExportToFile(slotNum, rest[0], rest[1])
	if err != nil {
		return err
	}

	fmt.Printf("exported %s (saved %s) to %s\n",
		info.Fingerprint.Short(), info.SavedAt.Format("2006-01-02 15:04:05"), rest[1])
	return nil
}

func runLimit(cmd *cobra.Command, args []string) error {
	gameArgs, rest := splitGameArg(args, 1)
	cfg, profile, logger, err := setup(gameArgs)
	if err != nil {
		return err
	}

	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return fmt.Errorf("limit must be a number: %s", rest[0])
	}

	jrnl := openJournal(cfg, logger)
	defer func() {
		_ = jrnl.Close()
	}()

	eng, err := engine.New(cfg, profile, jrnl, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	if err := eng.SetRetentionLimit(n); err != nil {
		return err
	}

	fmt.Printf("each slot now keeps up to %d undo states\n", n)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, profile, logger, err := setup(args)
	if err != nil {
		return err
	}

	if !cfg.Journal.Enabled {
		return fmt.Errorf("the journal is disabled, set journal.enabled: true in the config")
	}

	jrnl, err := journal.Open(cfg.JournalPath(), logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = jrnl.Close()
	}()

	entries, err := jrnl.Recent(profile.ID, historyCount)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no journal entries")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-12s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Kind)
		if e.Slot >= 0 {
			line += fmt.Sprintf("  slot %d", e.Slot)
		}
		if len(e.Fingerprint) >= 8 {
			line += "  " + e.Fingerprint[:8]
		}
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}

// setup loads the configuration, builds the logger, and resolves the
// game profile from the optional positional argument.
func setup(args []string) (*config.Config, game.Profile, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, game.Profile{}, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg)

	id := cfg.Game
	if len(args) > 0 {
		id = args[0]
	}
	if id == "" {
		id = game.DefaultID
	}
	profile, ok := game.Find(id)
	if !ok {
		return nil, game.Profile{}, nil, fmt.Errorf("unknown game %q (run 'undoffg games' for the list)", id)
	}

	return cfg, profile, logger, nil
}

// splitGameArg peels the optional leading game id off the positional
// arguments; want is how many arguments the command itself consumes.
func splitGameArg(args []string, want int) (gameArg, rest []string) {
	if len(args) > want {
		return args[:1], args[1:]
	}
	return nil, args
}

// openJournal opens the configured journal, falling back to the no-op
// journal so a broken database never blocks the engine.
func openJournal(cfg *config.Config, logger *slog.Logger) journal.Journal {
	if !cfg.Journal.Enabled {
		return journal.Nop{}
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0755); err != nil {
		logger.Warn("journal disabled, cannot create data dir", "error", err)
		return journal.Nop{}
	}

	jrnl, err := journal.Open(cfg.JournalPath(), logger)
	if err != nil {
		logger.Warn("journal disabled", "error", err)
		return journal.Nop{}
	}

	if cfg.Journal.RetentionDays > 0 {
		age := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		if err := jrnl.Prune(age); err != nil {
			logger.Warn("journal prune failed", "error", err)
		}
	}
	return jrnl
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level := logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	format := logFormat
	if format == "" {
		format = cfg.Log.Format
	}

	// Parse log level
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
