package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/beads-bridge/internal/bridgecfg"
	"github.com/steveyegge/beads-bridge/internal/changes"
	"github.com/steveyegge/beads-bridge/internal/diagram"
	"github.com/steveyegge/beads-bridge/internal/mapping"
	"github.com/steveyegge/beads-bridge/internal/orchestrator"
	"github.com/steveyegge/beads-bridge/internal/resolve"
	"github.com/steveyegge/beads-bridge/internal/source"
	"github.com/steveyegge/beads-bridge/internal/tracker"
	"github.com/steveyegge/beads-bridge/internal/types"
)

var (
	cfgFile string
	cfg     *bridgecfg.Config
	logger  *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bd-bridge",
	Short: "Sync beads issues to external project trackers",
	Long: `bd-bridge keeps external tracker entities (GitHub issues, Shortcut
stories) in sync with the beads issue database.

It detects changed issues by diffing the beads JSONL store between git
revisions, resolves each change to the external entity that represents
it (walking parent epics when needed), and places an up-to-date
dependency diagram on the entity.

Configuration lives in .beads/bridge.yaml; every key can be overridden
with a BD_BRIDGE_* environment variable.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = bridgecfg.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
			os.Exit(1)
		}
		logger = newLogger()
	},
}

// newLogger writes to stderr, and additionally to a rotating log file
// when one is configured.
func newLogger() *log.Logger {
	w := io.Writer(os.Stderr)
	if cfg.Log.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}
	return log.New(w, "[bd-bridge] ", log.LstdFlags)
}

// openStore opens the mapping store, creating the directory on first
// use.
func openStore() (*mapping.Store, error) {
	dir := filepath.Join(cfg.RepoDir, cfg.MappingsDir)
	if err := mapping.Init(dir); err != nil {
		return nil, err
	}
	return mapping.Open(dir, logger)
}

// newBackend builds the configured tracker backend.
func newBackend() (tracker.Backend, error) {
	return tracker.New(types.Backend(cfg.Backend), cfg.BackendConfig)
}

// newPlacer wires the diagram placer from configuration.
func newPlacer(store *mapping.Store) (*diagram.Placer, error) {
	backend, err := newBackend()
	if err != nil {
		return nil, err
	}
	client := source.NewBDClient(source.BDClientOptions{
		WorkDir: cfg.RepoDir,
		Logger:  logger,
	})
	return diagram.NewPlacer(diagram.PlacerOptions{
		Store:    store,
		Source:   client,
		Resolver: resolve.New(client, logger),
		Backend:  backend,
		Logger:   logger,
	}), nil
}

// newOrchestrator wires the full sync pipeline from configuration.
func newOrchestrator(snapshots bool) (*orchestrator.Orchestrator, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	placer, err := newPlacer(store)
	if err != nil {
		return nil, err
	}
	client := source.NewBDClient(source.BDClientOptions{
		WorkDir: cfg.RepoDir,
		Logger:  logger,
	})
	return orchestrator.New(orchestrator.Options{
		Detector: changes.NewDetector(changes.DetectorOptions{
			RepoDir:   cfg.RepoDir,
			JSONLPath: cfg.JSONLPath,
			Logger:    logger,
		}),
		Resolver:      resolve.New(client, logger),
		Placer:        placer,
		Store:         store,
		Logger:        logger,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
		EntityTimeout: cfg.Sync.EntityTimeout,
		Snapshots:     snapshots || cfg.Sync.Snapshots,
	}), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default "+bridgecfg.DefaultConfigPath+")")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
