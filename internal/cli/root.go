// Package cli wires the mnema commands: serve, ingest, and the maintenance
// jobs. Each command builds its own engine from configuration so they can run
// against the same database the server uses.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/mnema/internal/config"
	"github.com/scrypster/mnema/internal/engine"
	"github.com/scrypster/mnema/internal/extern"
	"github.com/scrypster/mnema/internal/storage"
	"github.com/scrypster/mnema/internal/storage/postgres"
	"github.com/scrypster/mnema/internal/storage/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mnema",
	Short: "Personal knowledge-graph memory engine",
	Long:  "Mnema stores entities, bi-temporal facts, and behaviors extracted from conversations, and assembles token-budgeted context for them on demand.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file overlaid on environment settings")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(maintainCmd)
}

// loadConfig builds the effective configuration: environment, then the
// optional YAML overlay, then validation.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if configPath != "" {
		if err := cfg.LoadFile(configPath, false); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.New(cfg.Storage.DSN)
	default:
		return sqlite.New(cfg.Storage.DSN)
	}
}

// buildEngine assembles an engine with whichever external collaborators are
// configured. Unconfigured collaborators stay nil and the engine degrades:
// no embedder disables the vector leg, no rewriter yields deterministic
// summaries, no judge falls back to the heuristic.
func buildEngine(cfg *config.Config, store storage.Store) (*engine.Engine, error) {
	opts := engine.Options{}
	if cfg.External.EmbedderURL != "" {
		opts.Embedder = extern.NewHTTPEmbedder(cfg.External.EmbedderURL, cfg.External.CallTimeout)
	}
	if cfg.External.RewriterURL != "" {
		opts.Rewriter = extern.NewHTTPRewriter(cfg.External.RewriterURL, cfg.External.CallTimeout)
	}
	if cfg.External.JudgeURL != "" {
		opts.Judge = extern.NewHTTPJudge(cfg.External.JudgeURL, cfg.External.CallTimeout)
	}
	eng, err := engine.New(store, cfg.Retrieval, cfg.Decay, opts)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return eng, nil
}
