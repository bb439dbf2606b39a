package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/mnema/internal/server"
)

var serveScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveScheduler, "scheduler", true, "run the in-process maintenance scheduler")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	eng, err := buildEngine(cfg, store)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if serveScheduler {
		stop := eng.StartScheduler(ctx)
		defer stop()
	}

	srv := server.New(cfg, eng, store)
	fmt.Fprintf(os.Stderr, "mnema serving on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(os.Stderr, "  storage: %s (%s)\n", cfg.Storage.Engine, cfg.Storage.DSN)
	if cfg.External.EmbedderURL == "" {
		fmt.Fprintln(os.Stderr, "  embedder: disabled (vector search degraded)")
	}

	return srv.Start(ctx)
}
