package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/steveyegge/boardsync/internal/carddb"
	"github.com/steveyegge/boardsync/internal/engine"
	"github.com/steveyegge/boardsync/internal/logger"
	"github.com/steveyegge/boardsync/internal/server"
	"github.com/steveyegge/boardsync/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine in the foreground",
	Long: `Start the persistence engine and serve the message protocol.

The engine will:
  1. Load all board files from the data directory
  2. Watch the directory for external changes
  3. Serve commands on ws://<listen_addr>/ws
  4. Expose Prometheus metrics on /metrics

Press Ctrl+C for a graceful shutdown; pending debounced writes are
flushed before exit.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		log := logger.SetupRotating(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)

		cards, err := carddb.Open(cfg.CardDBPath, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening card database: %v\n", err)
			os.Exit(1)
		}

		reg := prometheus.NewRegistry()
		adapter := storage.NewFSAdapter()
		eng := engine.New(cfg, adapter, reg, log, engine.WithCardDB(cards))

		if err := eng.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading boards: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := eng.WatchEvents(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting watcher: %v\n", err)
			os.Exit(1)
		}

		srv := server.New(cfg.ListenAddr, eng, reg, log)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("boardd serving on ws://%s/ws (data: %s)\n", srv.Addr(), cfg.DataDir)
		fmt.Println("Press Ctrl+C to stop")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("\nShutting down...")
		if err := srv.Stop(); err != nil {
			log.Error("server stop failed", "error", err)
		}
		if err := eng.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
