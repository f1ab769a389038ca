package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/steveyegge/boardsync/internal/carddb"
	"github.com/steveyegge/boardsync/internal/engine"
	"github.com/steveyegge/boardsync/internal/logger"
	"github.com/steveyegge/boardsync/internal/storage"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Full reload from board files into the card mirror",
	Long: `Reload every board file, rebuild the column index, and rewrite the
SQLite card mirror.

This performs a full sync:
  1. Reads all {id}.json board files
  2. Rebuilds the column index from scratch
  3. Rewrites the card keys and index key in the card database`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		log := logger.Setup(os.Stderr)

		cards, err := carddb.Open(cfg.CardDBPath, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening card database: %v\n", err)
			os.Exit(1)
		}

		adapter := storage.NewFSAdapter()
		eng := engine.New(cfg, adapter, prometheus.NewRegistry(), log, engine.WithCardDB(cards))

		fmt.Printf("Syncing from %s...\n", cfg.DataDir)
		start := time.Now()

		if err := eng.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}
		for _, c := range eng.Store().Cards() {
			if err := cards.PutCard(context.Background(), c); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to mirror card %s: %v\n", c.ID, err)
			}
		}

		if err := eng.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		boards, active, _ := eng.Store().Counts()
		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Boards: %d\n", boards)
		fmt.Printf("   Cards: %d\n", active)
		fmt.Printf("   Mirror: %s\n", cfg.CardDBPath)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
