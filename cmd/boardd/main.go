// Command boardd runs the boardsync persistence engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/boardsync/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "boardd",
	Short: "Local persistence and synchronization engine for kanban boards",
	Long: `boardd keeps an authoritative durable copy of boards on disk, serves
fast reads from an in-memory cache, merges in external edits, and routes UI
commands over a WebSocket message protocol.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML)")
}

// loadConfig reads the config file named by --config plus BOARDSYNC_*
// environment overrides.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
