package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/steveyegge/boardsync/internal/engine"
	"github.com/steveyegge/boardsync/internal/logger"
	"github.com/steveyegge/boardsync/internal/storage"
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true)
	styleLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show data directory status",
	Long: `Display the current contents of the data directory.

Shows:
  - Board, card, and tombstone counts
  - Per-board column and card breakdown
  - Card mirror location`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		log := logger.Setup(os.Stderr)

		if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
			fmt.Println(styleWarn.Render("Data directory not initialized"))
			fmt.Printf("   Run 'boardd serve' to create %s\n", cfg.DataDir)
			return
		}

		adapter := storage.NewFSAdapter()
		eng := engine.New(cfg, adapter, prometheus.NewRegistry(), log)
		if err := eng.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading boards: %v\n", err)
			os.Exit(1)
		}

		boards, cards, deleted := eng.Store().Counts()

		fmt.Println()
		fmt.Println(styleHeader.Render("boardsync status"))
		fmt.Println()
		fmt.Printf("%s %s\n", styleLabel.Render("Data dir:"), cfg.DataDir)
		fmt.Printf("%s %s\n", styleLabel.Render("Mirror:"), cfg.CardDBPath)
		fmt.Printf("%s %d\n", styleLabel.Render("Boards:"), boards)
		fmt.Printf("%s %d active, %d deleted\n", styleLabel.Render("Cards:"), cards, deleted)
		fmt.Println()

		for _, b := range eng.Store().Boards() {
			total := 0
			for _, col := range b.Columns {
				total += len(eng.Index().CardsInColumn(col.ID))
			}
			path := filepath.Join(cfg.DataDir, b.Filename())
			fmt.Printf("  %s  %d columns, %d cards  (%s)\n", styleHeader.Render(b.Name), len(b.Columns), total, path)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
