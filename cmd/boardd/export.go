package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/boardsync/internal/engine"
	"github.com/steveyegge/boardsync/internal/logger"
	"github.com/steveyegge/boardsync/internal/model"
	"github.com/steveyegge/boardsync/internal/storage"
)

// exportSnapshot is the YAML document written by the export command.
type exportSnapshot struct {
	Boards  []exportBoard `yaml:"boards"`
	Deleted []exportCard  `yaml:"deletedCards,omitempty"`
}

type exportBoard struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Columns     []exportColumn `yaml:"columns"`
}

type exportColumn struct {
	ID    string       `yaml:"id"`
	Title string       `yaml:"title"`
	Cards []exportCard `yaml:"cards"`
}

type exportCard struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Priority int      `yaml:"priority,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a YAML snapshot of all boards to stdout",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		log := logger.Setup(os.Stderr)

		adapter := storage.NewFSAdapter()
		eng := engine.New(cfg, adapter, prometheus.NewRegistry(), log)
		if err := eng.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading boards: %v\n", err)
			os.Exit(1)
		}

		var snap exportSnapshot
		for _, b := range eng.Store().Boards() {
			eb := exportBoard{ID: b.ID, Name: b.Name, Description: b.Description}
			for _, col := range b.Columns {
				ec := exportColumn{ID: col.ID, Title: col.Title, Cards: []exportCard{}}
				for _, cardID := range eng.Index().CardsInColumn(col.ID) {
					if c, err := eng.Store().Card(cardID); err == nil {
						ec.Cards = append(ec.Cards, toExportCard(c))
					}
				}
				eb.Columns = append(eb.Columns, ec)
			}
			snap.Boards = append(snap.Boards, eb)
		}
		for _, dc := range eng.Store().DeletedCards() {
			snap.Deleted = append(snap.Deleted, toExportCard(&dc.Card))
		}

		out, err := yaml.Marshal(&snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
	},
}

func toExportCard(c *model.Card) exportCard {
	return exportCard{ID: c.ID, Title: c.Title, Priority: c.Priority, Tags: c.Tags}
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
