package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"ain/internal/embedding"
	"ain/internal/memory"
)

var queryLimit int

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the vector memory",
	Long: `Embeds the query text and returns the most similar memories with their
type, source, and age.

Example:
  ain query "what broke the telemetry tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 5, "Maximum results")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ws, err := filepath.Abs(cfg.Identity.Workspace)
	if err != nil {
		return err
	}

	eng := embedding.New(cfg.Memory.Embedding, cfg.Memory.Dimension)
	path := cfg.Memory.VectorDBPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws, path)
	}
	store, err := memory.Open(path, cfg.Memory.Dimension, cfg.Memory.Capacity, eng)
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(cmd.Context(), query, queryLimit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println(mutedStyle.Render("no memories match."))
		return nil
	}

	for i, r := range results {
		fmt.Printf("%s %s\n",
			titleStyle.Render(fmt.Sprintf("%d. [%.2f]", i+1, r.Similarity)),
			clipLine(r.Record.Text, 120))
		fmt.Println(mutedStyle.Render(fmt.Sprintf("   %s · %s · %s",
			r.Record.Type, r.Record.Source, r.Record.Timestamp.Local().Format("2006-01-02 15:04"))))
	}
	return nil
}
