package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/preprocess"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/searcher/executor"
)

var (
	searchPage     int
	searchPageSize int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the index",
	Long: `Ranks indexed publications against the query with BM25 and prints one
page of results.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "result page")
	searchCmd.Flags().IntVarP(&searchPageSize, "size", "n", 10, "results per page")
	rootCmd.AddCommand(searchCmd)
}

func openEngine(cmd *cobra.Command) (*executor.Engine, error) {
	norm := preprocess.New(preprocess.Options{Stemming: cfg.Indexer.Stemming})
	engine := executor.New(cfg.Search, cfg.Indexer.IndexPath(), norm, nil)
	if _, err := engine.Reload(cmd.Context()); err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}
	return engine, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd)
	if err != nil {
		return err
	}
	page, err := engine.SearchPage(cmd.Context(), strings.Join(args, " "), searchPage, searchPageSize)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, page)
	}
	if len(page.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	cmd.Printf("%d matches (page %d)\n\n", page.TotalMatches, page.Page)
	offset := (page.Page - 1) * page.PageSize
	for i, r := range page.Results {
		cmd.Printf("  [%d] %s (%.4f)\n", offset+i+1, r.Title, r.Score)
		if len(r.Authors) > 0 {
			cmd.Printf("      %s\n", strings.Join(r.Authors, ", "))
		}
		if r.Year > 0 {
			cmd.Printf("      %d\n", r.Year)
		}
		cmd.Printf("      %s\n\n", r.URL)
	}
	return nil
}
