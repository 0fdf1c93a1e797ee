package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the index from the corpus log",
	Args:  cobra.NoArgs,
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	store := corpus.NewStore(cfg.Indexer.CorpusPath())
	docs, err := store.Load()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("corpus %s is empty; run \"rsearch crawl\" first", store.Path())
	}
	engine := indexer.NewEngine(cfg.Indexer, nil)
	snap, stats, err := engine.Rebuild(cmd.Context(), docs)
	if err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}
	if _, err := store.Compact(); err != nil {
		cmd.PrintErrf("warning: corpus compaction failed: %v\n", err)
	}

	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		err := events.PublishIndexBuilt(cmd.Context(), producer, events.IndexBuilt{
			Generation:    snap.Generation(),
			DocumentCount: snap.DocumentCount(),
			TermCount:     snap.TermCount(),
			BuiltAt:       snap.BuiltAt(),
			IndexPath:     engine.IndexPath(),
		})
		if err != nil {
			cmd.PrintErrf("warning: %v\n", err)
		}
	}

	if jsonOutput {
		return printJSON(cmd, map[string]any{"index": snap.Stats(), "build": stats})
	}
	cmd.Printf("Indexed %d documents (%d skipped, %d replaced), %d terms, avg length %.1f\n",
		stats.Documents, stats.Skipped, stats.Replaced, stats.Terms, stats.AvgDocLength)
	cmd.Printf("Generation %d written to %s (%d bytes)\n", snap.Generation(), engine.IndexPath(), stats.Bytes)
	return nil
}
