package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/crawler"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/scheduler"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/kafka"
)

var runMaxPages int

var runCmd = &cobra.Command{
	Use:   "run [seed-url...]",
	Short: "Crawl, rebuild the index and record the run",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().IntVarP(&runMaxPages, "max-pages", "n", 0, "page budget (crawler.maxPages when 0)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	seeds, err := seedsOrDefault(args)
	if err != nil {
		return err
	}
	c, err := crawler.New(cfg.Crawler, nil, nil)
	if err != nil {
		return err
	}
	store, closeStore, err := scheduler.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := pipeline.Options{Recorder: store}
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		opts.Publisher = producer
	}
	p := pipeline.New(cfg.Pipeline, c, corpus.NewStore(cfg.Indexer.CorpusPath()), indexer.NewEngine(cfg.Indexer, nil), opts)

	sum, err := p.Run(cmd.Context(), seeds, runMaxPages)
	if jsonOutput && sum != nil {
		if perr := printJSON(cmd, sum); perr != nil {
			return perr
		}
	} else if sum != nil {
		cmd.Printf("Run %s %s: fetched %d, indexed %d, failed %d, generation %d, took %s\n",
			sum.RunID, sum.Status, sum.PagesFetched, sum.PagesIndexed, sum.PagesFailed,
			sum.Generation, sum.Duration.Round(time.Millisecond))
	}
	return err
}
