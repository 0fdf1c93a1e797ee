package main

import (
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/scheduler"
)

var statsRuns int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index, corpus and crawl run statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsRuns, "runs", 5, "number of recent runs to show")
	rootCmd.AddCommand(statsCmd)
}

type statsOutput struct {
	Index   *index.Stats          `json:"index,omitempty"`
	Corpus  int                   `json:"corpus_records"`
	NextRun string                `json:"next_run,omitempty"`
	Runs    []pipeline.RunSummary `json:"runs"`
}

func runStats(cmd *cobra.Command, _ []string) error {
	var out statsOutput
	if engine, err := openEngine(cmd); err == nil {
		st := engine.Current().Stats()
		out.Index = &st
	} else {
		cmd.PrintErrf("index: %v\n", err)
	}

	docs, err := corpus.NewStore(cfg.Indexer.CorpusPath()).Load()
	if err != nil {
		return err
	}
	out.Corpus = len(docs)

	store, closeStore, err := scheduler.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if out.Runs, err = store.Recent(cmd.Context(), statsRuns); err != nil {
		return err
	}
	sched := scheduler.New(cfg.Scheduler, nil, store, nil, 0)
	if next, err := sched.NextRun(cmd.Context()); err == nil && len(out.Runs) > 0 {
		out.NextRun = next.Format("2006-01-02 15:04 MST")
	}

	if jsonOutput {
		return printJSON(cmd, out)
	}
	if out.Index != nil {
		cmd.Printf("Index generation %d: %d documents, %d terms, avg length %.1f, built %s\n",
			out.Index.Generation, out.Index.DocumentCount, out.Index.TermCount,
			out.Index.AverageDocLength, out.Index.BuiltAt.Format("2006-01-02 15:04"))
	}
	cmd.Printf("Corpus records: %d\n", out.Corpus)
	if out.NextRun != "" {
		cmd.Printf("Next scheduled crawl: %s\n", out.NextRun)
	} else {
		cmd.Println("Next scheduled crawl: not scheduled (run a crawl first)")
	}
	for _, r := range out.Runs {
		cmd.Printf("  %s  %-9s fetched=%d indexed=%d failed=%d  %s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.PagesFetched, r.PagesIndexed, r.PagesFailed, r.RunID)
	}
	return nil
}
