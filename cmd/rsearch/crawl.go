package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/research-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/research-search/internal/crawler"
)

var crawlMaxPages int

var crawlCmd = &cobra.Command{
	Use:   "crawl [seed-url...]",
	Short: "Crawl from seed URLs and append pages to the corpus log",
	Long: `Crawls breadth-first from the given seeds (or crawler.seeds from the
config) and appends every parsed page to the corpus log. The index is not
rebuilt; run "rsearch index" afterwards.`,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().IntVarP(&crawlMaxPages, "max-pages", "n", 0, "page budget (crawler.maxPages when 0)")
	rootCmd.AddCommand(crawlCmd)
}

func seedsOrDefault(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Crawler.Seeds) == 0 {
		return nil, fmt.Errorf("no seed URLs given and crawler.seeds is empty")
	}
	return cfg.Crawler.Seeds, nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	seeds, err := seedsOrDefault(args)
	if err != nil {
		return err
	}
	c, err := crawler.New(cfg.Crawler, nil, nil)
	if err != nil {
		return err
	}
	res, err := c.Crawl(cmd.Context(), seeds, crawlMaxPages)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	store := corpus.NewStore(cfg.Indexer.CorpusPath())
	if err := store.Append(res.Documents); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("Fetched %d pages (%d documents, %d failed) in %s\n",
		res.PagesFetched, len(res.Documents), res.PagesFailed, res.Duration.Round(time.Millisecond))
	for _, f := range res.Failures {
		cmd.Printf("  %-12s %s %s\n", f.Reason, f.URL, f.Error)
	}
	cmd.Printf("Corpus: %s\n", store.Path())
	return nil
}
