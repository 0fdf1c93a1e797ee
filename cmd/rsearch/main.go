// Command rsearch crawls a publication portal, builds the BM25 index and
// queries it from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/research-search/pkg/logger"
)

var (
	configPath string
	dataDir    string
	logLevel   string
	jsonOutput bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "rsearch",
	Short:         "Crawl, index and search research publications",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			c.Indexer.DataDir = dataDir
		}
		if logLevel != "" {
			c.Logging.Level = logLevel
		}
		logger.SetupWriter(cmd.ErrOrStderr(), c.Logging.Level, "text")
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override indexer.dataDir")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
