// Command fusionctl issues ad-hoc fusion searches against a running store,
// for manual verification of search quality without standing up the full
// worker process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/knowledgecore/pipeline/pkg/config"
	"github.com/knowledgecore/pipeline/pkg/embedder"
	"github.com/knowledgecore/pipeline/pkg/fusion"
	"github.com/knowledgecore/pipeline/pkg/store"
)

var (
	configDir  string
	topK       int
	minScore   float64
	strategies []string
)

var rootCmd = &cobra.Command{
	Use:   "fusionctl [query]",
	Short: "Run a fusion search against the configured store",
	Long: `fusionctl issues a single fusion search and prints the ranked results
as JSON, combining the entity, relationship, semantic, and concept
strategies with the fusion package's weighted rank fusion.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config-dir", "./deploy/config", "Path to configuration directory")
	rootCmd.Flags().IntVar(&topK, "top-k", 0, "Override the configured result limit (0 = use config)")
	rootCmd.Flags().Float64Var(&minScore, "min-score", 0, "Override the configured minimum similarity score (0 = use config)")
	rootCmd.Flags().StringSliceVar(&strategies, "strategies", nil, "Restrict to a subset of strategies (entity,relationship,semantic,concept)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	query := args[0]

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pgStore, err := store.NewPostgres(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer pgStore.Close()

	embedAdapter := embedder.NewHTTPEmbedder(cfg.Embedder)
	searcher := fusion.New(pgStore, embedAdapter)

	opts := fusion.DefaultOptions(cfg.Fusion)
	if topK > 0 {
		opts.TopK = topK
	}
	if minScore > 0 {
		opts.MinScore = minScore
	}
	if len(strategies) > 0 {
		opts.EnabledStrategies = make([]fusion.Strategy, len(strategies))
		for i, s := range strategies {
			opts.EnabledStrategies[i] = fusion.Strategy(s)
		}
	}

	results, err := searcher.Search(ctx, query, opts)
	if err != nil {
		return fmt.Errorf("fusion search: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
