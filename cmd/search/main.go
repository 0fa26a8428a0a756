// Package main is the entry point for the research-aggregation search CLI.
// It runs one aggregated search with the same configuration and wiring as
// the server and prints the JSON result to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/research-aggregation-service/internal/aggregator"
	"github.com/helixir/research-aggregation-service/internal/app"
	"github.com/helixir/research-aggregation-service/internal/config"
	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// searcher runs one aggregated search.
type searcher interface {
	SearchAll(ctx context.Context, query string, sources domain.EnabledSources, maxPerSource int) (*aggregator.SearchResponse, error)
}

// searchOptions are the parsed command-line flags.
type searchOptions struct {
	query        string
	sources      domain.EnabledSources
	maxPerSource int
	top          int
	sourceFilter string
}

// searchOutput is the JSON document written to stdout.
type searchOutput struct {
	Query       string                `json:"query"`
	Results     []domain.Record       `json:"results"`
	SourceStats domain.SourceStats    `json:"source_stats"`
	Statistics  aggregator.Statistics `json:"statistics"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search literature, preprint and web sources in one pass",
		Long: `search fans a query out to the enabled sources (PubMed, arXiv, Tavily),
merges and deduplicates the results, ranks them by relevance and prints the
ranked list as JSON. Configuration is read the same way as the server
(config.yaml and RESEARCH_* environment variables).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Logs go to stderr so stdout stays valid JSON.
			logCfg := cfg.Logging.Observability()
			logCfg.Output = "stderr"
			logger := observability.NewLogger(logCfg).With().Str("component", "cli").Logger()

			opts, err := optionsFromFlags(cmd, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline := app.New(cfg, logger, nil)
			defer pipeline.Close()

			return runSearch(ctx, pipeline.Aggregator, opts, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringP("query", "q", "", "free-text search query (required)")
	cmd.Flags().Bool("literature", false, "search the literature source (PubMed)")
	cmd.Flags().Bool("preprint", false, "search the preprint source (arXiv)")
	cmd.Flags().Bool("web", false, "search the web source (Tavily)")
	cmd.Flags().Int("max", 0, "maximum results per source (default from config)")
	cmd.Flags().Int("top", 0, "print only the top N results (0 prints all)")
	cmd.Flags().String("source-filter", "", "print only results from one source (literature, preprint, web)")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

// optionsFromFlags reads the flags. When no source flag is given the
// configured default sources apply.
func optionsFromFlags(cmd *cobra.Command, cfg *config.Config) (searchOptions, error) {
	flags := cmd.Flags()

	opts := searchOptions{sources: app.DefaultSources(cfg)}
	opts.query, _ = flags.GetString("query")
	opts.maxPerSource, _ = flags.GetInt("max")
	opts.top, _ = flags.GetInt("top")
	opts.sourceFilter, _ = flags.GetString("source-filter")

	if flags.Changed("literature") || flags.Changed("preprint") || flags.Changed("web") {
		opts.sources.Literature, _ = flags.GetBool("literature")
		opts.sources.Preprint, _ = flags.GetBool("preprint")
		opts.sources.Web, _ = flags.GetBool("web")
	}
	if opts.maxPerSource == 0 {
		opts.maxPerSource = cfg.Aggregator.DefaultMaxPerSource
	}
	if opts.sourceFilter != "" && !domain.IsValidSourceTag(domain.SourceTag(opts.sourceFilter)) {
		return opts, fmt.Errorf("invalid --source-filter %q: must be literature, preprint or web", opts.sourceFilter)
	}
	return opts, nil
}

// runSearch runs the search and writes the JSON output. A selection with no
// source enabled falls back to web search.
func runSearch(ctx context.Context, s searcher, opts searchOptions, logger zerolog.Logger, out io.Writer) error {
	if !opts.sources.Any() {
		logger.Warn().Str("query", opts.query).Msg("no sources enabled, falling back to web search")
		opts.sources = domain.EnabledSources{Web: true}
	}

	resp, err := s.SearchAll(ctx, opts.query, opts.sources, opts.maxPerSource)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	results := resp.Results
	if opts.sourceFilter != "" {
		results = aggregator.FilterBySource(results, domain.SourceTag(opts.sourceFilter))
	}
	results = aggregator.TopResults(results, opts.top)
	if results == nil {
		results = []domain.Record{}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(searchOutput{
		Query:       opts.query,
		Results:     results,
		SourceStats: resp.SourceStats,
		Statistics:  aggregator.ComputeStatistics(resp.Results),
	})
}
