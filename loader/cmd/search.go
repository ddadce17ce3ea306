package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pdfrag/search"
	"pdfrag/store"
	"pdfrag/types"
)

var (
	searchLimit  int
	searchSource string
	searchDoc    string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search ingested documents",
	Long: `Embeds the query and returns the most similar chunks, best first.
Results can be restricted to one source or one document.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (defaults to search.max_results)")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "only search documents from this source id")
	searchCmd.Flags().StringVar(&searchDoc, "doc", "", "only search chunks of this document id")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	filter := store.SearchFilter{SourceID: searchSource}
	if searchDoc != "" {
		id, err := uuid.Parse(searchDoc)
		if err != nil {
			return fmt.Errorf("invalid document id %q: %w", searchDoc, err)
		}
		filter.DocumentID = id
	}
	if searchLimit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	svc := search.NewFromConfig(e.store, e.embedder, e.cfg.Search, e.logger)
	results, err := svc.Search(ctx, args[0], filter, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		return outputSearchJSON(cmd, results)
	}
	outputSearchTable(cmd, results)
	return nil
}

func outputSearchJSON(cmd *cobra.Command, results []types.SearchResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func outputSearchTable(cmd *cobra.Command, results []types.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results.")
		return
	}
	cmd.Printf("Results: %d\n\n", len(results))
	for i, r := range results {
		cmd.Printf("%d. [%.3f] %s (%s, page %d)\n", i+1, r.Score, r.Title, r.Path, r.Page)
		cmd.Printf("   %s\n", snippet(r.Text, 160))
	}
}

// snippet flattens whitespace and cuts text to at most n runes.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
