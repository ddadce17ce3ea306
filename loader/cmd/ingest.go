package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pdfrag/loader/service"
	"pdfrag/loader/source"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest the configured source once",
	Long: `Reconciles the store with the configured source: new and modified
documents are embedded, unchanged ones are skipped and documents that no
longer exist are deleted. Exits non-zero when any document failed.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	src, err := source.FromConfig(e.cfg.Source)
	if err != nil {
		return err
	}
	svc, err := service.NewFromConfig(e.store, e.embedder, e.cfg, e.logger)
	if err != nil {
		return err
	}

	report, err := svc.Ingest(ctx, src)
	if report != nil {
		printReport(cmd, report)
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d document(s) could not be ingested", n)
	}
	return nil
}

type reportJSON struct {
	SourceID       string        `json:"source_id"`
	Added          int           `json:"added"`
	Updated        int           `json:"updated"`
	Unchanged      int           `json:"unchanged"`
	Deleted        int           `json:"deleted"`
	ChunksEmbedded int           `json:"chunks_embedded"`
	ChunksReused   int           `json:"chunks_reused"`
	ChunksDeleted  int           `json:"chunks_deleted"`
	Failures       []failureJSON `json:"failures"`
	TookMS         int64         `json:"took_ms"`
}

type failureJSON struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func printReport(cmd *cobra.Command, r *service.Report) {
	if jsonOutput {
		out := reportJSON{
			SourceID:       r.SourceID,
			Added:          r.Added,
			Updated:        r.Updated,
			Unchanged:      r.Unchanged,
			Deleted:        r.Deleted,
			ChunksEmbedded: r.ChunksEmbedded,
			ChunksReused:   r.ChunksReused,
			ChunksDeleted:  r.ChunksDeleted,
			Failures:       make([]failureJSON, 0, len(r.Failures)),
			TookMS:         r.Duration.Milliseconds(),
		}
		for _, f := range r.Failures {
			out.Failures = append(out.Failures, failureJSON{Path: f.Path, Error: f.Err.Error()})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			cmd.PrintErrf("encode report: %v\n", err)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return
	}

	cmd.Printf("Source %s: %d added, %d updated, %d unchanged, %d deleted\n",
		r.SourceID, r.Added, r.Updated, r.Unchanged, r.Deleted)
	cmd.Printf("Chunks: %d embedded, %d reused, %d deleted (%s)\n",
		r.ChunksEmbedded, r.ChunksReused, r.ChunksDeleted, r.Duration.Round(time.Millisecond))
	for _, f := range r.Failures {
		cmd.Printf("  failed %s: %v\n", f.Path, f.Err)
	}
}
