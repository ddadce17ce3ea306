package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pdfrag/loader/service"
	"pdfrag/loader/source"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the store in sync with the source directory",
	Long: `Ingests the source directory, then watches it and re-ingests after
changes settle. A periodic rescan catches events the watcher missed.
Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.Source.Kind == "s3" {
		return errors.New("watch requires a directory source")
	}
	src, err := source.OpenDir(e.cfg.Source)
	if err != nil {
		return err
	}
	svc, err := service.NewFromConfig(e.store, e.embedder, e.cfg, e.logger)
	if err != nil {
		return err
	}

	cmd.Printf("Watching %s...\n", src.Root())
	err = svc.Watch(ctx, src, service.WatchOptions{
		Debounce: e.cfg.Ingest.MonitoringTime,
		Rescan:   e.cfg.Ingest.RescanInterval,
		OnReport: func(r *service.Report, err error) {
			if r != nil && (r.Writes() > 0 || r.Failed() > 0) {
				printReport(cmd, r)
			}
			if err != nil && ctx.Err() == nil {
				cmd.PrintErrf("ingest failed: %v\n", err)
			}
		},
	})
	if err != nil {
		return err
	}
	cmd.Println("Stopped.")
	return nil
}
