package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"pdfrag/loader/source"
)

const DefaultMonitoringTime = 5 * time.Second

// WatchOptions tune Watch.
type WatchOptions struct {
	// Debounce is how long the directory must stay quiet after a change
	// before a run starts, so files still being copied are not read early.
	Debounce time.Duration
	// Rescan forces a run at this interval; zero disables it.
	Rescan time.Duration
	// OnReport, if set, receives the outcome of every run.
	OnReport func(*Report, error)
}

// Watch ingests src once and then again whenever files below its root
// settle after a change. It returns when ctx is done.
func (s *Service) Watch(ctx context.Context, src *source.DirSource, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultMonitoringTime
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, src.Root()); err != nil {
		return fmt.Errorf("watch %s: %w", src.Root(), err)
	}
	s.logger.Info("watching source", "dir", src.Root(), "debounce", opts.Debounce, "rescan", opts.Rescan)

	run := func(reason string) {
		s.logger.Debug("ingest triggered", "reason", reason)
		report, err := s.Ingest(ctx, src)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("ingest run failed", "source", src.ID(), "err", err)
		}
		if opts.OnReport != nil {
			opts.OnReport(report, err)
		}
	}
	run("start")

	settle := time.NewTimer(opts.Debounce)
	settle.Stop()
	defer settle.Stop()

	var rescan <-chan time.Time
	if opts.Rescan > 0 {
		ticker := time.NewTicker(opts.Rescan)
		defer ticker.Stop()
		rescan = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watch stopped", "dir", src.Root())
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !hidden(ev.Name) {
					if err := watchTree(watcher, ev.Name); err != nil {
						s.logger.Warn("watch new directory failed", "dir", ev.Name, "err", err)
					}
				}
			}
			if relevant(ev, src.Patterns()) {
				settle.Reset(opts.Debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "err", err)

		case <-settle.C:
			run("change")

		case <-rescan:
			run("rescan")
		}
	}
}

// relevant reports whether ev may change the set of ingested documents.
func relevant(ev fsnotify.Event, patterns []string) bool {
	if hidden(ev.Name) {
		return false
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if source.Matches(ev.Name, patterns) {
		return true
	}
	// a directory moved in or out may carry documents
	if ev.Has(fsnotify.Create) {
		info, err := os.Stat(ev.Name)
		return err == nil && info.IsDir()
	}
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// watchTree adds dir and every visible directory below it.
func watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
