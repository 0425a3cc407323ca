// Command storywatch runs the ingestion-to-trend pipeline: it fetches
// configured feeds, normalizes and analyzes articles, clusters them
// into stories, and aggregates trend snapshots until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"storywatch/internal/analysis"
	"storywatch/internal/config"
	"storywatch/internal/events"
	"storywatch/internal/logging"
	"storywatch/internal/pipeline"
	"storywatch/internal/source"
	"storywatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "storywatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logging.Init(); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	dbPath, err := resolveDBPath(cfg.Database.Path)
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logging.Info("store opened", "path", dbPath)

	provider, err := buildProvider(cfg.Analysis.Provider)
	if err != nil {
		return err
	}

	sources := make([]source.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		sources = append(sources, source.NewRSSSource(sc.Name, sc.URL, 30*time.Second))
	}
	if len(sources) == 0 {
		logging.Warn("no sources configured, pipeline will idle")
	}

	p := pipeline.New(cfg, provider, st, sources)

	journal, journalFile := openJournal()
	if journalFile != nil {
		defer journalFile.Close()
	}
	defer journal.Close()
	p.AttachJournal(journal)
	journal.Emit(events.Event{Kind: events.KindStartup, Msg: "pipeline starting"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = p.Run(ctx)
	journal.Emit(events.Event{Kind: events.KindShutdown})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("shutdown complete", "cache", p.CacheStats())
	return nil
}

// openJournal creates the JSONL event journal under ~/.storywatch,
// falling back to a discard journal when the file cannot be created.
func openJournal() (*events.Journal, *os.File) {
	home, err := os.UserHomeDir()
	if err != nil {
		return events.NewNullJournal(), nil
	}
	dir := filepath.Join(home, ".storywatch")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return events.NewNullJournal(), nil
	}
	path := filepath.Join(dir, fmt.Sprintf("events-%s.jsonl", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Warn("event journal disabled", "path", path, "error", err)
		return events.NewNullJournal(), nil
	}
	return events.NewJournal(f), f
}

// resolveDBPath expands relative database paths under ~/.storywatch.
func resolveDBPath(path string) (string, error) {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".storywatch")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return filepath.Join(dataDir, path), nil
}

func buildProvider(name string) (analysis.Provider, error) {
	switch name {
	case "", "keyword":
		return analysis.NewKeywordProvider(), nil
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", name)
	}
}
