package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/br-price-tracker/internal/config"
	"github.com/maltedev/br-price-tracker/internal/history"
	"github.com/maltedev/br-price-tracker/internal/logger"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/scraper"
	"github.com/maltedev/br-price-tracker/internal/sites"
	"github.com/maltedev/br-price-tracker/internal/storage"
	"github.com/maltedev/br-price-tracker/internal/tracker"
)

func main() {
	var (
		siteName    = flag.String("site", "", "Store: kabum or amazon (detected from URLs)")
		input       = flag.String("id", "", "Product id, ASIN or product URL to look up")
		query       = flag.String("search", "", "Search the store for this query")
		file        = flag.String("file", "", "Parse a saved product page instead of fetching")
		showHistory = flag.Bool("history", false, "Print the local history of -id instead of fetching")
		limit       = flag.Int("limit", 20, "Number of history entries to print")
		exportPath  = flag.String("export", "", "Write the local history to this backup file")
		importPath  = flag.String("import", "", "Merge this backup file into the local history")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	site, err := resolveSite(*siteName, *input)
	needsSite := *input != "" || *query != "" || *file != ""
	if needsSite && err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	if *file != "" {
		record, err := scraper.New(nil, logger).ParseFile(site, *file)
		if err != nil {
			logger.Error("Failed to parse file", "file", *file, "error", err)
			os.Exit(1)
		}
		printJSON(record)
		return
	}

	hist, err := history.Open(cfg.History.Path, cfg.History.MaxEntries, logger)
	if err != nil {
		logger.Error("Failed to open history", "path", cfg.History.Path, "error", err)
		os.Exit(1)
	}
	defer hist.Close()

	switch {
	case *exportPath != "":
		snaps, err := hist.Export(ctx)
		if err != nil {
			logger.Error("Failed to export history", "error", err)
			os.Exit(1)
		}
		if err := storage.SaveBackup(*exportPath, storage.NewBackup(snaps)); err != nil {
			logger.Error("Failed to write backup", "path", *exportPath, "error", err)
			os.Exit(1)
		}
		logger.Info("History exported", "path", *exportPath, "snapshots", len(snaps))
		return

	case *importPath != "":
		backup, err := storage.LoadBackup(*importPath)
		if err != nil {
			logger.Error("Failed to read backup", "path", *importPath, "error", err)
			os.Exit(1)
		}
		n, err := hist.Import(ctx, backup.Snapshots)
		if err != nil {
			logger.Error("Failed to import history", "error", err)
			os.Exit(1)
		}
		logger.Info("History imported", "received", len(backup.Snapshots), "imported", n)
		return
	}

	if !needsSite {
		flag.Usage()
		os.Exit(2)
	}

	if *showHistory {
		snaps, err := tracker.New(nil, logger, tracker.WithHistory(hist)).History(ctx, site, *input, *limit)
		if err != nil {
			logger.Error("Failed to load history", "error", err)
			os.Exit(1)
		}
		printJSON(snaps)
		return
	}

	backend, err := scraper.NewBackend(cfg.Fetcher.Backend, scraper.BackendOptions{
		UserAgent:  cfg.Fetcher.UserAgent,
		Timeout:    cfg.Fetcher.Timeout,
		Headless:   cfg.Fetcher.Headless,
		ChromePath: cfg.Fetcher.ChromePath,
		MinDelay:   cfg.Fetcher.RateLimitMin,
		MaxDelay:   cfg.Fetcher.RateLimitMax,
		Adaptive:   cfg.Fetcher.Adaptive,
		MaxRetries: cfg.Fetcher.MaxRetries,
		RetryDelay: cfg.Fetcher.RetryDelay,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize fetcher", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	t := tracker.New(scraper.New(backend.Fetcher, logger), logger, tracker.WithHistory(hist))

	switch {
	case *query != "":
		results, err := t.Search(ctx, site, *query)
		if err != nil {
			logger.Error("Search failed", "query", *query, "error", err)
			os.Exit(1)
		}
		printJSON(results)

	default:
		result, err := t.Lookup(ctx, site, *input, true)
		if err != nil {
			logger.Error("Lookup failed", "site", site, "input", *input, "error", err)
			os.Exit(1)
		}
		printJSON(result.Snapshot)
	}
}

func resolveSite(name, input string) (models.Site, error) {
	if name != "" {
		return models.ParseSite(name)
	}
	if site, ok := sites.Detect(input); ok {
		return site, nil
	}
	return "", fmt.Errorf("-site is required unless -id is a product URL")
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}
