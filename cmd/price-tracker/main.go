package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maltedev/br-price-tracker/internal/api"
	"github.com/maltedev/br-price-tracker/internal/cache"
	"github.com/maltedev/br-price-tracker/internal/config"
	"github.com/maltedev/br-price-tracker/internal/database"
	"github.com/maltedev/br-price-tracker/internal/history"
	"github.com/maltedev/br-price-tracker/internal/jobs"
	"github.com/maltedev/br-price-tracker/internal/logger"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/ratelimit"
	"github.com/maltedev/br-price-tracker/internal/scraper"
	"github.com/maltedev/br-price-tracker/internal/tracker"
	"github.com/redis/go-redis/v9"
)

const historyPruneInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("price tracker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fetch backends
	backendOpts := scraper.BackendOptions{
		UserAgent:  cfg.Fetcher.UserAgent,
		Timeout:    cfg.Fetcher.Timeout,
		Headless:   cfg.Fetcher.Headless,
		ChromePath: cfg.Fetcher.ChromePath,
		MinDelay:   cfg.Fetcher.RateLimitMin,
		MaxDelay:   cfg.Fetcher.RateLimitMax,
		Adaptive:   cfg.Fetcher.Adaptive,
		MaxRetries: cfg.Fetcher.MaxRetries,
		RetryDelay: cfg.Fetcher.RetryDelay,
	}
	backend, err := scraper.NewBackend(cfg.Fetcher.Backend, backendOpts, log)
	if err != nil {
		return fmt.Errorf("failed to initialize fetcher: %w", err)
	}
	defer backend.Close()

	var scraperOpts []scraper.Option
	if b := cfg.Fetcher.AmazonBackend; b != "" && b != cfg.Fetcher.Backend {
		amazon, err := scraper.NewBackend(b, backendOpts, log)
		if err != nil {
			return fmt.Errorf("failed to initialize amazon fetcher: %w", err)
		}
		defer amazon.Close()
		scraperOpts = append(scraperOpts, scraper.WithSiteFetcher(models.SiteAmazon, amazon.Fetcher))
	}
	s := scraper.New(backend.Fetcher, log, scraperOpts...)

	// Local history
	hist, err := history.Open(cfg.History.Path, cfg.History.MaxEntries, log)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer hist.Close()

	trackerOpts := []tracker.Option{tracker.WithHistory(hist)}
	handlerOpts := []api.HandlerOption{api.WithArchive(hist)}

	// Postgres snapshot store
	var store *database.SnapshotStore
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}

		store = database.NewSnapshotStore(db)
		if n, err := hist.SyncTo(ctx, store); err != nil {
			log.Warn("failed to sync local history", "error", err)
		} else if n > 0 {
			log.Info("synced local history", "snapshots", n)
		}

		trackerOpts = append(trackerOpts, tracker.WithStore(store))
		handlerOpts = append(handlerOpts, api.WithHealthCheck("database", db.Ping))
	}

	// Redis cache, outbox relay and refresh lease
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		trackerOpts = append(trackerOpts, tracker.WithCache(cache.New(redisClient, cfg.Cache.TTL, log)))
		handlerOpts = append(handlerOpts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	t := tracker.New(s, log, trackerOpts...)

	if store != nil && redisClient != nil {
		relay := database.NewRelay(store.Outbox(), redisClient, log, database.RelayConfig{
			PollInterval: cfg.Relay.PollInterval,
			BatchSize:    cfg.Relay.BatchSize,
			StreamMaxLen: cfg.Relay.StreamMaxLen,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
		}()
		handlerOpts = append(handlerOpts, api.WithOutbox(relay))

		if cfg.Refresh.Enabled {
			refresher := jobs.NewRefresher(
				store,
				t,
				jobs.NewLease(redisClient, cfg.Refresh.LeaseKey, cfg.Refresh.LeaseTTL),
				ratelimit.NewSimpleRateLimiter(cfg.Refresh.MinDelay, cfg.Refresh.MaxDelay),
				jobs.RefresherConfig{
					Interval:  cfg.Refresh.Interval,
					StaleAge:  cfg.Refresh.StaleAge,
					BatchSize: cfg.Refresh.BatchSize,
				},
				log,
			)
			go refresher.Start(ctx)
			handlerOpts = append(handlerOpts, api.WithRefresher(refresher))
		}
	} else if cfg.Refresh.Enabled {
		log.Warn("background refresh needs both database and redis, disabled")
	}

	if cfg.History.Retention > 0 {
		go pruneHistory(ctx, hist, cfg.History.Retention, log)
	}

	handlers := api.NewHandlers(t, log, handlerOpts...)
	router := api.NewRouter(handlers, api.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.CORSOrigins,
		DocsSpecDir:    cfg.Docs.SpecDir,
		DocsTitle:      cfg.Docs.Title,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// pruneHistory drops local history entries older than retention once per hour.
func pruneHistory(ctx context.Context, hist *history.Store, retention time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := hist.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn("failed to prune history", "error", err)
		} else if n > 0 {
			log.Info("pruned history", "removed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
