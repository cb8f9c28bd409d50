package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/ratelimit"
	"github.com/maltedev/br-price-tracker/internal/tracker"
)

// ProductSource lists products that are due for a refresh.
type ProductSource interface {
	ListStaleProducts(ctx context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error)
	MarkChecked(ctx context.Context, site models.Site, productID string, at time.Time) error
}

type Looker interface {
	Lookup(ctx context.Context, site models.Site, input string, force bool) (*tracker.LookupResult, error)
}

// Locker guards a refresh pass so that a single instance runs it.
type Locker interface {
	Acquire(ctx context.Context) error
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

type Stats struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

type RefresherConfig struct {
	Interval  time.Duration
	StaleAge  time.Duration
	BatchSize int
}

// Refresher re-scrapes tracked products whose last check is older than
// StaleAge, one product at a time.
type Refresher struct {
	source  ProductSource
	looker  Looker
	lock    Locker
	limiter ratelimit.RateLimiter
	cfg     RefresherConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewRefresher(source ProductSource, looker Looker, lock Locker, limiter ratelimit.RateLimiter, cfg RefresherConfig, logger *slog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = 6 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		source:  source,
		looker:  looker,
		lock:    lock,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With("component", "refresher"),
		now:     time.Now,
	}
}

// Start runs a refresh pass on every tick until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	r.logger.Info("refresher started", "interval", r.cfg.Interval, "stale_age", r.cfg.StaleAge)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresher stopping")
			return
		case <-ticker.C:
			stats, err := r.RunOnce(ctx)
			switch {
			case errors.Is(err, ErrLeaseHeld):
				r.logger.Debug("refresh skipped, another instance holds the lease")
			case err != nil:
				r.logger.Error("refresh pass failed", "error", err)
			default:
				r.logger.Info("refresh pass complete", "checked", stats.Checked, "updated", stats.Updated, "failed", stats.Failed)
			}
		}
	}
}

// RunOnce refreshes one batch of stale products. It returns ErrLeaseHeld when
// another instance is already refreshing.
func (r *Refresher) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	if r.lock != nil {
		if err := r.lock.Acquire(ctx); err != nil {
			return stats, err
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("failed to release refresh lease", "error", err)
			}
		}()
	}

	products, err := r.source.ListStaleProducts(ctx, r.now().Add(-r.cfg.StaleAge), r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}

		stats.Checked++
		res, err := r.looker.Lookup(ctx, p.Site, p.ProductID, true)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Failed++
			r.logger.Warn("refresh failed", "site", p.Site, "product_id", p.ProductID, "error", err)
			if err := r.source.MarkChecked(ctx, p.Site, p.ProductID, r.now()); err != nil {
				r.logger.Error("failed to mark product checked", "site", p.Site, "product_id", p.ProductID, "error", err)
			}
		} else if res.Stored {
			stats.Updated++
		}

		if r.lock != nil {
			if err := r.lock.Renew(ctx); err != nil {
				r.logger.Warn("lost refresh lease, stopping pass", "error", err)
				return stats, err
			}
		}
	}

	return stats, nil
}
