package tracker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/scraper"
	"github.com/maltedev/br-price-tracker/internal/sites"
)

type Scraper interface {
	ScrapeProduct(ctx context.Context, site models.Site, input string) (*models.Snapshot, error)
	Search(ctx context.Context, site models.Site, query string) ([]models.SearchResult, error)
}

// SnapshotStore is the shared, long-term price history.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) (bool, error)
	ListSnapshots(ctx context.Context, site models.Site, productID string, limit int) ([]models.Snapshot, error)
	ListProducts(ctx context.Context) ([]models.TrackedProduct, error)
}

type Cache interface {
	Get(ctx context.Context, site models.Site, productID string) (*models.Snapshot, bool)
	Set(ctx context.Context, snap *models.Snapshot)
	Invalidate(ctx context.Context, site models.Site, productID string)
}

// History is the local history kept next to the process.
type History interface {
	Append(ctx context.Context, snap *models.Snapshot) (bool, error)
	List(ctx context.Context, site models.Site, productID string, limit int) ([]models.Snapshot, error)
	Products(ctx context.Context) ([]models.TrackedProduct, error)
}

// LookupResult is a snapshot plus where it came from.
type LookupResult struct {
	Snapshot *models.Snapshot `json:"snapshot"`
	Cached   bool             `json:"cached"`
	Stored   bool             `json:"stored"`
}

// Tracker answers price lookups from the shared cache when it can and scrapes
// otherwise. Store, cache and history are all optional.
type Tracker struct {
	scraper Scraper
	store   SnapshotStore
	cache   Cache
	history History
	logger  *slog.Logger
}

type Option func(*Tracker)

func WithStore(s SnapshotStore) Option { return func(t *Tracker) { t.store = s } }

func WithCache(c Cache) Option { return func(t *Tracker) { t.cache = c } }

func WithHistory(h History) Option { return func(t *Tracker) { t.history = h } }

func New(scraper Scraper, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		scraper: scraper,
		logger:  logger.With("component", "tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Lookup returns the current prices of a product. Unless force is set a
// cached snapshot is returned as is. Fresh snapshots are persisted, cached
// and appended to the local history; persistence problems are logged and do
// not fail the lookup. Failed scrapes are never cached or persisted, and a
// forced lookup of a product that is gone drops its cache entry. Snapshots
// without any price are stored but not cached.
func (t *Tracker) Lookup(ctx context.Context, site models.Site, input string, force bool) (*LookupResult, error) {
	product, err := sites.Resolve(site, input)
	if err != nil {
		return nil, err
	}

	if !force && t.cache != nil {
		if snap, ok := t.cache.Get(ctx, product.Site, product.ID); ok {
			t.logger.Debug("cache hit", "site", product.Site, "product_id", product.ID)
			return &LookupResult{Snapshot: snap, Cached: true}, nil
		}
	}

	snap, err := t.scraper.ScrapeProduct(ctx, product.Site, product.ID)
	if err != nil {
		if force && t.cache != nil && errors.Is(err, scraper.ErrProductUnavailable) {
			t.cache.Invalidate(ctx, product.Site, product.ID)
		}
		return nil, err
	}

	result := &LookupResult{Snapshot: snap}
	if t.store != nil {
		stored, err := t.store.SaveSnapshot(ctx, snap)
		if err != nil {
			t.logger.Error("failed to store snapshot", "site", snap.Site, "product_id", snap.ProductID, "error", err)
		}
		result.Stored = stored
	}
	if t.cache != nil {
		if snap.Record.HasPrice() {
			t.cache.Set(ctx, snap)
		} else {
			t.logger.Warn("no price on page, not caching", "site", snap.Site, "product_id", snap.ProductID)
		}
	}
	if t.history != nil {
		if _, err := t.history.Append(ctx, snap); err != nil {
			t.logger.Warn("failed to append local history", "site", snap.Site, "product_id", snap.ProductID, "error", err)
		}
	}
	return result, nil
}

// History returns stored snapshots of a product, newest first. The shared
// store is preferred over the local history.
func (t *Tracker) History(ctx context.Context, site models.Site, input string, limit int) ([]models.Snapshot, error) {
	product, err := sites.Resolve(site, input)
	if err != nil {
		return nil, err
	}
	switch {
	case t.store != nil:
		return t.store.ListSnapshots(ctx, product.Site, product.ID, limit)
	case t.history != nil:
		return t.history.List(ctx, product.Site, product.ID, limit)
	default:
		return []models.Snapshot{}, nil
	}
}

func (t *Tracker) Products(ctx context.Context) ([]models.TrackedProduct, error) {
	switch {
	case t.store != nil:
		return t.store.ListProducts(ctx)
	case t.history != nil:
		return t.history.Products(ctx)
	default:
		return []models.TrackedProduct{}, nil
	}
}

func (t *Tracker) Search(ctx context.Context, site models.Site, query string) ([]models.SearchResult, error) {
	return t.scraper.Search(ctx, site, query)
}
