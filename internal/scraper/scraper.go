package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/br-price-tracker/internal/fetcher"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/parser"
	"github.com/maltedev/br-price-tracker/internal/sites"
)

// ErrProductUnavailable means the page parsed without a product name: the
// product is gone or the store changed its layout. Callers should not retry
// right away.
var ErrProductUnavailable = errors.New("product unavailable or page layout changed")

// Scraper ties together identifier resolution, page fetching and parsing.
type Scraper struct {
	fetcher  fetcher.Fetcher
	fetchers map[models.Site]fetcher.Fetcher
	parsers  map[models.Site]parser.Parser
	logger   *slog.Logger
}

type Option func(*Scraper)

// WithSiteFetcher routes one site through a dedicated fetcher, e.g. a
// headless browser for the marketplace.
func WithSiteFetcher(site models.Site, f fetcher.Fetcher) Option {
	return func(s *Scraper) {
		s.fetchers[site] = f
	}
}

func New(f fetcher.Fetcher, logger *slog.Logger, opts ...Option) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scraper{
		fetcher:  f,
		fetchers: make(map[models.Site]fetcher.Fetcher),
		parsers: map[models.Site]parser.Parser{
			models.SiteKabum:  parser.NewKabumParser(),
			models.SiteAmazon: parser.NewAmazonParser(),
		},
		logger: logger.With("component", "scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScrapeProduct fetches and parses one product page. A page without a product
// name yields ErrProductUnavailable and no snapshot.
func (s *Scraper) ScrapeProduct(ctx context.Context, site models.Site, input string) (*models.Snapshot, error) {
	product, err := sites.Resolve(site, input)
	if err != nil {
		return nil, err
	}

	html, err := s.fetcherFor(site).Fetch(ctx, product.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s product %s: %w", site, product.ID, err)
	}

	record := s.parsers[site].ParseProductPage(html)
	if !record.Found() {
		s.logger.Warn("product page without name", "site", site, "product_id", product.ID)
		return nil, fmt.Errorf("%w: %s %s", ErrProductUnavailable, site, product.ID)
	}

	s.logger.Info("scraped product",
		"site", site,
		"product_id", product.ID,
		"cash_price", deref(record.CashPrice),
		"installment_total", deref(record.InstallmentTotal),
	)
	return models.NewSnapshot(site, product.ID, product.URL, record), nil
}

func (s *Scraper) Search(ctx context.Context, site models.Site, query string) ([]models.SearchResult, error) {
	p, ok := s.parsers[site]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sites.ErrUnsupportedSite, site)
	}
	searchURL, err := sites.SearchURL(site, query)
	if err != nil {
		return nil, err
	}

	html, err := s.fetcherFor(site).Fetch(ctx, searchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s search: %w", site, err)
	}

	results := p.ParseSearchResultsPage(html)
	s.logger.Info("parsed search results", "site", site, "query", query, "count", len(results))
	return results, nil
}

// ParseFile parses a saved product page without touching the network.
func (s *Scraper) ParseFile(site models.Site, path string) (models.PriceRecord, error) {
	p, ok := s.parsers[site]
	if !ok {
		return models.PriceRecord{}, fmt.Errorf("%w: %q", sites.ErrUnsupportedSite, site)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.PriceRecord{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return p.ParseProductPage(string(data)), nil
}

func (s *Scraper) fetcherFor(site models.Site) fetcher.Fetcher {
	if f, ok := s.fetchers[site]; ok {
		return f
	}
	return s.fetcher
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
