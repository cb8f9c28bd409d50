package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/br-price-tracker/internal/models"
	_ "modernc.org/sqlite"
)

// DefaultMaxEntries is the per-product cap applied after every write.
const DefaultMaxEntries = 500

// Importer receives snapshots pushed by SyncTo.
type Importer interface {
	ImportSnapshots(ctx context.Context, snaps []models.Snapshot) (int, error)
}

// Store is a local, single-file price history. Consecutive entries of a
// product never carry identical prices.
type Store struct {
	db         *sql.DB
	maxEntries int
	logger     *slog.Logger
}

func Open(path string, maxEntries int, logger *slog.Logger) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// A single connection keeps writes serialized and in-memory databases
	// shared.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS history (
			site TEXT NOT NULL,
			product_id TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			record TEXT NOT NULL,
			scraped_at INTEGER NOT NULL,
			PRIMARY KEY (site, product_id, scraped_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}

	return &Store{
		db:         db,
		maxEntries: maxEntries,
		logger:     logger.With("component", "history"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append records snap unless the entry right before it has the same prices.
// It reports whether a row was added.
func (s *Store) Append(ctx context.Context, snap *models.Snapshot) (bool, error) {
	if snap == nil || !snap.Record.Found() {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `
		SELECT record FROM history
		WHERE site = ? AND product_id = ? AND scraped_at < ?
		ORDER BY scraped_at DESC
		LIMIT 1`,
		string(snap.Site), snap.ProductID, snap.ScrapedAt.UnixMilli(),
	).Scan(&previous)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("load previous entry: %w", err)
	default:
		var prev models.PriceRecord
		if json.Unmarshal([]byte(previous), &prev) == nil && prev.SamePrices(snap.Record) {
			return false, nil
		}
	}

	added, err := insert(ctx, tx, snap)
	if err != nil {
		return false, err
	}
	if err := s.prune(ctx, tx, snap.Site, snap.ProductID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// List returns up to limit entries of a product, newest first.
func (s *Store) List(ctx context.Context, site models.Site, productID string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = s.maxEntries
	}
	return s.query(ctx, `
		SELECT site, product_id, url, record, scraped_at FROM history
		WHERE site = ? AND product_id = ?
		ORDER BY scraped_at DESC
		LIMIT ?`, string(site), productID, limit)
}

// Products lists every product with at least one entry, most recently seen
// first.
func (s *Store) Products(ctx context.Context) ([]models.TrackedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.site, h.product_id, h.url, h.record, g.last_seen, g.first_seen
		FROM history h
		JOIN (
			SELECT site, product_id, MAX(scraped_at) AS last_seen, MIN(scraped_at) AS first_seen
			FROM history
			GROUP BY site, product_id
		) g ON g.site = h.site AND g.product_id = h.product_id AND g.last_seen = h.scraped_at
		ORDER BY g.last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.TrackedProduct{}
	for rows.Next() {
		var (
			p               models.TrackedProduct
			site, raw       string
			lastMs, firstMs int64
		)
		if err := rows.Scan(&site, &p.ProductID, &p.URL, &raw, &lastMs, &firstMs); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		var record models.PriceRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			s.logger.Warn("skipping unreadable entry", "site", site, "product_id", p.ProductID, "error", err)
			continue
		}
		p.Site = models.Site(site)
		if record.Name != nil {
			p.Name = *record.Name
		}
		p.Image = record.Image
		p.LastCheckedAt = time.UnixMilli(lastMs).UTC()
		p.CreatedAt = time.UnixMilli(firstMs).UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

// Export returns every entry grouped by product in chronological order.
func (s *Store) Export(ctx context.Context) ([]models.Snapshot, error) {
	return s.query(ctx, `
		SELECT site, product_id, url, record, scraped_at FROM history
		ORDER BY site, product_id, scraped_at ASC`)
}

// Import merges snaps into the store. Entries already present for the same
// product and timestamp are kept as they are. It returns the number of rows
// added.
func (s *Store) Import(ctx context.Context, snaps []models.Snapshot) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	touched := make(map[string]models.Snapshot)
	for i := range snaps {
		snap := &snaps[i]
		if !snap.Record.Found() || snap.ProductID == "" {
			continue
		}
		ok, err := insert(ctx, tx, snap)
		if err != nil {
			return 0, err
		}
		if ok {
			added++
			touched[snap.Key()] = *snap
		}
	}
	for _, snap := range touched {
		if err := s.prune(ctx, tx, snap.Site, snap.ProductID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// Prune deletes entries scraped before olderThan.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE scraped_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// SyncTo pushes the whole local history to dst. Importers are expected to
// skip rows they already hold, so repeated syncs are harmless.
func (s *Store) SyncTo(ctx context.Context, dst Importer) (int, error) {
	snaps, err := s.Export(ctx)
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	n, err := dst.ImportSnapshots(ctx, snaps)
	if err != nil {
		return 0, fmt.Errorf("sync history: %w", err)
	}
	s.logger.Info("history synced", "entries", len(snaps), "imported", n)
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	snaps := []models.Snapshot{}
	for rows.Next() {
		var (
			snap      models.Snapshot
			site, raw string
			ms        int64
		)
		if err := rows.Scan(&site, &snap.ProductID, &snap.URL, &raw, &ms); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &snap.Record); err != nil {
			s.logger.Warn("skipping unreadable entry", "site", site, "product_id", snap.ProductID, "error", err)
			continue
		}
		snap.Site = models.Site(site)
		snap.ScrapedAt = time.UnixMilli(ms).UTC()
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Store) prune(ctx context.Context, tx *sql.Tx, site models.Site, productID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM history
		WHERE site = ? AND product_id = ? AND scraped_at NOT IN (
			SELECT scraped_at FROM history
			WHERE site = ? AND product_id = ?
			ORDER BY scraped_at DESC
			LIMIT ?
		)`, string(site), productID, string(site), productID, s.maxEntries)
	if err != nil {
		return fmt.Errorf("cap history: %w", err)
	}
	return nil
}

func insert(ctx context.Context, tx *sql.Tx, snap *models.Snapshot) (bool, error) {
	record, err := json.Marshal(snap.Record)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO history (site, product_id, url, record, scraped_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (site, product_id, scraped_at) DO NOTHING`,
		string(snap.Site), snap.ProductID, snap.URL, string(record), snap.ScrapedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)"
}
