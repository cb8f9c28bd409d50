package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/sites"
)

const (
	// PriceUpdatesStream receives every price event written by the store.
	PriceUpdatesStream = "stream:price_updates"

	EventProductTracked = "PRODUCT_TRACKED"
	EventPriceChanged   = "PRICE_CHANGED"

	aggregateProduct = "product"
)

var ErrNoSnapshot = errors.New("no snapshot stored for product")

// PriceEventPayload is the body of PRODUCT_TRACKED and PRICE_CHANGED events.
type PriceEventPayload struct {
	Site      models.Site         `json:"site"`
	ProductID string              `json:"product_id"`
	URL       string              `json:"url"`
	Name      *string             `json:"name"`
	Previous  *models.PriceRecord `json:"previous,omitempty"`
	Current   models.PriceRecord  `json:"current"`
	ScrapedAt time.Time           `json:"scraped_at"`
}

// SnapshotStore keeps tracked products and their price history in Postgres.
type SnapshotStore struct {
	db     *DB
	outbox *OutboxRepository
}

func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db, outbox: NewOutboxRepository(db)}
}

// Outbox returns the repository SaveSnapshot writes price events to.
func (s *SnapshotStore) Outbox() *OutboxRepository {
	return s.outbox
}

// SaveSnapshot stores snap unless its prices equal the latest stored snapshot
// of the same product. The product row, the snapshot and the outbox event are
// written in one transaction. It reports whether a snapshot row was written.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) (bool, error) {
	if snap == nil || !snap.Record.Found() {
		return false, fmt.Errorf("refusing to store snapshot without product name")
	}

	written := false
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		// The upsert locks the product row, so concurrent saves of one product
		// serialize on the comparison below.
		if err := upsertProduct(ctx, tx, snap); err != nil {
			return err
		}

		previous, err := latestRecord(ctx, tx, snap.Site, snap.ProductID)
		if err != nil && !errors.Is(err, ErrNoSnapshot) {
			return err
		}
		if previous != nil && previous.SamePrices(snap.Record) {
			return nil
		}

		inserted, err := insertSnapshot(ctx, tx, snap)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		written = true

		event, err := newPriceEvent(snap, previous)
		if err != nil {
			return err
		}
		return s.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot for %s: %w", snap.Key(), err)
	}
	return written, nil
}

// ImportSnapshots stores snapshots without deduplicating against neighbours.
// Rows already present for (site, product_id, scraped_at) are skipped, so
// importing the same data twice is a no-op. Snapshots without a URL get the
// canonical product URL. It returns the number of rows written.
func (s *SnapshotStore) ImportSnapshots(ctx context.Context, snaps []models.Snapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	imported := 0
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		for i := range snaps {
			snap := withProductURL(snaps[i])
			if err := upsertProduct(ctx, tx, snap); err != nil {
				return err
			}
			inserted, err := insertSnapshot(ctx, tx, snap)
			if err != nil {
				return err
			}
			if inserted {
				imported++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to import snapshots: %w", err)
	}
	return imported, nil
}

// ListSnapshots returns up to limit snapshots of a product, newest first.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, site models.Site, productID string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
		SELECT s.site, s.product_id, p.url, s.name, s.image,
			s.cash_price, s.installment_total, s.installment_count,
			s.installment_value, s.original_price, s.scraped_at
		FROM price_snapshots s
		JOIN tracked_products p ON p.site = s.site AND p.product_id = s.product_id
		WHERE s.site = $1 AND s.product_id = $2
		ORDER BY s.scraped_at DESC
		LIMIT $3`, string(site), productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []models.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return snaps, nil
}

// LatestSnapshot returns the newest snapshot of a product or ErrNoSnapshot.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, site models.Site, productID string) (*models.Snapshot, error) {
	snaps, err := s.ListSnapshots(ctx, site, productID, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNoSnapshot, site, productID)
	}
	return &snaps[0], nil
}

// ListProducts returns every tracked product, most recently checked first.
func (s *SnapshotStore) ListProducts(ctx context.Context) ([]models.TrackedProduct, error) {
	return s.queryProducts(ctx, `
		SELECT site, product_id, url, name, image, last_checked_at, created_at
		FROM tracked_products
		ORDER BY last_checked_at DESC`)
}

// ListStaleProducts returns products not checked since olderThan, oldest
// first.
func (s *SnapshotStore) ListStaleProducts(ctx context.Context, olderThan time.Time, limit int) ([]models.TrackedProduct, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryProducts(ctx, `
		SELECT site, product_id, url, name, image, last_checked_at, created_at
		FROM tracked_products
		WHERE last_checked_at < $1
		ORDER BY last_checked_at ASC
		LIMIT $2`, olderThan, limit)
}

// MarkChecked moves a product's last check forward without storing a
// snapshot, e.g. after the page turned out to be unavailable.
func (s *SnapshotStore) MarkChecked(ctx context.Context, site models.Site, productID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tracked_products
		SET last_checked_at = GREATEST(last_checked_at, $3)
		WHERE site = $1 AND product_id = $2`, string(site), productID, at)
	if err != nil {
		return fmt.Errorf("failed to mark %s:%s checked: %w", site, productID, err)
	}
	return nil
}

func (s *SnapshotStore) queryProducts(ctx context.Context, query string, args ...any) ([]models.TrackedProduct, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []models.TrackedProduct{}
	for rows.Next() {
		var (
			p    models.TrackedProduct
			site string
		)
		if err := rows.Scan(&site, &p.ProductID, &p.URL, &p.Name, &p.Image, &p.LastCheckedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.Site = models.Site(site)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return products, nil
}

// withProductURL returns a copy of snap whose URL is set, falling back to the
// canonical product page.
func withProductURL(snap models.Snapshot) *models.Snapshot {
	if snap.URL == "" {
		snap.URL = sites.ProductURL(snap.Site, snap.ProductID)
	}
	return &snap
}

func upsertProduct(ctx context.Context, tx pgx.Tx, snap *models.Snapshot) error {
	name := ""
	if snap.Record.Name != nil {
		name = *snap.Record.Name
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO tracked_products (site, product_id, url, name, image, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (site, product_id) DO UPDATE SET
			url = EXCLUDED.url,
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE tracked_products.name END,
			image = COALESCE(EXCLUDED.image, tracked_products.image),
			last_checked_at = GREATEST(tracked_products.last_checked_at, EXCLUDED.last_checked_at)`,
		string(snap.Site), snap.ProductID, snap.URL, name, snap.Record.Image, snap.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func latestRecord(ctx context.Context, tx pgx.Tx, site models.Site, productID string) (*models.PriceRecord, error) {
	var r models.PriceRecord
	err := tx.QueryRow(ctx, `
		SELECT name, image, cash_price, installment_total, installment_count,
			installment_value, original_price
		FROM price_snapshots
		WHERE site = $1 AND product_id = $2
		ORDER BY scraped_at DESC
		LIMIT 1`, string(site), productID).Scan(
		&r.Name, &r.Image, &r.CashPrice, &r.InstallmentTotal, &r.InstallmentCount,
		&r.InstallmentValue, &r.OriginalPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return &r, nil
}

func insertSnapshot(ctx context.Context, tx pgx.Tx, snap *models.Snapshot) (bool, error) {
	r := snap.Record
	tag, err := tx.Exec(ctx, `
		INSERT INTO price_snapshots (
			id, site, product_id, name, image, cash_price, installment_total,
			installment_count, installment_value, original_price, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (site, product_id, scraped_at) DO NOTHING`,
		uuid.New(), string(snap.Site), snap.ProductID, r.Name, r.Image, r.CashPrice,
		r.InstallmentTotal, r.InstallmentCount, r.InstallmentValue, r.OriginalPrice,
		snap.ScrapedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSnapshot(rows pgx.Rows) (models.Snapshot, error) {
	var (
		snap models.Snapshot
		site string
		r    = &snap.Record
	)
	err := rows.Scan(&site, &snap.ProductID, &snap.URL, &r.Name, &r.Image,
		&r.CashPrice, &r.InstallmentTotal, &r.InstallmentCount,
		&r.InstallmentValue, &r.OriginalPrice, &snap.ScrapedAt)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	snap.Site = models.Site(site)
	snap.ScrapedAt = snap.ScrapedAt.UTC()
	return snap, nil
}

// newPriceEvent builds the outbox event for a freshly written snapshot: a
// PRODUCT_TRACKED event for the first snapshot of a product and PRICE_CHANGED
// afterwards.
func newPriceEvent(snap *models.Snapshot, previous *models.PriceRecord) (*OutboxEvent, error) {
	eventType := EventPriceChanged
	if previous == nil {
		eventType = EventProductTracked
	}

	payload, err := json.Marshal(PriceEventPayload{
		Site:      snap.Site,
		ProductID: snap.ProductID,
		URL:       snap.URL,
		Name:      snap.Record.Name,
		Previous:  previous,
		Current:   snap.Record,
		ScrapedAt: snap.ScrapedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &OutboxEvent{
		AggregateType: aggregateProduct,
		AggregateID:   snap.Key(),
		EventType:     eventType,
		Payload:       payload,
		TargetStream:  PriceUpdatesStream,
	}, nil
}
