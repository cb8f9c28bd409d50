package models

import (
	"fmt"
	"time"
)

type Site string

const (
	SiteKabum  Site = "kabum"
	SiteAmazon Site = "amazon"
)

func ParseSite(s string) (Site, error) {
	switch Site(s) {
	case SiteKabum, SiteAmazon:
		return Site(s), nil
	default:
		return "", fmt.Errorf("unsupported site %q", s)
	}
}

// PriceRecord is the best-effort result of parsing one product page.
// Every field is optional; a nil Name means the page could not be read as a product.
type PriceRecord struct {
	Name             *string  `json:"name"`
	Image            *string  `json:"image"`
	CashPrice        *float64 `json:"cash_price"`
	InstallmentTotal *float64 `json:"installment_total"`
	InstallmentCount *int     `json:"installment_count"`
	InstallmentValue *float64 `json:"installment_value"`
	OriginalPrice    *float64 `json:"original_price"`
}

func (r PriceRecord) Found() bool {
	return r.Name != nil
}

// SamePrices reports whether both records carry identical price fields.
func (r PriceRecord) SamePrices(o PriceRecord) bool {
	return equalFloat(r.CashPrice, o.CashPrice) &&
		equalFloat(r.InstallmentTotal, o.InstallmentTotal) &&
		equalInt(r.InstallmentCount, o.InstallmentCount) &&
		equalFloat(r.InstallmentValue, o.InstallmentValue) &&
		equalFloat(r.OriginalPrice, o.OriginalPrice)
}

// HasPrice reports whether at least one of the headline prices is known.
func (r PriceRecord) HasPrice() bool {
	return r.CashPrice != nil || r.InstallmentTotal != nil
}

type SearchResult struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Image *string `json:"image"`
}

// Snapshot is a PriceRecord observed for a product at a point in time.
type Snapshot struct {
	Site      Site        `json:"site"`
	ProductID string      `json:"product_id"`
	URL       string      `json:"url,omitempty"`
	Record    PriceRecord `json:"record"`
	ScrapedAt time.Time   `json:"scraped_at"`
}

func NewSnapshot(site Site, productID, url string, record PriceRecord) *Snapshot {
	return &Snapshot{
		Site:      site,
		ProductID: productID,
		URL:       url,
		Record:    record,
		ScrapedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *Snapshot) Key() string {
	return string(s.Site) + ":" + s.ProductID
}

// TrackedProduct is a product that has at least one stored snapshot.
type TrackedProduct struct {
	Site          Site      `json:"site"`
	ProductID     string    `json:"product_id"`
	URL           string    `json:"url"`
	Name          string    `json:"name"`
	Image         *string   `json:"image,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func String(s string) *string {
	return &s
}

func Float(f float64) *float64 {
	return &f
}

func Int(i int) *int {
	return &i
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
