package events

import (
	"context"
	"log/slog"
	"math"

	"github.com/maltedev/br-price-tracker/internal/database"
	"github.com/maltedev/br-price-tracker/internal/models"
)

// Drop is a price decrease between two consecutive snapshots.
type Drop struct {
	Site      models.Site
	ProductID string
	Name      string
	URL       string
	Field     string
	Old       float64
	New       float64
	Percent   float64
}

type Notifier interface {
	Notify(ctx context.Context, d Drop) error
}

// DropDetector turns PRICE_CHANGED events into Drops of at least MinPercent.
type DropDetector struct {
	minPercent float64
	notifier   Notifier
}

func NewDropDetector(minPercent float64, notifier Notifier) *DropDetector {
	return &DropDetector{minPercent: minPercent, notifier: notifier}
}

func (d *DropDetector) HandleEvent(ctx context.Context, ev Event) error {
	if ev.Type != database.EventPriceChanged || ev.Payload.Previous == nil {
		return nil
	}
	drop, ok := FindDrop(ev.Payload, d.minPercent)
	if !ok {
		return nil
	}
	return d.notifier.Notify(ctx, drop)
}

// FindDrop compares the cash price, falling back to the installment total
// when either side has no cash price.
func FindDrop(p database.PriceEventPayload, minPercent float64) (Drop, bool) {
	if p.Previous == nil {
		return Drop{}, false
	}

	field := "cash_price"
	oldPrice, newPrice := p.Previous.CashPrice, p.Current.CashPrice
	if oldPrice == nil || newPrice == nil {
		field = "installment_total"
		oldPrice, newPrice = p.Previous.InstallmentTotal, p.Current.InstallmentTotal
	}
	if oldPrice == nil || newPrice == nil || *oldPrice <= 0 || *newPrice >= *oldPrice {
		return Drop{}, false
	}

	percent := math.Round((*oldPrice-*newPrice) / *oldPrice * 10000) / 100
	if percent < minPercent {
		return Drop{}, false
	}

	drop := Drop{
		Site:      p.Site,
		ProductID: p.ProductID,
		URL:       p.URL,
		Field:     field,
		Old:       *oldPrice,
		New:       *newPrice,
		Percent:   percent,
	}
	if p.Name != nil {
		drop.Name = *p.Name
	}
	return drop, true
}

// LogNotifier reports drops through the logger.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "price_alerts")}
}

func (n *LogNotifier) Notify(_ context.Context, d Drop) error {
	n.logger.Info("price dropped",
		"site", d.Site,
		"product_id", d.ProductID,
		"name", d.Name,
		"field", d.Field,
		"old", d.Old,
		"new", d.New,
		"percent", d.Percent,
		"url", d.URL,
	)
	return nil
}
