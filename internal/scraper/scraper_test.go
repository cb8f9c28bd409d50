package scraper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/br-price-tracker/internal/fetcher"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/sites"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kabumPage = `<html><head>
<script type="application/ld+json">{"@type":"Product","name":"SSD NVMe 1TB","offers":{"price":"399.90"}}</script>
</head><body><p>R$ 399,90 à vista no PIX</p><p>R$ 449,90 em até 10x de R$ 44,99</p></body></html>`

type pageFetcher struct {
	pages map[string]string
	urls  []string
}

func (f *pageFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	html, ok := f.pages[url]
	if !ok {
		return "", fetcher.ErrNotFound
	}
	return html, nil
}

func TestScrapeProduct(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{
		"https://www.kabum.com.br/produto/123": kabumPage,
	}}
	s := New(f, nil)

	snap, err := s.ScrapeProduct(context.Background(), models.SiteKabum, "https://www.kabum.com.br/produto/123/ssd-nvme")
	require.NoError(t, err)

	assert.Equal(t, models.SiteKabum, snap.Site)
	assert.Equal(t, "123", snap.ProductID)
	assert.Equal(t, "https://www.kabum.com.br/produto/123", snap.URL)
	require.NotNil(t, snap.Record.Name)
	assert.Equal(t, "SSD NVMe 1TB", *snap.Record.Name)
	require.NotNil(t, snap.Record.CashPrice)
	assert.Equal(t, 399.9, *snap.Record.CashPrice)
	require.NotNil(t, snap.Record.InstallmentTotal)
	assert.Equal(t, 449.9, *snap.Record.InstallmentTotal)
	assert.False(t, snap.ScrapedAt.IsZero())
}

func TestScrapeProductWithoutNameIsUnavailable(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{
		"https://www.amazon.com.br/dp/B0BX1Y2Z3A": `<html><body><p>Página não encontrada R$ 10,00</p></body></html>`,
	}}
	s := New(f, nil)

	snap, err := s.ScrapeProduct(context.Background(), models.SiteAmazon, "B0BX1Y2Z3A")
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, ErrProductUnavailable)
}

func TestScrapeProductErrors(t *testing.T) {
	s := New(&pageFetcher{}, nil)

	_, err := s.ScrapeProduct(context.Background(), models.SiteKabum, "not-an-id")
	assert.ErrorIs(t, err, sites.ErrInvalidIdentifier)

	_, err = s.ScrapeProduct(context.Background(), models.SiteKabum, "999")
	assert.ErrorIs(t, err, fetcher.ErrNotFound)
}

func TestSiteFetcherOverride(t *testing.T) {
	fallback := &pageFetcher{}
	amazon := &pageFetcher{pages: map[string]string{
		"https://www.amazon.com.br/s?k=kindle": `<div data-component-type="s-search-result" data-asin="B09XYZ1234"><h2><span>Kindle</span></h2></div>`,
	}}
	s := New(fallback, nil, WithSiteFetcher(models.SiteAmazon, amazon))

	results, err := s.Search(context.Background(), models.SiteAmazon, "Kindle")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "B09XYZ1234", results[0].ID)
	assert.Empty(t, fallback.urls)
	assert.Equal(t, []string{"https://www.amazon.com.br/s?k=kindle"}, amazon.urls)
}

func TestSearchKabum(t *testing.T) {
	f := &pageFetcher{pages: map[string]string{
		"https://www.kabum.com.br/busca/ssd-nvme": `<a href="/produto/1/a">A</a><a href="/produto/2/b">B</a>`,
	}}
	s := New(f, nil)

	results, err := s.Search(context.Background(), models.SiteKabum, "SSD NVMe")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = s.Search(context.Background(), models.Site("x"), "ssd")
	assert.ErrorIs(t, err, sites.ErrUnsupportedSite)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(kabumPage), 0o644))

	s := New(nil, nil)
	record, err := s.ParseFile(models.SiteKabum, path)
	require.NoError(t, err)
	require.NotNil(t, record.Name)
	assert.Equal(t, "SSD NVMe 1TB", *record.Name)

	_, err = s.ParseFile(models.SiteKabum, filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendColly, BackendOptions{Adaptive: true, MaxRetries: 1}, nil)
	require.NoError(t, err)
	assert.IsType(t, &fetcher.Limited{}, b.Fetcher)
	assert.NoError(t, b.Close())

	_, err = NewBackend("wget", BackendOptions{}, nil)
	assert.Error(t, err)
}
