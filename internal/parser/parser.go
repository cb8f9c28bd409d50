package parser

import (
	"fmt"
	"strconv"

	"github.com/maltedev/br-price-tracker/internal/models"
)

// MaxSearchResults caps how many products a single search page yields.
const MaxSearchResults = 48

// Parser turns raw product and search pages into structured records. Parsing
// never fails: whatever could not be extracted is left nil.
type Parser interface {
	ParseProductPage(html string) models.PriceRecord
	ParseSearchResultsPage(html string) []models.SearchResult
}

var (
	_ Parser = (*KabumParser)(nil)
	_ Parser = (*AmazonParser)(nil)
)

func ForSite(site models.Site) (Parser, error) {
	switch site {
	case models.SiteKabum:
		return NewKabumParser(), nil
	case models.SiteAmazon:
		return NewAmazonParser(), nil
	default:
		return nil, fmt.Errorf("no parser for site %q", site)
	}
}

func parseCount(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// newInstallments builds a plan from a count and per-installment value; the
// total is derived and rounded to cents.
func newInstallments(count, value string) *installments {
	n := parseCount(count)
	v := ToNumberBRL(value)
	if n == nil || v == nil {
		return nil
	}
	total := round2(float64(*n) * *v)
	return &installments{Total: &total, Count: n, Value: v}
}

// resultSet keeps search results unique by id in first-seen order. A later
// sighting of a known id only fills in a missing name or image.
type resultSet struct {
	limit int
	index map[string]int
	items []models.SearchResult
}

func newResultSet(limit int) *resultSet {
	return &resultSet{limit: limit, index: make(map[string]int)}
}

func (r *resultSet) add(res models.SearchResult) {
	if res.ID == "" {
		return
	}
	if i, ok := r.index[res.ID]; ok {
		if r.items[i].Name == "" {
			r.items[i].Name = res.Name
		}
		if r.items[i].Image == nil {
			r.items[i].Image = res.Image
		}
		return
	}
	if r.full() {
		return
	}
	r.index[res.ID] = len(r.items)
	r.items = append(r.items, res)
}

func (r *resultSet) full() bool {
	return len(r.items) >= r.limit
}

func (r *resultSet) empty() bool {
	return len(r.items) == 0
}

func (r *resultSet) list() []models.SearchResult {
	if r.items == nil {
		return []models.SearchResult{}
	}
	return r.items
}
