// Package sites knows how each supported store identifies products and how to
// build product and search URLs from those identifiers.
package sites

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/br-price-tracker/internal/models"
)

var (
	ErrUnsupportedSite   = errors.New("unsupported site")
	ErrInvalidIdentifier = errors.New("invalid product identifier")
)

const (
	kabumBaseURL  = "https://www.kabum.com.br"
	amazonBaseURL = "https://www.amazon.com.br"
)

var (
	kabumIDPattern   = regexp.MustCompile(`^\d+$`)
	kabumPathPattern = regexp.MustCompile(`/produto/(\d+)`)
	asinPattern      = regexp.MustCompile(`^[A-Z0-9]{10}$`)
	asinPathPattern  = regexp.MustCompile(`/(?:dp|gp/product)/([A-Za-z0-9]{10})(?:[/?#]|$)`)
)

// Product is a resolved, canonical product reference.
type Product struct {
	Site models.Site `json:"site"`
	ID   string      `json:"id"`
	URL  string      `json:"url"`
}

// Resolve turns user input (a bare identifier or a product URL) into a
// canonical product reference.
func Resolve(site models.Site, input string) (Product, error) {
	input = strings.TrimSpace(input)

	var id string
	switch site {
	case models.SiteKabum:
		id = kabumID(input)
	case models.SiteAmazon:
		id = ExtractASIN(input)
	default:
		return Product{}, fmt.Errorf("%w: %q", ErrUnsupportedSite, site)
	}

	if id == "" {
		return Product{}, fmt.Errorf("%w for %s: %q", ErrInvalidIdentifier, site, input)
	}
	return Product{Site: site, ID: id, URL: ProductURL(site, id)}, nil
}

// Detect guesses the site from a product URL's host.
func Detect(input string) (models.Site, bool) {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "kabum.com.br" || strings.HasSuffix(host, ".kabum.com.br"):
		return models.SiteKabum, true
	case host == "amazon.com.br" || strings.HasSuffix(host, ".amazon.com.br"):
		return models.SiteAmazon, true
	}
	return "", false
}

func ProductURL(site models.Site, id string) string {
	switch site {
	case models.SiteKabum:
		return kabumBaseURL + "/produto/" + id
	case models.SiteAmazon:
		return amazonBaseURL + "/dp/" + id
	}
	return ""
}

func SearchURL(site models.Site, query string) (string, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return "", fmt.Errorf("empty search query")
	}

	switch site {
	case models.SiteKabum:
		return kabumBaseURL + "/busca/" + url.PathEscape(strings.Join(terms, "-")), nil
	case models.SiteAmazon:
		return amazonBaseURL + "/s?k=" + url.QueryEscape(strings.Join(terms, " ")), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSite, site)
	}
}

// ExtractASIN accepts a bare ASIN or any Amazon URL carrying one.
func ExtractASIN(input string) string {
	if asinPattern.MatchString(input) {
		return input
	}
	if m := asinPathPattern.FindStringSubmatch(input); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func kabumID(input string) string {
	if kabumIDPattern.MatchString(input) {
		return input
	}
	if m := kabumPathPattern.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return ""
}
