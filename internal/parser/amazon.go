package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/br-price-tracker/internal/models"
)

type amazonPage struct {
	doc *goquery.Document
}

type AmazonParser struct {
	titleSelectors       []string
	imageSelectors       []string
	offscreenSelectors   []string
	priceContainers      []string
	installmentRegions   []string
	strikethroughSelects []string

	installmentPatterns []*regexp.Regexp
	installmentMarker   *regexp.Regexp
	bodyInstallment     *regexp.Regexp
	containerPrice      *regexp.Regexp
	asinPattern         *regexp.Regexp

	cashChain []func(*amazonPage) *float64
}

func NewAmazonParser() *AmazonParser {
	p := &AmazonParser{
		titleSelectors: []string{"#productTitle", `h1[id*="title"]`},
		imageSelectors: []string{"#landingImage", "#imgBlkFront", "#main-image"},
		offscreenSelectors: []string{
			"#corePrice_feature_div .a-price:not(.a-text-price) .a-offscreen",
			"#corePriceDisplay_desktop_feature_div .a-price:not(.a-text-price) .a-offscreen",
			"#apex_desktop .a-price:not(.a-text-price) .a-offscreen",
			"#priceblock_ourprice",
			"#priceblock_dealprice",
			".a-price:not(.a-text-price) .a-offscreen",
		},
		priceContainers: []string{
			"#corePrice_feature_div",
			"#corePriceDisplay_desktop_feature_div",
			"#corePrice_desktop",
			"#apex_desktop",
			"#price",
			"#buybox",
		},
		installmentRegions: []string{
			"#installmentCalculator_feature_div",
			"#best-offer-string-cc",
			"#inemi_feature_div",
			"#corePriceDisplay_desktop_feature_div",
			"#corePrice_feature_div",
		},
		strikethroughSelects: []string{
			".basisPrice .a-offscreen",
			`.a-price.a-text-price[data-a-strike="true"] .a-offscreen`,
			".a-price.a-text-price .a-offscreen",
			"#priceblock_listprice",
			"#listPrice",
			".a-text-strike",
		},
		installmentPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(\d{1,3})\s*x\s*de\s*r\$\s*(\d[\d.]*,\d{2})`),
			regexp.MustCompile(`(?i)em\s+até\s*(\d{1,3})\s*x\s*(?:de\s*)?r\$\s*(\d[\d.]*,\d{2})`),
			regexp.MustCompile(`(?i)(\d{1,3})\s*x\s*r\$\s*(\d[\d.]*,\d{2})`),
		},
		installmentMarker: regexp.MustCompile(`(?i)\d+\s?x`),
		bodyInstallment:   regexp.MustCompile(`(?i)em\s+até\s*\d{1,3}\s*x\s*de\s*r\$\s*\d[\d.]*,\d{2}`),
		containerPrice:    regexp.MustCompile(`R\$\s*(\d[\d.]*,\d{2})`),
		asinPattern:       regexp.MustCompile(`^[A-Z0-9]{10}$`),
	}

	p.cashChain = []func(*amazonPage) *float64{
		p.cashFromOffscreen,
		p.cashFromWholeFraction,
		p.cashFromStructuredData,
		p.cashFromContainerText,
	}
	return p
}

func (p *AmazonParser) ParseProductPage(html string) models.PriceRecord {
	var record models.PriceRecord

	doc := newDocument(html)
	if doc == nil {
		return record
	}
	page := &amazonPage{doc: doc}

	record.Name = p.extractTitle(doc)
	record.Image = p.extractImage(doc)
	record.CashPrice = firstOf(page, p.cashChain...)

	if inst := p.extractInstallments(doc); inst != nil {
		record.InstallmentTotal = inst.Total
		record.InstallmentCount = inst.Count
		record.InstallmentValue = inst.Value
	}

	record.OriginalPrice = p.extractOriginalPrice(doc, record.CashPrice)
	return record
}

func (p *AmazonParser) extractTitle(doc *goquery.Document) *string {
	for _, sel := range p.titleSelectors {
		if title := collapseSpace(doc.Find(sel).First().Text()); title != "" {
			return &title
		}
	}
	return nil
}

func (p *AmazonParser) extractImage(doc *goquery.Document) *string {
	for _, sel := range p.imageSelectors {
		img := doc.Find(sel).First()
		if img.Length() == 0 {
			continue
		}
		if v, ok := img.Attr("data-old-hires"); ok && strings.TrimSpace(v) != "" {
			v = strings.TrimSpace(v)
			return &v
		}
		if v, ok := img.Attr("data-a-dynamic-image"); ok {
			if largest := largestDynamicImage(v); largest != "" {
				return &largest
			}
		}
		if v, ok := img.Attr("src"); ok && strings.TrimSpace(v) != "" {
			v = strings.TrimSpace(v)
			return &v
		}
	}
	return nil
}

// largestDynamicImage picks the biggest rendition out of a
// data-a-dynamic-image map of url to [width, height].
func largestDynamicImage(raw string) string {
	var sizes map[string][]float64
	if err := json.Unmarshal([]byte(raw), &sizes); err != nil {
		return ""
	}
	var (
		best     string
		bestArea float64
	)
	for url, dims := range sizes {
		area := 0.0
		if len(dims) >= 2 {
			area = dims[0] * dims[1]
		}
		if best == "" || area > bestArea || (area == bestArea && url < best) {
			best, bestArea = url, area
		}
	}
	return best
}

func (p *AmazonParser) cashFromOffscreen(page *amazonPage) *float64 {
	for _, sel := range p.offscreenSelectors {
		var found *float64
		page.doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = ToNumberBRL(s.Text())
			return found == nil
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func (p *AmazonParser) cashFromWholeFraction(page *amazonPage) *float64 {
	var found *float64
	page.doc.Find(".a-price-whole").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Closest(".a-text-price").Length() > 0 {
			return true
		}
		whole := onlyDigits(s.Text())
		if whole == "" {
			return true
		}
		fraction := onlyDigits(s.Parent().Find(".a-price-fraction").First().Text())
		if fraction == "" {
			fraction = "00"
		}
		found = ToNumberBRL(whole + "," + fraction)
		return found == nil
	})
	return found
}

func (p *AmazonParser) cashFromStructuredData(page *amazonPage) *float64 {
	if price := extractProductMeta(page.doc).Price; price != nil {
		return price
	}
	for _, sel := range []string{"#twister-plus-price-data-price", "#attach-base-product-price"} {
		if v, ok := page.doc.Find(sel).First().Attr("value"); ok {
			if price := jsonNumber(v); price != nil {
				return price
			}
		}
	}
	return nil
}

func (p *AmazonParser) cashFromContainerText(page *amazonPage) *float64 {
	for _, sel := range p.priceContainers {
		text := collapseSpace(page.doc.Find(sel).Text())
		if m := p.containerPrice.FindStringSubmatch(text); m != nil {
			if v := ToNumberBRL(m[1]); v != nil {
				return v
			}
		}
	}
	return nil
}

func (p *AmazonParser) extractInstallments(doc *goquery.Document) *installments {
	text := p.installmentText(doc)
	if text == "" {
		return nil
	}
	for _, pattern := range p.installmentPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if inst := newInstallments(m[1], m[2]); inst != nil {
				return inst
			}
		}
	}
	return nil
}

// installmentText returns the first prioritized region mentioning an
// installment count, falling back to an "em até" phrase anywhere in the body.
func (p *AmazonParser) installmentText(doc *goquery.Document) string {
	for _, sel := range p.installmentRegions {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := collapseSpace(s.Text()); p.installmentMarker.MatchString(text) {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return p.bodyInstallment.FindString(collapseSpace(body.Text()))
}

// extractOriginalPrice accepts the first strikethrough price above the cash
// price, or the first one at all when no cash price is known.
func (p *AmazonParser) extractOriginalPrice(doc *goquery.Document, cash *float64) *float64 {
	for _, sel := range p.strikethroughSelects {
		var found *float64
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v := ToNumberBRL(s.Text())
			if v != nil && (cash == nil || *v > *cash) {
				found = v
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func (p *AmazonParser) ParseSearchResultsPage(html string) []models.SearchResult {
	results := newResultSet(MaxSearchResults)

	doc := newDocument(html)
	if doc == nil {
		return results.list()
	}

	doc.Find(`[data-component-type="s-search-result"][data-asin]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		asin := strings.TrimSpace(s.AttrOr("data-asin", ""))
		if !p.asinPattern.MatchString(asin) {
			return true
		}
		results.add(models.SearchResult{
			ID:    asin,
			Name:  amazonResultName(s),
			Image: imageSource(s.Find("img.s-image").First()),
		})
		return !results.full()
	})

	return results.list()
}

func amazonResultName(s *goquery.Selection) string {
	for _, sel := range []string{"h2 a span", "h2 span", "h2"} {
		if name := collapseSpace(s.Find(sel).First().Text()); name != "" {
			return name
		}
	}
	if label, ok := s.Find("h2").First().Attr("aria-label"); ok {
		return collapseSpace(label)
	}
	return ""
}
