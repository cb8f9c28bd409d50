package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/br-price-tracker/internal/models"
)

const (
	cashBeforeBias = 0.5
	// originalPriceHead is how many characters of the normalized text the
	// last-resort original price scan looks at.
	originalPriceHead = 2000
)

const amountGroup = `(\d[\d.]*(?:,\d{1,2})?)`

type installments struct {
	Total *float64
	Count *int
	Value *float64
}

type kabumPage struct {
	doc     *goquery.Document
	text    string
	index   runeIndex
	amounts []amount
	meta    productMeta
}

type KabumParser struct {
	porAVistaPattern   *regexp.Regexp
	combinedPattern    *regexp.Regexp
	emAtePattern       *regexp.Regexp
	listPricePattern   *regexp.Regexp
	productPathPattern *regexp.Regexp

	cashAnchors         []string
	installmentKeywords []string

	cashProximity        Proximity
	installmentProximity Proximity

	cashChain        []func(*kabumPage) *float64
	installmentChain []func(*kabumPage) *installments
	originalChain    []func(*kabumPage) *float64
}

func NewKabumParser() *KabumParser {
	k := &KabumParser{
		porAVistaPattern:   regexp.MustCompile(`por:?\s*r\$\s*` + amountGroup + `\s*(?:à|a)\s+vista`),
		combinedPattern:    regexp.MustCompile(`r\$\s*` + amountGroup + `\s*em\s+até\s*(\d{1,3})\s*x\s*de\s*r\$\s*` + amountGroup),
		emAtePattern:       regexp.MustCompile(`em\s+até\s*(\d{1,3})\s*x\s*de\s*r\$\s*` + amountGroup),
		listPricePattern:   regexp.MustCompile(`\bde:\s*r\$\s*` + amountGroup),
		productPathPattern: regexp.MustCompile(`/produto/(\d+)`),

		cashAnchors:         []string{"à vista no pix", "à vista", "a vista", "pix"},
		installmentKeywords: []string{"parcelad", "sem juros", "em até", "cartão", "crédito"},

		cashProximity:        Proximity{Window: Window{Before: 300, After: 320}, BeforeBias: cashBeforeBias},
		installmentProximity: Proximity{Window: Window{Before: 260, After: 300}},
	}

	k.cashChain = []func(*kabumPage) *float64{
		k.cashFromPorAVista,
		k.cashNearAnchor,
	}
	k.installmentChain = []func(*kabumPage) *installments{
		k.installmentsCombined,
		k.installmentsEmAte,
		k.installmentsNearKeyword,
	}
	k.originalChain = []func(*kabumPage) *float64{
		k.originalFromStrikethrough,
		k.originalFromListPrice,
		k.originalFromHead,
	}
	return k
}

func (k *KabumParser) ParseProductPage(html string) models.PriceRecord {
	var record models.PriceRecord

	doc := newDocument(html)
	if doc == nil {
		return record
	}

	page := &kabumPage{doc: doc, meta: extractProductMeta(doc)}
	page.text = normalizedText(doc)
	page.index = newRuneIndex(page.text)
	page.amounts = findAmounts(page.text, page.index)

	record.Name = page.meta.Name
	if record.Name == nil {
		record.Name = metaContent(doc, `meta[property="og:title"]`, `meta[name="og:title"]`)
	}
	record.Image = page.meta.Image
	if record.Image == nil {
		record.Image = metaContent(doc, `meta[property="og:image"]`, `meta[name="og:image"]`)
	}

	record.CashPrice = firstOf(page, k.cashChain...)
	if inst := firstOf(page, k.installmentChain...); inst != nil {
		record.InstallmentTotal = inst.Total
		record.InstallmentCount = inst.Count
		record.InstallmentValue = inst.Value
	}
	record.OriginalPrice = firstOf(page, k.originalChain...)

	if record.CashPrice == nil && record.InstallmentTotal == nil && page.meta.Price != nil {
		cash, total := *page.meta.Price, *page.meta.Price
		record.CashPrice = &cash
		record.InstallmentTotal = &total
	}

	return record
}

func (k *KabumParser) cashFromPorAVista(p *kabumPage) *float64 {
	m := k.porAVistaPattern.FindStringSubmatch(p.text)
	if m == nil {
		return nil
	}
	return ToNumberBRL(m[1])
}

// cashNearAnchor uses only the highest priority anchor present on the page.
func (k *KabumParser) cashNearAnchor(p *kabumPage) *float64 {
	for _, anchor := range k.cashAnchors {
		i := indexWord(p.text, anchor)
		if i < 0 {
			continue
		}
		start, end := p.index.span(i, i+len(anchor))
		return k.cashProximity.Nearest(p.amounts, start, end)
	}
	return nil
}

func (k *KabumParser) installmentsCombined(p *kabumPage) *installments {
	m := k.combinedPattern.FindStringSubmatch(p.text)
	if m == nil {
		return nil
	}
	total := ToNumberBRL(m[1])
	count := parseCount(m[2])
	value := ToNumberBRL(m[3])
	if total == nil || count == nil || value == nil {
		return nil
	}
	return &installments{Total: total, Count: count, Value: value}
}

func (k *KabumParser) installmentsEmAte(p *kabumPage) *installments {
	m := k.emAtePattern.FindStringSubmatch(p.text)
	if m == nil {
		return nil
	}
	return newInstallments(m[1], m[2])
}

// installmentsNearKeyword only recovers a total: the largest amount around the
// earliest installment keyword on the page.
func (k *KabumParser) installmentsNearKeyword(p *kabumPage) *installments {
	start, end := -1, -1
	for _, keyword := range k.installmentKeywords {
		i := strings.Index(p.text, keyword)
		if i >= 0 && (start < 0 || i < start) {
			start, end = i, i+len(keyword)
		}
	}
	if start < 0 {
		return nil
	}
	start, end = p.index.span(start, end)
	total := k.installmentProximity.Max(p.amounts, start, end)
	if total == nil {
		return nil
	}
	return &installments{Total: total}
}

func (k *KabumParser) originalFromStrikethrough(p *kabumPage) *float64 {
	var best *float64
	p.doc.Find("del, s").Each(func(_ int, s *goquery.Selection) {
		v := ToNumberBRL(s.Text())
		if v != nil && (best == nil || *v > *best) {
			best = v
		}
	})
	return best
}

func (k *KabumParser) originalFromListPrice(p *kabumPage) *float64 {
	m := k.listPricePattern.FindStringSubmatch(p.text)
	if m == nil {
		return nil
	}
	return ToNumberBRL(m[1])
}

func (k *KabumParser) originalFromHead(p *kabumPage) *float64 {
	var best *float64
	for _, a := range p.amounts {
		if a.End > originalPriceHead {
			break
		}
		if best == nil || a.Value > *best {
			v := a.Value
			best = &v
		}
	}
	return best
}

func (k *KabumParser) ParseSearchResultsPage(html string) []models.SearchResult {
	results := newResultSet(MaxSearchResults)

	if doc := newDocument(html); doc != nil {
		doc.Find(`a[href*="/produto/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			m := k.productPathPattern.FindStringSubmatch(href)
			if m == nil {
				return true
			}
			results.add(models.SearchResult{ID: m[1], Name: kabumCardName(a), Image: kabumCardImage(a)})
			return !results.full()
		})

		for _, item := range extractItemList(doc) {
			m := k.productPathPattern.FindStringSubmatch(item.URL)
			if m == nil {
				continue
			}
			results.add(models.SearchResult{ID: m[1], Name: item.Name, Image: item.Image})
		}
	}

	if results.empty() {
		for _, m := range k.productPathPattern.FindAllStringSubmatch(html, -1) {
			results.add(models.SearchResult{ID: m[1]})
		}
	}

	return results.list()
}

const kabumCardSelector = `article, li, [class*="productCard"], [class*="product-card"], [class*="card"]`

func kabumCardName(a *goquery.Selection) string {
	if name := attrOrText(a, "title", "aria-label"); name != "" {
		return name
	}
	card := a.Closest(kabumCardSelector)
	if card.Length() == 0 {
		return ""
	}
	heading := card.Find(`h2, h3, [class*="nameCard"], [class*="name"]`).First()
	if heading.Length() == 0 {
		return ""
	}
	return attrOrText(heading, "title")
}

func kabumCardImage(a *goquery.Selection) *string {
	if img := a.Find("img").First(); img.Length() > 0 {
		if src := imageSource(img); src != nil {
			return src
		}
	}
	if img := a.Closest(kabumCardSelector).Find("img").First(); img.Length() > 0 {
		return imageSource(img)
	}
	return nil
}
