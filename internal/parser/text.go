package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// newDocument never fails on string input in practice; a nil document is
// treated by callers as an empty page.
func newDocument(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return doc
}

// normalizedText returns the visible body text: scripts and styles removed,
// Unicode NFC composed, whitespace collapsed and lower-cased.
func normalizedText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.ToLower(collapseSpace(norm.NFC.String(body.Text())))
}

func attrOrText(s *goquery.Selection, attrs ...string) string {
	for _, attr := range attrs {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return collapseSpace(s.Text())
}

func metaContent(doc *goquery.Document, selectors ...string) *string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return &v
			}
		}
	}
	return nil
}

func imageSource(img *goquery.Selection) *string {
	for _, attr := range []string{"src", "data-src", "data-old-hires"} {
		if v, ok := img.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return &v
			}
		}
	}
	return nil
}
