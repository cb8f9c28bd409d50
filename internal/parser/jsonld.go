package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// productMeta is what a schema.org Product block tells us about a page.
type productMeta struct {
	Name  *string
	Image *string
	Price *float64
}

type listItem struct {
	URL   string
	Name  string
	Image *string
}

func ldJSONBlocks(doc *goquery.Document) []any {
	var blocks []any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return
		}
		blocks = append(blocks, v)
	})
	return blocks
}

// walkJSON visits every object nested anywhere inside v.
func walkJSON(v any, visit func(map[string]any) bool) bool {
	switch t := v.(type) {
	case map[string]any:
		if !visit(t) {
			return false
		}
		for _, child := range t {
			if !walkJSON(child, visit) {
				return false
			}
		}
	case []any:
		for _, child := range t {
			if !walkJSON(child, visit) {
				return false
			}
		}
	}
	return true
}

func hasType(obj map[string]any, want string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func extractProductMeta(doc *goquery.Document) productMeta {
	var meta productMeta
	for _, block := range ldJSONBlocks(doc) {
		walkJSON(block, func(obj map[string]any) bool {
			if !hasType(obj, "Product") {
				return true
			}
			if meta.Name == nil {
				meta.Name = jsonString(obj["name"])
			}
			if meta.Image == nil {
				meta.Image = jsonImage(obj["image"])
			}
			if meta.Price == nil {
				meta.Price = offerPrice(obj["offers"])
			}
			return meta.Name == nil || meta.Price == nil
		})
		if meta.Name != nil && meta.Price != nil {
			break
		}
	}
	return meta
}

func extractItemList(doc *goquery.Document) []listItem {
	var items []listItem
	for _, block := range ldJSONBlocks(doc) {
		walkJSON(block, func(obj map[string]any) bool {
			if !hasType(obj, "ItemList") {
				return true
			}
			elements, _ := obj["itemListElement"].([]any)
			for _, el := range elements {
				if item, ok := toListItem(el); ok {
					items = append(items, item)
				}
			}
			return true
		})
	}
	return items
}

func toListItem(v any) (listItem, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return listItem{}, false
	}
	if nested, ok := obj["item"].(map[string]any); ok {
		obj = nested
	} else if url, ok := obj["item"].(string); ok {
		return listItem{URL: url}, true
	}

	item := listItem{Image: jsonImage(obj["image"])}
	if s := jsonString(obj["url"]); s != nil {
		item.URL = *s
	} else if s := jsonString(obj["@id"]); s != nil {
		item.URL = *s
	}
	if s := jsonString(obj["name"]); s != nil {
		item.Name = *s
	}
	return item, item.URL != ""
}

func jsonString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = collapseSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func jsonImage(v any) *string {
	switch t := v.(type) {
	case string:
		return jsonString(t)
	case []any:
		for _, el := range t {
			if s := jsonImage(el); s != nil {
				return s
			}
		}
	case map[string]any:
		if s := jsonString(t["url"]); s != nil {
			return s
		}
		return jsonString(t["contentUrl"])
	}
	return nil
}

func offerPrice(v any) *float64 {
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if p := offerPrice(el); p != nil {
				return p
			}
		}
	case map[string]any:
		for _, key := range []string{"price", "lowPrice"} {
			if p := jsonNumber(t[key]); p != nil {
				return p
			}
		}
		if spec, ok := t["priceSpecification"]; ok {
			return offerPrice(spec)
		}
	}
	return nil
}

func jsonNumber(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return positive(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return positive(f)
		}
		return ToNumberBRL(t)
	}
	return nil
}
