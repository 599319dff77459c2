// Package extract classifies listing-site URLs and parses fetched pages:
// index pages yield further detail URLs, detail pages yield listing fields.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/models"
)

const (
	siteHost       = "realtor.com"
	searchSegment  = "/realestateandhomes-search/"
	listingSegment = "/realestateandhomes"
	detailSegment  = "/realestateandhomes-detail/"
)

// MaxDiscoveryLinks bounds fan-out per index page.
const MaxDiscoveryLinks = 10

// IsIndex reports whether the URL is a search/browse page. The substring test
// is deliberate and must not be reworked heuristically; misclassification
// pressure is surfaced through metrics instead.
func IsIndex(rawURL string) bool {
	if strings.Contains(rawURL, searchSegment) {
		return true
	}
	return strings.Contains(rawURL, listingSegment) && !strings.Contains(rawURL, "-detail/")
}

// DetailLinks scans index-page HTML for anchors pointing at listing detail
// pages, deduplicated by href within the page and capped at
// MaxDiscoveryLinks.
func DetailLinks(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if href == "" || !strings.Contains(href, siteHost) || !strings.Contains(href, detailSegment) {
			return true
		}
		if seen[href] {
			return true
		}
		seen[href] = true
		links = append(links, href)
		return len(links) < MaxDiscoveryLinks
	})
	return links
}

// Rules runs the rules pass over detail-page HTML: the <title> element seeds
// the description, then every JSON-LD block is parsed tolerantly for known
// schema.org fields. Malformed blocks are skipped.
func Rules(html string) models.Fields {
	fields := models.NewFields()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fields
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		fields["property_description"] = title
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return
		}
		switch obj := v.(type) {
		case map[string]any:
			applyObject(fields, obj)
		case []any:
			for _, item := range obj {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				// SingleFamilyResidence entries carry the authoritative address.
				if t, _ := m["@type"].(string); t == "SingleFamilyResidence" {
					applyAddress(fields, m["address"])
				}
			}
		}
	})

	return fields
}

func applyObject(fields models.Fields, obj map[string]any) {
	if addr, ok := obj["address"]; ok {
		applyAddress(fields, addr)
	}
	if fs, ok := obj["floorSize"].(map[string]any); ok {
		fields["sqft"] = fs["value"]
	}
	if v, ok := obj["numberOfRooms"]; ok {
		fields["beds"] = v
	}
	if v, ok := obj["name"]; ok && !models.Truthy(fields["property_description"]) {
		fields["property_description"] = v
	}
}

func applyAddress(fields models.Fields, addr any) {
	m, ok := addr.(map[string]any)
	if !ok {
		return
	}
	fields["address_street"] = m["streetAddress"]
	fields["address_city"] = m["addressLocality"]
	fields["address_state"] = m["addressRegion"]
	fields["address_zip"] = m["postalCode"]
}
