package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sviatoslavgladyshev/oyola-ai/internal/models"
)

// ========================================
// Classification Tests
// ========================================

func TestIsIndex(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{
			"search page",
			"https://www.realtor.com/realestateandhomes-search/Austin_TX",
			true,
		},
		{
			"detail page",
			"https://www.realtor.com/realestateandhomes-detail/123-Main-St_Austin_TX_78746_M12345",
			false,
		},
		{
			"browse page without search segment",
			"https://www.realtor.com/realestateandhomes/Texas",
			true,
		},
		{
			"unrelated page",
			"https://www.realtor.com/news/trends",
			false,
		},
		{
			"search segment inside query string",
			"https://www.realtor.com/foo?next=/realestateandhomes-search/Miami_FL",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIndex(tt.url); got != tt.want {
				t.Errorf("IsIndex(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// ========================================
// Discovery Tests
// ========================================

func detailHref(i int) string {
	return fmt.Sprintf("https://www.realtor.com/realestateandhomes-detail/%d-Oak-St_Austin_TX_78746_M%d", i, i)
}

func TestDetailLinks_FiltersAndDedupes(t *testing.T) {
	html := `<html><body>
		<a href="` + detailHref(1) + `">one</a>
		<a href="` + detailHref(1) + `">duplicate</a>
		<a href="https://www.realtor.com/realestateandhomes-search/Austin_TX">search</a>
		<a href="https://other.example/realestateandhomes-detail/off-site_M9">off-site</a>
		<a href="` + detailHref(2) + `">two</a>
		<a>no href</a>
	</body></html>`

	links := DetailLinks(html)
	if len(links) != 2 {
		t.Fatalf("links = %v, want 2 entries", links)
	}
	if links[0] != detailHref(1) || links[1] != detailHref(2) {
		t.Errorf("links = %v, want document order", links)
	}
}

func TestDetailLinks_CapsAtTen(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, `<a href=%q>l</a>`, detailHref(i))
	}
	b.WriteString("</body></html>")

	links := DetailLinks(b.String())
	if len(links) != MaxDiscoveryLinks {
		t.Fatalf("links = %d, want capped at %d", len(links), MaxDiscoveryLinks)
	}
	for i, l := range links {
		if l != detailHref(i) {
			t.Errorf("links[%d] = %q, want %q", i, l, detailHref(i))
		}
	}
}

func TestDetailLinks_NoAnchors(t *testing.T) {
	if links := DetailLinks("<html><body><p>empty search results</p></body></html>"); len(links) != 0 {
		t.Errorf("links = %v, want none", links)
	}
}

// ========================================
// Rules Tests
// ========================================

func TestRules_JSONLDObject(t *testing.T) {
	html := `<html><head>
		<title>123 Main St, Austin, TX 78746 | realtor.com</title>
		<script type="application/ld+json">{
			"@type": "Product",
			"name": "123 Main St",
			"address": {
				"streetAddress": "123 Main St",
				"addressLocality": "Austin",
				"addressRegion": "TX",
				"postalCode": "78746"
			},
			"floorSize": {"value": 2450},
			"numberOfRooms": 4
		}</script>
	</head><body></body></html>`

	fields := Rules(html)

	if fields["address_street"] != "123 Main St" {
		t.Errorf("address_street = %v", fields["address_street"])
	}
	if fields["address_city"] != "Austin" {
		t.Errorf("address_city = %v", fields["address_city"])
	}
	if fields["address_state"] != "TX" {
		t.Errorf("address_state = %v", fields["address_state"])
	}
	if fields["address_zip"] != "78746" {
		t.Errorf("address_zip = %v", fields["address_zip"])
	}
	if fields["sqft"] != 2450.0 {
		t.Errorf("sqft = %v, want 2450", fields["sqft"])
	}
	if fields["beds"] != 4.0 {
		t.Errorf("beds = %v, want 4", fields["beds"])
	}
	// The title arrived first, so name must not overwrite the description.
	if fields["property_description"] != "123 Main St, Austin, TX 78746 | realtor.com" {
		t.Errorf("property_description = %v, want title text", fields["property_description"])
	}
}

func TestRules_NameSeedsDescriptionWhenNoTitle(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{"name": "456 Elm St listing"}</script>
	</head><body></body></html>`

	fields := Rules(html)
	if fields["property_description"] != "456 Elm St listing" {
		t.Errorf("property_description = %v, want name fallback", fields["property_description"])
	}
}

func TestRules_ArrayResidenceOverridesAddress(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{
			"address": {"streetAddress": "1 Stale Rd", "addressLocality": "Oldtown"}
		}</script>
		<script type="application/ld+json">[
			{"@type": "BreadcrumbList"},
			{"@type": "SingleFamilyResidence",
			 "address": {
				"streetAddress": "9 Fresh Ave",
				"addressLocality": "Miami",
				"addressRegion": "FL",
				"postalCode": "33139"
			}}
		]</script>
	</head><body></body></html>`

	fields := Rules(html)
	if fields["address_street"] != "9 Fresh Ave" {
		t.Errorf("address_street = %v, want residence override", fields["address_street"])
	}
	if fields["address_city"] != "Miami" {
		t.Errorf("address_city = %v, want Miami", fields["address_city"])
	}
}

func TestRules_MalformedBlockSkipped(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{not valid json</script>
		<script type="application/ld+json">{"numberOfRooms": 3}</script>
	</head><body></body></html>`

	fields := Rules(html)
	if fields["beds"] != 3.0 {
		t.Errorf("beds = %v, want 3 from the valid block", fields["beds"])
	}
}

func TestRules_EmptyPage(t *testing.T) {
	fields := Rules("<html><head></head><body></body></html>")

	if fields.AnyPopulated() {
		t.Errorf("fields = %v, want nothing populated", fields)
	}
	for _, name := range models.FieldNames {
		if _, ok := fields[name]; !ok {
			t.Errorf("schema key %q missing", name)
		}
	}
}
