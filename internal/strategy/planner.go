// Package strategy turns acquisition criteria into an ordered list of
// provider queries, from the most specific to the most permissive.
package strategy

import (
	"slices"
	"strings"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/pkg/apollo"
)

// Shape names, in evaluation order.
const (
	Complex    = "complex"
	Simplified = "simplified"
	Minimal    = "minimal"
	Broad      = "broad"
)

const (
	complexTitleCap       = 5
	complexLocationCap    = 4
	complexIndustryCap    = 3
	simplifiedTitleCap    = 3
	simplifiedLocationCap = 2
	simplifiedIndustryCap = 2

	// Size filters survive only on narrow searches.
	sizeFilterMaxIndustries = 2
	sizeFilterMaxRoles      = 2
)

// BroadTitles is the last-resort query: generic senior titles that almost
// always return someone.
var BroadTitles = []string{
	"CEO",
	"Chief Executive Officer",
	"President",
	"Founder",
	"Owner",
	"Vice President",
	"Director",
	"Manager",
}

// Shape is one concrete provider query derived from criteria.
type Shape struct {
	Name    string
	Request apollo.SearchRequest
}

// Plan returns the shapes to try in order. Shapes that carry no facet, or
// repeat an earlier shape's query, are dropped. The broad shape is always last.
func Plan(c model.Criteria, pageLimit int) []Shape {
	c = c.Normalized()
	perPage := pageSize(c.LeadCount, pageLimit)

	candidates := []Shape{
		{Name: Complex, Request: complexRequest(c)},
		{Name: Simplified, Request: simplifiedRequest(c)},
		{Name: Minimal, Request: minimalRequest(c)},
	}

	shapes := make([]Shape, 0, 4)
	for _, s := range candidates {
		if isEmpty(s.Request) || containsRequest(shapes, s.Request) {
			continue
		}
		shapes = append(shapes, s)
	}
	shapes = append(shapes, Shape{Name: Broad, Request: apollo.SearchRequest{PersonTitles: slices.Clone(BroadTitles)}})

	for i := range shapes {
		shapes[i].Request.PerPage = perPage
		shapes[i].Request.Page = 1
		shapes[i].Request.IncludeSimilarTitles = true
	}
	return shapes
}

func pageSize(leadCount, pageLimit int) int {
	if pageLimit <= 0 || pageLimit > apollo.MaxPerPage {
		pageLimit = apollo.MaxPerPage
	}
	if leadCount <= 0 {
		return pageLimit
	}
	return min(leadCount, pageLimit)
}

func complexRequest(c model.Criteria) apollo.SearchRequest {
	req := apollo.SearchRequest{
		PersonTitles:                  head(c.Roles, complexTitleCap),
		PersonLocations:               Locations(c, complexLocationCap),
		CurrentlyUsingAnyOfTechnology: slices.Clone(c.Technologies),
	}

	var keywords []string
	switch len(c.Industries) {
	case 0:
	case 1:
		req.QOrganizationKeywordTags = []string{c.Industries[0]}
	default:
		keywords = append(keywords, joinOR(head(c.Industries, complexIndustryCap)))
	}
	keywords = append(keywords, c.Keywords...)
	req.QKeywords = strings.Join(keywords, " ")

	if len(c.Industries) <= sizeFilterMaxIndustries && len(c.Roles) <= sizeFilterMaxRoles {
		req.OrganizationNumEmployeesRange = EmployeeRanges(c.CompanySizes)
	}

	if c.Revenue != nil && (c.Revenue.Min != nil || c.Revenue.Max != nil) {
		req.RevenueRange = &apollo.RevenueRange{Min: c.Revenue.Min, Max: c.Revenue.Max}
	}
	return req
}

func simplifiedRequest(c model.Criteria) apollo.SearchRequest {
	return apollo.SearchRequest{
		PersonTitles:    head(c.Roles, simplifiedTitleCap),
		PersonLocations: Locations(c, simplifiedLocationCap),
		QKeywords:       joinOR(head(c.Industries, simplifiedIndustryCap)),
	}
}

// minimalRequest keeps exactly one facet: role, then industry, country,
// state, city. Only the first value of the chosen facet is used.
func minimalRequest(c model.Criteria) apollo.SearchRequest {
	switch {
	case len(c.Roles) > 0:
		return apollo.SearchRequest{PersonTitles: []string{c.Roles[0]}}
	case len(c.Industries) > 0:
		return apollo.SearchRequest{QKeywords: c.Industries[0]}
	case len(c.Countries) > 0:
		return apollo.SearchRequest{PersonLocations: []string{c.Countries[0]}}
	case len(c.States) > 0:
		return apollo.SearchRequest{PersonLocations: []string{c.States[0]}}
	case len(c.Cities) > 0:
		return apollo.SearchRequest{PersonLocations: []string{c.Cities[0]}}
	}
	return apollo.SearchRequest{}
}

// Locations joins city, state and country into "City, State, Country"
// strings using whichever parts are present, crossing every combination
// until limit strings are produced.
func Locations(c model.Criteria, limit int) []string {
	parts := make([][]string, 0, 3)
	for _, p := range [][]string{c.Cities, c.States, c.Countries} {
		if len(p) > 0 {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 || limit <= 0 {
		return nil
	}

	combos := []string{""}
	for _, values := range parts {
		next := make([]string, 0, len(combos)*len(values))
		for _, prefix := range combos {
			for _, v := range values {
				if prefix == "" {
					next = append(next, v)
				} else {
					next = append(next, prefix+", "+v)
				}
				if len(next) == limit {
					break
				}
			}
			if len(next) == limit {
				break
			}
		}
		combos = next
	}
	return combos
}

// EmployeeRanges converts size buckets such as "11-50" or "1000+" into the
// provider's "min,max" range syntax. Unparseable buckets are skipped.
func EmployeeRanges(buckets []string) []string {
	var out []string
	for _, b := range buckets {
		b = strings.ReplaceAll(strings.TrimSpace(b), " ", "")
		switch {
		case strings.HasSuffix(b, "+"):
			lo := strings.TrimSuffix(b, "+")
			if isDigits(lo) {
				out = append(out, lo+",")
			}
		case strings.Contains(b, "-"):
			lo, hi, _ := strings.Cut(b, "-")
			if isDigits(lo) && isDigits(hi) {
				out = append(out, lo+","+hi)
			}
		case strings.Contains(b, ","):
			out = append(out, b)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func joinOR(values []string) string {
	return strings.Join(values, " OR ")
}

func head(values []string, n int) []string {
	if len(values) == 0 {
		return nil
	}
	return slices.Clone(values[:min(n, len(values))])
}

func isEmpty(r apollo.SearchRequest) bool {
	return len(r.PersonTitles) == 0 && len(r.PersonLocations) == 0 &&
		r.QKeywords == "" && len(r.QOrganizationKeywordTags) == 0 &&
		len(r.OrganizationNumEmployeesRange) == 0 &&
		len(r.CurrentlyUsingAnyOfTechnology) == 0 && r.RevenueRange == nil
}

func containsRequest(shapes []Shape, r apollo.SearchRequest) bool {
	for _, s := range shapes {
		if sameQuery(s.Request, r) {
			return true
		}
	}
	return false
}

func sameQuery(a, b apollo.SearchRequest) bool {
	return slices.Equal(a.PersonTitles, b.PersonTitles) &&
		slices.Equal(a.PersonLocations, b.PersonLocations) &&
		a.QKeywords == b.QKeywords &&
		slices.Equal(a.QOrganizationKeywordTags, b.QOrganizationKeywordTags) &&
		slices.Equal(a.OrganizationNumEmployeesRange, b.OrganizationNumEmployeesRange) &&
		slices.Equal(a.CurrentlyUsingAnyOfTechnology, b.CurrentlyUsingAnyOfTechnology) &&
		sameRevenue(a.RevenueRange, b.RevenueRange)
}

func sameRevenue(a, b *apollo.RevenueRange) bool {
	if a == nil || b == nil {
		return a == b
	}
	return eqPtr(a.Min, b.Min) && eqPtr(a.Max, b.Max)
}

func eqPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
