package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// MaxLeadCount caps a single acquisition request.
const MaxLeadCount = 500

// ErrInvalidCriteria is returned when acquisition criteria fail validation.
var ErrInvalidCriteria = eris.New("invalid acquisition criteria")

// RevenueRange bounds organization revenue in whole dollars. Either end may be nil.
type RevenueRange struct {
	Min *int64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *int64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Requirements lists the contact channels a lead must expose to be kept.
type Requirements struct {
	Email  bool `json:"email,omitempty" yaml:"email,omitempty"`
	Phone  bool `json:"phone,omitempty" yaml:"phone,omitempty"`
	Social bool `json:"social,omitempty" yaml:"social,omitempty"`
}

// Any reports whether at least one requirement is set.
func (r Requirements) Any() bool {
	return r.Email || r.Phone || r.Social
}

// Criteria is the user-authored targeting for one acquisition. Every facet
// is optional; only LeadCount must be set.
type Criteria struct {
	Industries   []string      `json:"industries,omitempty" yaml:"industries,omitempty"`
	Roles        []string      `json:"roles,omitempty" yaml:"roles,omitempty"`
	CompanySizes []string      `json:"company_sizes,omitempty" yaml:"company_sizes,omitempty"`
	Countries    []string      `json:"countries,omitempty" yaml:"countries,omitempty"`
	States       []string      `json:"states,omitempty" yaml:"states,omitempty"`
	Cities       []string      `json:"cities,omitempty" yaml:"cities,omitempty"`
	Keywords     []string      `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Technologies []string      `json:"technologies,omitempty" yaml:"technologies,omitempty"`
	Revenue      *RevenueRange `json:"revenue,omitempty" yaml:"revenue,omitempty"`
	LeadCount    int           `json:"lead_count" yaml:"lead_count"`
	Requirements Requirements  `json:"requirements" yaml:"requirements"`
}

// Validate checks the lead count bounds and the revenue range ordering.
func (c Criteria) Validate() error {
	if c.LeadCount < 1 {
		return eris.Wrap(ErrInvalidCriteria, "lead count must be at least 1")
	}
	if c.LeadCount > MaxLeadCount {
		return eris.Wrapf(ErrInvalidCriteria, "lead count must be at most %d", MaxLeadCount)
	}
	if c.Revenue != nil && c.Revenue.Min != nil && c.Revenue.Max != nil && *c.Revenue.Min > *c.Revenue.Max {
		return eris.Wrap(ErrInvalidCriteria, "revenue min exceeds max")
	}
	return nil
}

// Normalized returns a copy with every facet trimmed and deduplicated
// case-insensitively. First occurrence order is preserved.
func (c Criteria) Normalized() Criteria {
	out := c
	out.Industries = cleanList(c.Industries)
	out.Roles = cleanList(c.Roles)
	out.CompanySizes = cleanList(c.CompanySizes)
	out.Countries = cleanList(c.Countries)
	out.States = cleanList(c.States)
	out.Cities = cleanList(c.Cities)
	out.Keywords = cleanList(c.Keywords)
	out.Technologies = cleanList(c.Technologies)
	if c.Revenue != nil {
		r := *c.Revenue
		out.Revenue = &r
	}
	return out
}

// HasFacets reports whether any targeting facet is populated.
func (c Criteria) HasFacets() bool {
	return len(c.Industries) > 0 || len(c.Roles) > 0 || len(c.CompanySizes) > 0 ||
		len(c.Countries) > 0 || len(c.States) > 0 || len(c.Cities) > 0 ||
		len(c.Keywords) > 0 || len(c.Technologies) > 0 ||
		(c.Revenue != nil && (c.Revenue.Min != nil || c.Revenue.Max != nil))
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
