package acquire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/sells-group/prospect-engine/internal/model"
)

// KeyPrefix namespaces acquisition cache keys. Bump the version when the
// cached payload or the fingerprint inputs change.
const KeyPrefix = "leads:v1:"

type fingerprintInput struct {
	Industries   []string            `json:"industries"`
	Roles        []string            `json:"roles"`
	CompanySizes []string            `json:"company_sizes"`
	Countries    []string            `json:"countries"`
	States       []string            `json:"states"`
	Cities       []string            `json:"cities"`
	Keywords     []string            `json:"keywords"`
	Technologies []string            `json:"technologies"`
	Revenue      *model.RevenueRange `json:"revenue"`
	LeadCount    int                 `json:"lead_count"`
	Requirements model.Requirements  `json:"requirements"`
}

// Fingerprint returns a fixed-length ASCII cache key for c. Facet order and
// letter case do not affect the key.
func Fingerprint(c model.Criteria) string {
	c = c.Normalized()
	in := fingerprintInput{
		Industries:   canonical(c.Industries),
		Roles:        canonical(c.Roles),
		CompanySizes: canonical(c.CompanySizes),
		Countries:    canonical(c.Countries),
		States:       canonical(c.States),
		Cities:       canonical(c.Cities),
		Keywords:     canonical(c.Keywords),
		Technologies: canonical(c.Technologies),
		LeadCount:    c.LeadCount,
		Requirements: c.Requirements,
	}
	if c.Revenue != nil && (c.Revenue.Min != nil || c.Revenue.Max != nil) {
		in.Revenue = c.Revenue
	}

	// Marshal of a struct with string slices cannot fail.
	b, _ := json.Marshal(in)
	sum := sha256.Sum256(b)
	return KeyPrefix + hex.EncodeToString(sum[:])
}

func canonical(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
