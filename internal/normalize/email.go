package normalize

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/prospect-engine/pkg/apollo"
)

// Locked or redacted contacts come back with one of these local parts or
// domains in place of a real address. Matching is exact.
var (
	placeholderLocalParts = map[string]bool{
		"email_not_unlocked": true,
		"not_unlocked":       true,
		"redacted":           true,
		"noemail":            true,
		"no-email":           true,
	}
	placeholderDomains = map[string]bool{
		"domain.com":  true,
		"example.com": true,
		"example.org": true,
		"example.net": true,
	}
)

// providerEmail returns the lower-cased address and whether it is usable.
func providerEmail(raw string) (string, bool) {
	e := strings.ToLower(strings.TrimSpace(raw))
	if e == "" || strings.Count(e, "@") != 1 || strings.HasPrefix(e, "@") || strings.HasSuffix(e, "@") {
		return "", false
	}
	if IsPlaceholderEmail(e) {
		return "", false
	}
	return e, true
}

// IsPlaceholderEmail reports whether e is a known locked/redacted sentinel.
func IsPlaceholderEmail(e string) bool {
	local, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(e)), "@")
	if !ok {
		return false
	}
	return placeholderLocalParts[local] || placeholderDomains[domain]
}

// OrgDomain picks the organization's domain: declared primary domain, then
// the website host, then "<slugified name>.com". Empty when nothing is known.
func OrgDomain(org *apollo.Organization) string {
	if org == nil {
		return ""
	}
	if d := cleanHost(org.PrimaryDomain); d != "" {
		return d
	}
	if d := hostFromURL(org.WebsiteURL); d != "" {
		return d
	}
	if s := Slug(org.Name); s != "" {
		return s + ".com"
	}
	return ""
}

func hostFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return cleanHost(u.Hostname())
}

func cleanHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "www.")
	h = strings.TrimSuffix(h, ".")
	if !strings.Contains(h, ".") || strings.ContainsAny(h, " /@") {
		return ""
	}
	return h
}

// GuessEmail builds first.last@domain from ASCII-folded name parts.
func GuessEmail(first, last, domain string) string {
	f, l := Slug(first), Slug(last)
	if f == "" || l == "" || domain == "" {
		return ""
	}
	return f + "." + l + "@" + domain
}

// Slug lower-cases s, folds accents ("Müller" -> "muller") and drops
// everything except ASCII letters and digits.
func Slug(s string) string {
	// Chained transformers keep state, so each call builds its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
