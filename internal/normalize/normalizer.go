// Package normalize turns raw provider records into scored, classified leads.
package normalize

import (
	"strings"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/pkg/apollo"
)

// Leads converts records in order, silently dropping records that fail the
// validity gate or miss a required contact channel.
func Leads(records []apollo.Person, req model.Requirements) []model.Lead {
	out := make([]model.Lead, 0, len(records))
	for _, p := range records {
		if l, ok := Lead(p, req); ok {
			out = append(out, l)
		}
	}
	return out
}

// Lead converts a single record. ok is false when the record has no
// resolvable name, has neither employer nor title, or lacks a channel that
// req demands.
func Lead(p apollo.Person, req model.Requirements) (model.Lead, bool) {
	name := displayName(p)
	org := p.Organization
	if org == nil {
		org = &apollo.Organization{}
	}
	company := strings.TrimSpace(org.Name)
	title := strings.TrimSpace(p.Title)
	if name == "" || (company == "" && title == "") {
		return model.Lead{}, false
	}

	email, hasEmail := providerEmail(p.Email)
	phone := firstPhone(p.PhoneNumbers)
	social := socialURL(p)

	if req.Email && !hasEmail {
		return model.Lead{}, false
	}
	if req.Phone && phone == "" {
		return model.Lead{}, false
	}
	if req.Social && social == "" {
		return model.Lead{}, false
	}

	domain := OrgDomain(org)
	status := model.EmailStatusMissing
	switch {
	case hasEmail && strings.EqualFold(p.EmailStatus, "verified"):
		status = model.EmailStatusVerified
	case hasEmail:
		status = model.EmailStatusUnverified
	default:
		first, last := nameParts(p)
		if guess := GuessEmail(first, last, domain); guess != "" {
			email = guess
			status = model.EmailStatusGuessed
		}
	}

	signals := Signals{
		VerifiedEmail: status == model.EmailStatusVerified,
		HasEmail:      hasEmail,
		HasPhone:      phone != "",
		HasSocial:     social != "",
		Title:         title,
		Employees:     org.EstimatedNumEmployees,
		HasNews:       len(org.NewsArticles) > 0,
	}

	return model.Lead{
		Name:         name,
		Title:        title,
		Company:      company,
		Industry:     ClassifyIndustry(org),
		Location:     FormatLocation(p.City, p.State, p.Country),
		Email:        optional(email),
		Phone:        optional(phone),
		SocialURL:    optional(social),
		QualityScore: Score(signals),
		SourceID:     p.ID,
		Metadata: model.LeadMetadata{
			EmployeeCount: org.EstimatedNumEmployees,
			CompanySize:   SizeBand(org.EstimatedNumEmployees),
			RevenueBucket: RevenueBand(org.EstimatedNumEmployees),
			FoundedYear:   org.FoundedYear,
			Departments:   p.Departments,
			Seniority:     p.Seniority,
			EmailStatus:   status,
			Domain:        domain,
		},
	}, true
}

func displayName(p apollo.Person) string {
	if n := strings.Join(strings.Fields(p.Name), " "); n != "" {
		return n
	}
	first, last := strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	if first == "" || last == "" {
		return ""
	}
	return first + " " + last
}

// nameParts prefers the explicit first/last fields and falls back to the
// outer tokens of the display name.
func nameParts(p apollo.Person) (string, string) {
	first, last := strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	if first != "" && last != "" {
		return first, last
	}
	fields := strings.Fields(p.Name)
	if len(fields) < 2 {
		return "", ""
	}
	return fields[0], fields[len(fields)-1]
}

func firstPhone(numbers []apollo.PhoneNumber) string {
	for _, n := range numbers {
		if v := strings.TrimSpace(n.SanitizedNumber); v != "" {
			return v
		}
		if v := strings.TrimSpace(n.RawNumber); v != "" {
			return v
		}
	}
	return ""
}

func socialURL(p apollo.Person) string {
	if v := strings.TrimSpace(p.LinkedInURL); v != "" {
		return v
	}
	return strings.TrimSpace(p.TwitterURL)
}

// FormatLocation joins the present parts with ", ".
func FormatLocation(city, state, country string) string {
	parts := make([]string, 0, 3)
	for _, v := range []string{city, state, country} {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, ", ")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
