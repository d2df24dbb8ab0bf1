package apollo

// SearchRequest is the body for POST /mixed_people/search. Empty fields are
// omitted so the provider only sees the facets a query shape populated.
type SearchRequest struct {
	PersonTitles                  []string      `json:"person_titles,omitempty"`
	IncludeSimilarTitles          bool          `json:"include_similar_titles"`
	PersonLocations               []string      `json:"person_locations,omitempty"`
	QKeywords                     string        `json:"q_keywords,omitempty"`
	QOrganizationKeywordTags      []string      `json:"q_organization_keyword_tags,omitempty"`
	OrganizationNumEmployeesRange []string      `json:"organization_num_employees_ranges,omitempty"`
	CurrentlyUsingAnyOfTechnology []string      `json:"currently_using_any_of_technology_uids,omitempty"`
	RevenueRange                  *RevenueRange `json:"revenue_range,omitempty"`
	Page                          int           `json:"page"`
	PerPage                       int           `json:"per_page"`
}

// RevenueRange filters organizations by revenue.
type RevenueRange struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// SearchResponse is the provider payload. Depending on account type the
// records arrive in People, Contacts or both.
type SearchResponse struct {
	People     []Person   `json:"people"`
	Contacts   []Person   `json:"contacts"`
	Pagination Pagination `json:"pagination"`
}

// Records returns people followed by contacts.
func (r *SearchResponse) Records() []Person {
	out := make([]Person, 0, len(r.People)+len(r.Contacts))
	out = append(out, r.People...)
	return append(out, r.Contacts...)
}

// Pagination describes the result window.
type Pagination struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
}

// Person is a raw contact record. Every field may be missing.
type Person struct {
	ID           string        `json:"id"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Name         string        `json:"name"`
	Title        string        `json:"title"`
	Email        string        `json:"email"`
	EmailStatus  string        `json:"email_status"`
	LinkedInURL  string        `json:"linkedin_url"`
	TwitterURL   string        `json:"twitter_url"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	Country      string        `json:"country"`
	Seniority    string        `json:"seniority"`
	Departments  []string      `json:"departments"`
	Organization *Organization `json:"organization"`
}

// PhoneNumber is one phone entry on a person.
type PhoneNumber struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number"`
	Type            string `json:"type"`
}

// Organization is the employer attached to a person.
type Organization struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	WebsiteURL            string        `json:"website_url"`
	PrimaryDomain         string        `json:"primary_domain"`
	Industry              string        `json:"industry"`
	SICCodes              []string      `json:"sic_codes"`
	ShortDescription      string        `json:"short_description"`
	EstimatedNumEmployees int           `json:"estimated_num_employees"`
	FoundedYear           int           `json:"founded_year"`
	NewsArticles          []NewsArticle `json:"news_articles"`
}

// NewsArticle is a recent public signal about an organization.
type NewsArticle struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}
