package model

import "time"

// EmailStatus describes how much an email address can be trusted.
type EmailStatus string

const (
	EmailStatusVerified   EmailStatus = "verified"
	EmailStatusUnverified EmailStatus = "unverified"
	EmailStatusGuessed    EmailStatus = "guessed" // synthesized from name + domain
	EmailStatusMissing    EmailStatus = "missing"
)

// LeadMetadata carries organization and contact attributes that do not
// belong in the lead identity.
type LeadMetadata struct {
	EmployeeCount int         `json:"employee_count,omitempty"`
	CompanySize   string      `json:"company_size"`
	RevenueBucket string      `json:"revenue_bucket"` // estimated from headcount, not reported revenue
	FoundedYear   int         `json:"founded_year,omitempty"`
	Departments   []string    `json:"departments,omitempty"`
	Seniority     string      `json:"seniority,omitempty"`
	EmailStatus   EmailStatus `json:"email_status"`
	Domain        string      `json:"domain,omitempty"`
}

// Lead is one normalized business contact. Leads are never mutated after
// the normalizer produces them.
type Lead struct {
	Name         string       `json:"name"`
	Title        string       `json:"title,omitempty"`
	Company      string       `json:"company,omitempty"`
	Industry     string       `json:"industry"`
	Location     string       `json:"location"`
	Email        *string      `json:"email"`
	Phone        *string      `json:"phone"`
	SocialURL    *string      `json:"social_url"`
	QualityScore int          `json:"quality_score"`
	SourceID     string       `json:"source_id"`
	Metadata     LeadMetadata `json:"metadata"`
}

// LeadList is the persisted record of one successful acquisition.
type LeadList struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Criteria    Criteria  `json:"criteria"`
	Leads       []Lead    `json:"leads"`
	Strategy    string    `json:"strategy"`
	FromCache   bool      `json:"from_cache"`
	CreatedAt   time.Time `json:"created_at"`
}
