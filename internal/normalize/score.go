package normalize

import "regexp"

const (
	baseScore = 50
	minScore  = 1
	maxScore  = 100
)

var seniorTitle = regexp.MustCompile(`(?i)\b(chief|ceo|cto|cfo|coo|cmo|cio|ciso|cro|president|founder|co-founder|owner|partner|principal|vp|svp|evp|vice president|director|head of|general manager|managing director)\b`)

// Signals are the lead attributes that feed the quality score.
type Signals struct {
	VerifiedEmail bool
	// HasEmail is true only for provider-supplied addresses. Guessed
	// addresses never score.
	HasEmail  bool
	HasPhone  bool
	HasSocial bool
	Title     string
	Employees int
	HasNews   bool
}

// Score is an additive completeness score clamped to [1, 100].
func Score(s Signals) int {
	score := baseScore
	switch {
	case s.VerifiedEmail:
		score += 20
	case s.HasEmail:
		score += 10
	}
	if s.HasPhone {
		score += 15
	}
	if s.HasSocial {
		score += 10
	}
	if IsSeniorTitle(s.Title) {
		score += 10
	}
	switch {
	case s.Employees >= 100:
		score += 10
	case s.Employees >= 50:
		score += 5
	}
	if s.HasNews {
		score += 5
	}
	return max(minScore, min(maxScore, score))
}

// IsSeniorTitle reports whether title reads as executive or senior management.
func IsSeniorTitle(title string) bool {
	return seniorTitle.MatchString(title)
}
