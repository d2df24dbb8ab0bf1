package ledger

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrInsufficientCredits matches every *InsufficientCreditsError.
	ErrInsufficientCredits = eris.New("ledger: insufficient credits")
	// ErrInvalidAmount is returned for non-positive grants and negative yields.
	ErrInvalidAmount = eris.New("ledger: invalid amount")
	// ErrInvalidSource is returned when a grant uses a usage kind.
	ErrInvalidSource = eris.New("ledger: invalid grant source")
)

// InsufficientCreditsError reports a shortfall. MaxAffordable is how many
// leads the user could acquire right now (balance plus free units).
type InsufficientCreditsError struct {
	Requested     int
	Cost          int64
	Balance       int64
	MaxAffordable int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Insufficient credits: you can acquire up to %d leads with your current balance", e.MaxAffordable)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
