package acquire

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrNoResultsFound matches every *NoResultsError.
	ErrNoResultsFound = eris.New("acquire: no results found")
	// ErrSettlementPending matches every *SettlementPendingError.
	ErrSettlementPending = eris.New("acquire: settlement pending")
)

// NoResultsError is returned when every strategy came back empty.
type NoResultsError struct {
	Attempted int
	LastErr   error
}

func (e *NoResultsError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("acquire: no results after %d strategies: %v", e.Attempted, e.LastErr)
	}
	return fmt.Sprintf("acquire: no results after %d strategies", e.Attempted)
}

func (e *NoResultsError) Unwrap() error { return e.LastErr }

func (e *NoResultsError) Is(target error) bool { return target == ErrNoResultsFound }

// SettlementPendingError is returned when leads were persisted under
// RecordID but could not be charged. Queued reports whether the reconciler
// will retry the charge.
type SettlementPendingError struct {
	RecordID string
	Yield    int
	Queued   bool
	Err      error
}

func (e *SettlementPendingError) Error() string {
	return fmt.Sprintf("acquire: settlement pending for record %s (%d leads): %v", e.RecordID, e.Yield, e.Err)
}

func (e *SettlementPendingError) Unwrap() error { return e.Err }

func (e *SettlementPendingError) Is(target error) bool { return target == ErrSettlementPending }
