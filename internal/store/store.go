// Package store persists credit accounts, the credit transaction log,
// acquired lead lists, the search cache and the settlement queue.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
)

var (
	// ErrStoreUnavailable matches any I/O failure against the backing database.
	ErrStoreUnavailable = eris.New("store: unavailable")
	// ErrDuplicateSettlement is returned when usage for a reference was
	// already recorded. The whole update is rolled back.
	ErrDuplicateSettlement = eris.New("store: settlement already recorded")
	// ErrNotFound is returned by lookups by ID.
	ErrNotFound = eris.New("store: not found")
)

// UnavailableError wraps a database failure. It matches ErrStoreUnavailable
// and unwraps to the driver error.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStoreUnavailable) succeed.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Err: err}
}

// AccountMutation edits acct in place and returns the ledger rows to append
// alongside the change. Returning an error aborts the update and the error
// is passed through to the caller unchanged.
type AccountMutation func(acct *model.CreditAccount) ([]model.CreditTransaction, error)

// LedgerStore holds one account row per user and the append-only
// transaction log.
type LedgerStore interface {
	GetOrCreateAccount(ctx context.Context, userID string) (*model.CreditAccount, error)
	// UpdateAccount runs fn against a locked, freshly read account inside one
	// transaction, then writes the account and fn's rows atomically.
	UpdateAccount(ctx context.Context, userID string, fn AccountMutation) (*model.CreditAccount, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}

// LeadStore persists acquisition results.
type LeadStore interface {
	SaveLeadList(ctx context.Context, list *model.LeadList) (string, error)
	GetLeadList(ctx context.Context, id string) (*model.LeadList, error)
}

// SettlementQueue holds acquisitions whose settlement failed after the
// lead list was persisted.
type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, p model.PendingSettlement) error
	DueSettlements(ctx context.Context, limit int) ([]model.PendingSettlement, error)
	MarkSettlementRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	// HoldSettlement reschedules an entry the user cannot pay for yet. The
	// retry count is left alone.
	HoldSettlement(ctx context.Context, id string, nextCheckAt time.Time, lastErr string) error
	RemoveSettlement(ctx context.Context, id string) error
	CountSettlements(ctx context.Context) (int, error)
}

// SearchCache is a string key/value table with per-entry expiry.
type SearchCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	DeleteExpired(ctx context.Context) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	LedgerStore
	LeadStore
	SettlementQueue
	SearchCache

	Migrate(ctx context.Context) error
	Close() error
}

func stamp(rows []model.CreditTransaction, userID string, now time.Time, newID func() string) {
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = newID()
		}
		rows[i].UserID = userID
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
