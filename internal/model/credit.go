package model

import "time"

// TransactionKind tags a credit ledger row.
type TransactionKind string

const (
	TxUsage     TransactionKind = "usage"
	TxFreeUsage TransactionKind = "free_usage"
	TxPurchase  TransactionKind = "purchase"
	TxGrant     TransactionKind = "grant"
	TxRefund    TransactionKind = "refund"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case TxUsage, TxFreeUsage, TxPurchase, TxGrant, TxRefund:
		return true
	}
	return false
}

// CreditAccount is the per-user balance row.
type CreditAccount struct {
	UserID            string    `json:"user_id"`
	Balance           int64     `json:"balance"`
	FreeUnitsConsumed int       `json:"free_units_consumed"`
	TotalPurchased    int64     `json:"total_purchased"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreditTransaction is one append-only ledger row. Amount is negative for
// usage, positive for grants and zero for free usage.
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	WorkspaceID string          `json:"workspace_id,omitempty"`
	Amount      int64           `json:"amount"`
	Kind        TransactionKind `json:"kind"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CostQuote is the derived price of a number of leads. Never persisted.
type CostQuote struct {
	RequestedCount int   `json:"requested_count"`
	FreeUnitsUsed  int   `json:"free_units_used"`
	PaidUnits      int   `json:"paid_units"`
	TotalCost      int64 `json:"total_cost"`
}

// PendingSettlement is a persisted acquisition whose credits could not be
// settled yet. The reconciler retries it until it succeeds or runs out of
// attempts.
type PendingSettlement struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	WorkspaceID  string    `json:"workspace_id"`
	RecordID     string    `json:"record_id"`
	ActualYield  int       `json:"actual_yield"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// CanRetry reports whether the entry has attempts left.
func (p *PendingSettlement) CanRetry() bool {
	return p.RetryCount < p.MaxRetries
}
