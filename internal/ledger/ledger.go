// Package ledger meters lead acquisitions against a free tier and a paid
// credit balance.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/store"
)

// Config holds pricing parameters.
type Config struct {
	FreeTierLimit int   `mapstructure:"free_tier_limit"`
	UnitPrice     int64 `mapstructure:"unit_price"`
}

// DefaultConfig is five free leads, then one credit per lead.
func DefaultConfig() Config {
	return Config{FreeTierLimit: 5, UnitPrice: 1}
}

// Ledger applies pricing rules on top of a LedgerStore. It holds no
// mutable state; atomicity comes from store.LedgerStore.UpdateAccount.
type Ledger struct {
	store store.LedgerStore
	cfg   Config
}

// New creates a Ledger. A FreeTierLimit of 0 disables the free tier and a
// negative one is treated as 0. A non-positive UnitPrice falls back to
// DefaultConfig.
func New(s store.LedgerStore, cfg Config) *Ledger {
	def := DefaultConfig()
	if cfg.FreeTierLimit < 0 {
		cfg.FreeTierLimit = 0
	}
	if cfg.UnitPrice <= 0 {
		cfg.UnitPrice = def.UnitPrice
	}
	return &Ledger{store: s, cfg: cfg}
}

// Affordability is the result of a pre-check.
type Affordability struct {
	CanAfford          bool            `json:"can_afford"`
	Quote              model.CostQuote `json:"quote"`
	Balance            int64           `json:"balance"`
	FreeUnitsAvailable int             `json:"free_units_available"`
	MaxAffordable      int64           `json:"max_affordable"`
	Reason             string          `json:"reason,omitempty"`
}

// Err returns nil when affordable, else the matching *InsufficientCreditsError.
func (a *Affordability) Err() error {
	if a.CanAfford {
		return nil
	}
	return &InsufficientCreditsError{
		Requested:     a.Quote.RequestedCount,
		Cost:          a.Quote.TotalCost,
		Balance:       a.Balance,
		MaxAffordable: a.MaxAffordable,
	}
}

// DeductionResult reports a completed settlement.
type DeductionResult struct {
	CreditsDeducted    int64 `json:"credits_deducted"`
	FreeUnitsUsed      int   `json:"free_units_used"`
	PaidUnits          int   `json:"paid_units"`
	RemainingBalance   int64 `json:"remaining_balance"`
	RemainingFreeUnits int   `json:"remaining_free_units"`
}

// GetAccount returns the user's account, creating an empty one on first use.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	acct, err := l.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get account %s", userID)
	}
	return acct, nil
}

// FreeUnitsAvailable is max(0, limit - consumed).
func (l *Ledger) FreeUnitsAvailable(acct *model.CreditAccount) int {
	return max(0, l.cfg.FreeTierLimit-acct.FreeUnitsConsumed)
}

// QuoteCost prices requested leads given the free units still available.
func (l *Ledger) QuoteCost(requested, freeAvailable int) model.CostQuote {
	requested = max(0, requested)
	free := min(requested, max(0, freeAvailable))
	paid := requested - free
	return model.CostQuote{
		RequestedCount: requested,
		FreeUnitsUsed:  free,
		PaidUnits:      paid,
		TotalCost:      int64(paid) * l.cfg.UnitPrice,
	}
}

// CheckAffordability quotes requested against a fresh account read. It never
// writes.
func (l *Ledger) CheckAffordability(ctx context.Context, userID string, requested int) (*Affordability, error) {
	acct, err := l.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	free := l.FreeUnitsAvailable(acct)
	q := l.QuoteCost(requested, free)
	short := l.shortfall(requested, q, acct.Balance, free)
	a := &Affordability{
		CanAfford:          q.TotalCost <= acct.Balance,
		Quote:              q,
		Balance:            acct.Balance,
		FreeUnitsAvailable: free,
		MaxAffordable:      short.MaxAffordable,
	}
	if !a.CanAfford {
		a.Reason = short.Error()
	}
	return a, nil
}

func (l *Ledger) shortfall(requested int, q model.CostQuote, balance int64, free int) *InsufficientCreditsError {
	return &InsufficientCreditsError{
		Requested:     requested,
		Cost:          q.TotalCost,
		Balance:       balance,
		MaxAffordable: balance/l.cfg.UnitPrice + int64(free),
	}
}

// Settle charges for actualYield leads against referenceID in one store
// transaction. The account is re-read under lock, so a pre-check that has
// gone stale is caught here with *InsufficientCreditsError. A zero yield
// charges nothing and appends nothing.
func (l *Ledger) Settle(ctx context.Context, userID, workspaceID string, actualYield int, referenceID string) (*DeductionResult, error) {
	if actualYield < 0 {
		return nil, eris.Wrapf(ErrInvalidAmount, "ledger: negative yield %d", actualYield)
	}
	if actualYield == 0 {
		acct, err := l.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &DeductionResult{RemainingBalance: acct.Balance, RemainingFreeUnits: l.FreeUnitsAvailable(acct)}, nil
	}

	var q model.CostQuote
	acct, err := l.store.UpdateAccount(ctx, userID, func(acct *model.CreditAccount) ([]model.CreditTransaction, error) {
		free := l.FreeUnitsAvailable(acct)
		q = l.QuoteCost(actualYield, free)
		if q.TotalCost > acct.Balance {
			return nil, l.shortfall(actualYield, q, acct.Balance, free)
		}

		acct.Balance -= q.TotalCost
		acct.FreeUnitsConsumed += q.FreeUnitsUsed

		meta := map[string]any{
			"requested_count": actualYield,
			"free_units_used": q.FreeUnitsUsed,
			"paid_units":      q.PaidUnits,
		}
		var rows []model.CreditTransaction
		if q.TotalCost > 0 {
			rows = append(rows, model.CreditTransaction{
				WorkspaceID: workspaceID,
				Amount:      -q.TotalCost,
				Kind:        model.TxUsage,
				ReferenceID: referenceID,
				Metadata:    meta,
			})
		}
		if q.FreeUnitsUsed > 0 {
			rows = append(rows, model.CreditTransaction{
				WorkspaceID: workspaceID,
				Amount:      0,
				Kind:        model.TxFreeUsage,
				ReferenceID: referenceID,
				Metadata:    meta,
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: settle %d leads for %s", actualYield, userID)
	}

	zap.L().Info("ledger: settled",
		zap.String("user_id", userID),
		zap.String("reference_id", referenceID),
		zap.Int("yield", actualYield),
		zap.Int64("credits", q.TotalCost),
		zap.Int("free_units", q.FreeUnitsUsed),
		zap.Int64("balance", acct.Balance),
	)

	return &DeductionResult{
		CreditsDeducted:    q.TotalCost,
		FreeUnitsUsed:      q.FreeUnitsUsed,
		PaidUnits:          q.PaidUnits,
		RemainingBalance:   acct.Balance,
		RemainingFreeUnits: l.FreeUnitsAvailable(acct),
	}, nil
}

// Grant adds amount credits. A purchase also raises the lifetime purchased
// total. Grants are not deduplicated; callers own idempotency.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64, source model.TransactionKind, referenceID string) (*model.CreditAccount, error) {
	if amount <= 0 {
		return nil, eris.Wrapf(ErrInvalidAmount, "ledger: grant of %d", amount)
	}
	switch source {
	case model.TxPurchase, model.TxGrant, model.TxRefund:
	default:
		return nil, eris.Wrapf(ErrInvalidSource, "ledger: %q", source)
	}

	acct, err := l.store.UpdateAccount(ctx, userID, func(acct *model.CreditAccount) ([]model.CreditTransaction, error) {
		acct.Balance += amount
		if source == model.TxPurchase {
			acct.TotalPurchased += amount
		}
		return []model.CreditTransaction{{
			Amount:      amount,
			Kind:        source,
			ReferenceID: referenceID,
			Metadata:    map[string]any{"source": string(source)},
		}}, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: grant %d to %s", amount, userID)
	}

	zap.L().Info("ledger: granted",
		zap.String("user_id", userID),
		zap.String("source", string(source)),
		zap.Int64("amount", amount),
		zap.Int64("balance", acct.Balance),
	)
	return acct, nil
}

// History lists the user's transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	txs, err := l.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: history for %s", userID)
	}
	return txs, nil
}
