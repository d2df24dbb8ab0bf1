package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var accountCols = []string{"user_id", "balance", "free_units_consumed", "total_purchased", "created_at", "updated_at"}

func TestPostgresStore_GetOrCreateAccount(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO credit_accounts \(user_id\) VALUES \(\$1\) ON CONFLICT`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT user_id, balance, free_units_consumed, total_purchased, created_at, updated_at FROM credit_accounts WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("u1", int64(0), 0, int64(0), now, now))

	acct, err := s.GetOrCreateAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", acct.UserID)
	assert.Equal(t, int64(0), acct.Balance)
	assert.Equal(t, 0, acct.FreeUnitsConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreateAccount_Unavailable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO credit_accounts`).
		WithArgs("u1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetOrCreateAccount(context.Background(), "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAccount_Settle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO credit_accounts`).WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FROM credit_accounts WHERE user_id = \$1 FOR UPDATE`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("u1", int64(10), 3, int64(10), now, now))
	mock.ExpectExec(`UPDATE credit_accounts SET balance = \$2`).
		WithArgs("u1", int64(7), 5, int64(10), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(pgxmock.AnyArg(), "u1", "ws1", int64(-3), "usage", "rec-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WithArgs(pgxmock.AnyArg(), "u1", "ws1", int64(0), "free_usage", "rec-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	acct, err := s.UpdateAccount(context.Background(), "u1", func(a *model.CreditAccount) ([]model.CreditTransaction, error) {
		a.Balance -= 3
		a.FreeUnitsConsumed += 2
		return []model.CreditTransaction{
			{WorkspaceID: "ws1", Amount: -3, Kind: model.TxUsage, ReferenceID: "rec-1"},
			{WorkspaceID: "ws1", Amount: 0, Kind: model.TxFreeUsage, ReferenceID: "rec-1"},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), acct.Balance)
	assert.Equal(t, 5, acct.FreeUnitsConsumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAccount_MutationErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	sentinel := errors.New("insufficient")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO credit_accounts`).WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("u1", int64(1), 5, int64(1), now, now))
	mock.ExpectRollback()

	_, err := s.UpdateAccount(context.Background(), "u1", func(a *model.CreditAccount) ([]model.CreditTransaction, error) {
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAccount_NegativeBalanceRejected(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO credit_accounts`).WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("u1", int64(1), 5, int64(1), now, now))
	mock.ExpectRollback()

	_, err := s.UpdateAccount(context.Background(), "u1", func(a *model.CreditAccount) ([]model.CreditTransaction, error) {
		a.Balance -= 2
		return nil, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative balance")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAccount_DuplicateSettlement(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO credit_accounts`).WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("u1").
		WillReturnRows(pgxmock.NewRows(accountCols).AddRow("u1", int64(10), 5, int64(10), now, now))
	mock.ExpectExec(`UPDATE credit_accounts`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO credit_transactions`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := s.UpdateAccount(context.Background(), "u1", func(a *model.CreditAccount) ([]model.CreditTransaction, error) {
		a.Balance -= 2
		return []model.CreditTransaction{{Amount: -2, Kind: model.TxUsage, ReferenceID: "rec-1"}}, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateSettlement)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAccount_BeginFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := s.UpdateAccount(context.Background(), "u1", func(*model.CreditAccount) ([]model.CreditTransaction, error) {
		t.Fatal("mutation must not run")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTransactions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectQuery(`FROM credit_transactions WHERE user_id = \$1 ORDER BY created_at DESC`).
		WithArgs("u1", 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "workspace_id", "amount", "kind", "reference_id", "metadata", "created_at"}).
			AddRow("t2", "u1", "ws1", int64(-3), "usage", "rec-1", []byte(`{"paid_units":3}`), now).
			AddRow("t1", "u1", "", int64(10), "purchase", "", []byte(nil), now.Add(-time.Hour)))

	txs, err := s.ListTransactions(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TxUsage, txs[0].Kind)
	assert.Equal(t, float64(3), txs[0].Metadata["paid_units"])
	assert.Equal(t, model.TxPurchase, txs[1].Kind)
	assert.Nil(t, txs[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLeadList(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	email := "ada@analytical.io"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO lead_lists`).
		WithArgs("list-1", "u1", "ws1", pgxmock.AnyArg(), "complex", false, 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadColumns).WillReturnResult(2)
	mock.ExpectCommit()

	id, err := s.SaveLeadList(context.Background(), &model.LeadList{
		ID:          "list-1",
		UserID:      "u1",
		WorkspaceID: "ws1",
		Strategy:    "complex",
		Leads: []model.Lead{
			{Name: "Ada Lovelace", Company: "Analytical", Email: &email, QualityScore: 80},
			{Name: "Grace Hopper", Title: "Rear Admiral", QualityScore: 60},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "list-1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveLeadList_CopyFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO lead_lists`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, leadColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.SaveLeadList(context.Background(), &model.LeadList{UserID: "u1", Leads: []model.Lead{{Name: "A", Title: "CEO"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLeadList_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM lead_lists WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLeadList(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLeadList(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	phone := "+15550100"

	mock.ExpectQuery(`FROM lead_lists WHERE id = \$1`).
		WithArgs("list-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "workspace_id", "criteria", "strategy", "from_cache", "created_at"}).
			AddRow("list-1", "u1", "ws1", []byte(`{"lead_count":1,"roles":["CTO"]}`), "minimal", true, now))
	mock.ExpectQuery(`FROM leads WHERE list_id = \$1 ORDER BY position`).
		WithArgs("list-1").
		WillReturnRows(pgxmock.NewRows([]string{"name", "title", "company", "industry", "location", "email", "phone", "social_url", "quality_score", "source_id", "metadata"}).
			AddRow("Ada", "CTO", "Analytical", "Technology", "London", nil, &phone, nil, 65, "p1", []byte(`{"company_size":"51-200"}`)))

	list, err := s.GetLeadList(context.Background(), "list-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"CTO"}, list.Criteria.Roles)
	require.Len(t, list.Leads, 1)
	assert.Nil(t, list.Leads[0].Email)
	require.NotNil(t, list.Leads[0].Phone)
	assert.Equal(t, phone, *list.Leads[0].Phone)
	assert.Equal(t, "51-200", list.Leads[0].Metadata.CompanySize)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Cache(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM search_cache WHERE key = \$1 AND expires_at > now\(\)`).
		WithArgs("leads:v1:miss").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`(?s)INSERT INTO search_cache .* ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("leads:v1:hit", `[]`, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT value FROM search_cache`).
		WithArgs("leads:v1:hit").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(`[]`))
	mock.ExpectExec(`DELETE FROM search_cache WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	_, ok, err := s.Get(ctx, "leads:v1:miss")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetWithTTL(ctx, "leads:v1:hit", `[]`, time.Hour))

	v, ok, err := s.Get(ctx, "leads:v1:hit")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, v)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SettlementQueue(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(`(?s)INSERT INTO settlement_queue .* ON CONFLICT \(record_id\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "u1", "ws1", "rec-1", 4, "store down", "transient", 0, 5,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`FROM settlement_queue WHERE next_retry_at <= \$1 AND retry_count < max_retries`).
		WithArgs(pgxmock.AnyArg(), 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "workspace_id", "record_id", "actual_yield", "error", "error_type", "retry_count", "max_retries", "next_retry_at", "created_at", "last_failed_at"}).
			AddRow("q1", "u1", "ws1", "rec-1", 4, "store down", "transient", 0, 5, now, now, now))
	mock.ExpectExec(`UPDATE settlement_queue SET retry_count = retry_count \+ 1`).
		WithArgs("q1", pgxmock.AnyArg(), "still down", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM settlement_queue WHERE id = \$1`).
		WithArgs("q1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM settlement_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	require.NoError(t, s.EnqueueSettlement(ctx, model.PendingSettlement{
		UserID: "u1", WorkspaceID: "ws1", RecordID: "rec-1", ActualYield: 4,
		Error: "store down", ErrorType: "transient", MaxRetries: 5,
	}))

	due, err := s.DueSettlements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "rec-1", due[0].RecordID)
	assert.True(t, due[0].CanRetry())

	require.NoError(t, s.MarkSettlementRetry(ctx, "q1", now.Add(time.Minute), "still down"))
	require.NoError(t, s.RemoveSettlement(ctx, "q1"))

	n, err := s.CountSettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HoldSettlement(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	next := time.Now().Add(time.Minute)

	mock.ExpectExec(`UPDATE settlement_queue SET next_retry_at = \$2, error = \$3, error_type = 'insufficient_credits'`).
		WithArgs("q1", next, "no balance", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.HoldSettlement(context.Background(), "q1", next, "no balance"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_credit_transactions_settlement`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("boom")
	err := unavailable("op", cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store: op: boom", err.Error())
	assert.NoError(t, unavailable("op", nil))
}
