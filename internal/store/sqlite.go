package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withConnPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// withConnPragmas adds per-connection pragmas to the DSN. busy_timeout and
// foreign_keys are connection-scoped, so running them once through db.Exec
// only configures whichever pooled connection served that call.
func withConnPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Expiry and retry times are unix milliseconds so comparisons stay numeric.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id             TEXT PRIMARY KEY,
	balance             INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	free_units_consumed INTEGER NOT NULL DEFAULT 0 CHECK (free_units_consumed >= 0),
	total_purchased     INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES credit_accounts(user_id),
	workspace_id TEXT,
	amount       INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	reference_id TEXT,
	metadata     TEXT,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS uq_credit_transactions_settlement
	ON credit_transactions(reference_id, kind)
	WHERE kind IN ('usage', 'free_usage') AND reference_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS lead_lists (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	criteria     TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	from_cache   INTEGER NOT NULL DEFAULT 0,
	leads        TEXT NOT NULL,
	lead_count   INTEGER NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS search_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_queue (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	workspace_id   TEXT NOT NULL,
	record_id      TEXT NOT NULL UNIQUE,
	actual_yield   INTEGER NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 5,
	next_retry_at  INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	last_failed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_settlement_queue_next_retry ON settlement_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Ledger ---

type scannable interface {
	Scan(dest ...any) error
}

const sqliteSelectAccount = `SELECT user_id, balance, free_units_consumed, total_purchased, created_at, updated_at FROM credit_accounts WHERE user_id = ?`

func scanSQLiteAccount(row scannable) (*model.CreditAccount, error) {
	var a model.CreditAccount
	if err := row.Scan(&a.UserID, &a.Balance, &a.FreeUnitsConsumed, &a.TotalPurchased, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureAccount(ctx context.Context, e execer, userID string) error {
	now := time.Now().UTC()
	_, err := e.ExecContext(ctx,
		`INSERT OR IGNORE INTO credit_accounts (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		userID, now, now,
	)
	return err
}

func (s *SQLiteStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if err := ensureAccount(ctx, s.db, userID); err != nil {
		return nil, unavailable("create account", err)
	}
	acct, err := scanSQLiteAccount(s.db.QueryRowContext(ctx, sqliteSelectAccount, userID))
	if err != nil {
		return nil, unavailable("get account", err)
	}
	return acct, nil
}

// UpdateAccount opens the transaction with a write so SQLite takes the
// writer lock before the account is read. Concurrent updates queue on
// busy_timeout instead of failing with a stale read snapshot.
func (s *SQLiteStore) UpdateAccount(ctx context.Context, userID string, fn AccountMutation) (*model.CreditAccount, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureAccount(ctx, tx, userID); err != nil {
		return nil, unavailable("create account", err)
	}
	acct, err := scanSQLiteAccount(tx.QueryRowContext(ctx, sqliteSelectAccount, userID))
	if err != nil {
		return nil, unavailable("read account", err)
	}

	rows, err := fn(acct)
	if err != nil {
		return nil, err
	}
	if acct.Balance < 0 {
		return nil, eris.Errorf("sqlite: refusing negative balance %d for %s", acct.Balance, userID)
	}

	now := time.Now().UTC()
	acct.UpdatedAt = now
	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET balance = ?, free_units_consumed = ?, total_purchased = ?, updated_at = ? WHERE user_id = ?`,
		acct.Balance, acct.FreeUnitsConsumed, acct.TotalPurchased, now, userID,
	); err != nil {
		return nil, unavailable("update account", err)
	}

	stamp(rows, userID, now, func() string { return uuid.New().String() })
	for _, r := range rows {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal transaction metadata")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_transactions (id, user_id, workspace_id, amount, kind, reference_id, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.UserID, nullable(r.WorkspaceID), r.Amount, string(r.Kind), nullable(r.ReferenceID), string(meta), r.CreatedAt,
		); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return nil, eris.Wrapf(ErrDuplicateSettlement, "sqlite: %s for %s", r.Kind, r.ReferenceID)
			}
			return nil, unavailable("insert transaction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return acct, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, COALESCE(workspace_id, ''), amount, kind, COALESCE(reference_id, ''), COALESCE(metadata, ''), created_at
		 FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CreditTransaction
	for rows.Next() {
		var (
			t          model.CreditTransaction
			kind, meta string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.WorkspaceID, &t.Amount, &kind, &t.ReferenceID, &meta, &t.CreatedAt); err != nil {
			return nil, unavailable("scan transaction", err)
		}
		t.Kind = model.TransactionKind(kind)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal metadata for %s", t.ID)
			}
		}
		out = append(out, t)
	}
	return out, unavailable("iterate transactions", rows.Err())
}

// --- Lead lists ---

// SaveLeadList stores the leads as one JSON column; SQLite is the local
// driver and never bulk-loads.
func (s *SQLiteStore) SaveLeadList(ctx context.Context, list *model.LeadList) (string, error) {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now().UTC()
	}
	criteria, err := json.Marshal(list.Criteria)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal criteria")
	}
	leads, err := json.Marshal(list.Leads)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal leads")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_lists (id, user_id, workspace_id, criteria, strategy, from_cache, leads, lead_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		list.ID, list.UserID, list.WorkspaceID, string(criteria), list.Strategy, list.FromCache, string(leads), len(list.Leads), list.CreatedAt,
	)
	if err != nil {
		return "", unavailable("insert lead list", err)
	}
	return list.ID, nil
}

func (s *SQLiteStore) GetLeadList(ctx context.Context, id string) (*model.LeadList, error) {
	var (
		list            model.LeadList
		criteria, leads string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, workspace_id, criteria, strategy, from_cache, leads, created_at FROM lead_lists WHERE id = ?`, id,
	).Scan(&list.ID, &list.UserID, &list.WorkspaceID, &criteria, &list.Strategy, &list.FromCache, &leads, &list.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lead list %s", id)
	}
	if err != nil {
		return nil, unavailable("get lead list", err)
	}
	if err := json.Unmarshal([]byte(criteria), &list.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	if err := json.Unmarshal([]byte(leads), &list.Leads); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal leads")
	}
	return &list, nil
}

// --- Search cache ---

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM search_cache WHERE key = ? AND expires_at > ?`, key, time.Now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get cache", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, time.Now().Add(ttl).UnixMilli(),
	)
	return unavailable("set cache", err)
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, unavailable("delete expired cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected", err)
	}
	return int(n), nil
}

// --- Settlement queue ---

func (s *SQLiteStore) EnqueueSettlement(ctx context.Context, p model.PendingSettlement) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastFailedAt.IsZero() {
		p.LastFailedAt = now
	}
	if p.NextRetryAt.IsZero() {
		p.NextRetryAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settlement_queue (id, user_id, workspace_id, record_id, actual_yield, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.WorkspaceID, p.RecordID, p.ActualYield, p.Error, p.ErrorType,
		p.RetryCount, p.MaxRetries, p.NextRetryAt.UnixMilli(), p.CreatedAt.UnixMilli(), p.LastFailedAt.UnixMilli(),
	)
	return unavailable("enqueue settlement", err)
}

func (s *SQLiteStore) DueSettlements(ctx context.Context, limit int) ([]model.PendingSettlement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, workspace_id, record_id, actual_yield, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM settlement_queue WHERE next_retry_at <= ? AND retry_count < max_retries
		 ORDER BY next_retry_at LIMIT ?`,
		time.Now().UnixMilli(), limit,
	)
	if err != nil {
		return nil, unavailable("due settlements", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PendingSettlement
	for rows.Next() {
		var (
			p                          model.PendingSettlement
			nextRetry, created, failed int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.WorkspaceID, &p.RecordID, &p.ActualYield, &p.Error, &p.ErrorType,
			&p.RetryCount, &p.MaxRetries, &nextRetry, &created, &failed); err != nil {
			return nil, unavailable("scan settlement", err)
		}
		p.NextRetryAt = time.UnixMilli(nextRetry).UTC()
		p.CreatedAt = time.UnixMilli(created).UTC()
		p.LastFailedAt = time.UnixMilli(failed).UTC()
		out = append(out, p)
	}
	return out, unavailable("iterate settlements", rows.Err())
}

func (s *SQLiteStore) MarkSettlementRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE settlement_queue SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ? WHERE id = ?`,
		nextRetryAt.UnixMilli(), lastErr, time.Now().UnixMilli(), id,
	)
	return unavailable("mark settlement retry", err)
}

func (s *SQLiteStore) HoldSettlement(ctx context.Context, id string, nextCheckAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE settlement_queue SET next_retry_at = ?, error = ?, error_type = 'insufficient_credits', last_failed_at = ? WHERE id = ?`,
		nextCheckAt.UnixMilli(), lastErr, time.Now().UnixMilli(), id,
	)
	return unavailable("hold settlement", err)
}

func (s *SQLiteStore) RemoveSettlement(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settlement_queue WHERE id = ?`, id)
	return unavailable("remove settlement", err)
}

func (s *SQLiteStore) CountSettlements(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settlement_queue`).Scan(&n); err != nil {
		return 0, unavailable("count settlements", err)
	}
	return n, nil
}
