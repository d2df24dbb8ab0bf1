package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/db"
	"github.com/sells-group/prospect-engine/internal/model"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id             TEXT PRIMARY KEY,
	balance             BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	free_units_consumed INTEGER NOT NULL DEFAULT 0 CHECK (free_units_consumed >= 0),
	total_purchased     BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES credit_accounts(user_id),
	workspace_id TEXT,
	amount       BIGINT NOT NULL,
	kind         TEXT NOT NULL,
	reference_id TEXT,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uq_credit_transactions_settlement
	ON credit_transactions(reference_id, kind)
	WHERE kind IN ('usage', 'free_usage') AND reference_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS lead_lists (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	criteria     JSONB NOT NULL,
	strategy     TEXT NOT NULL,
	from_cache   BOOLEAN NOT NULL DEFAULT false,
	lead_count   INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lead_lists_user ON lead_lists(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS leads (
	list_id       TEXT NOT NULL REFERENCES lead_lists(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	name          TEXT NOT NULL,
	title         TEXT,
	company       TEXT,
	industry      TEXT NOT NULL,
	location      TEXT NOT NULL,
	email         TEXT,
	phone         TEXT,
	social_url    TEXT,
	quality_score INTEGER NOT NULL,
	source_id     TEXT,
	metadata      JSONB,
	PRIMARY KEY (list_id, position)
);

CREATE TABLE IF NOT EXISTS search_cache (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);

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
	next_retry_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_settlement_queue_next_retry ON settlement_queue(next_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Ledger ---

const selectAccount = `SELECT user_id, balance, free_units_consumed, total_purchased, created_at, updated_at FROM credit_accounts WHERE user_id = $1`

func scanAccount(row pgx.Row) (*model.CreditAccount, error) {
	var a model.CreditAccount
	if err := row.Scan(&a.UserID, &a.Balance, &a.FreeUnitsConsumed, &a.TotalPurchased, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO credit_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
	); err != nil {
		return nil, unavailable("create account", err)
	}
	acct, err := scanAccount(s.pool.QueryRow(ctx, selectAccount, userID))
	if err != nil {
		return nil, unavailable("get account", err)
	}
	return acct, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, userID string, fn AccountMutation) (*model.CreditAccount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
	); err != nil {
		return nil, unavailable("create account", err)
	}

	acct, err := scanAccount(tx.QueryRow(ctx, selectAccount+` FOR UPDATE`, userID))
	if err != nil {
		return nil, unavailable("lock account", err)
	}

	rows, err := fn(acct)
	if err != nil {
		return nil, err
	}
	if acct.Balance < 0 {
		return nil, eris.Errorf("postgres: refusing negative balance %d for %s", acct.Balance, userID)
	}

	now := time.Now().UTC()
	acct.UpdatedAt = now
	if _, err := tx.Exec(ctx,
		`UPDATE credit_accounts SET balance = $2, free_units_consumed = $3, total_purchased = $4, updated_at = $5 WHERE user_id = $1`,
		userID, acct.Balance, acct.FreeUnitsConsumed, acct.TotalPurchased, now,
	); err != nil {
		return nil, unavailable("update account", err)
	}

	stamp(rows, userID, now, func() string { return uuid.New().String() })
	for _, r := range rows {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal transaction metadata")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO credit_transactions (id, user_id, workspace_id, amount, kind, reference_id, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, r.UserID, nullable(r.WorkspaceID), r.Amount, string(r.Kind), nullable(r.ReferenceID), meta, r.CreatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return nil, eris.Wrapf(ErrDuplicateSettlement, "postgres: %s for %s", r.Kind, r.ReferenceID)
			}
			return nil, unavailable("insert transaction", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit", err)
	}
	return acct, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(workspace_id, ''), amount, kind, COALESCE(reference_id, ''), metadata, created_at
		 FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer rows.Close()

	var out []model.CreditTransaction
	for rows.Next() {
		var (
			t    model.CreditTransaction
			kind string
			meta []byte
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.WorkspaceID, &t.Amount, &kind, &t.ReferenceID, &meta, &t.CreatedAt); err != nil {
			return nil, unavailable("scan transaction", err)
		}
		t.Kind = model.TransactionKind(kind)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal metadata for %s", t.ID)
			}
		}
		out = append(out, t)
	}
	return out, unavailable("iterate transactions", rows.Err())
}

// --- Lead lists ---

var leadColumns = []string{
	"list_id", "position", "name", "title", "company", "industry", "location",
	"email", "phone", "social_url", "quality_score", "source_id", "metadata",
}

func (s *PostgresStore) SaveLeadList(ctx context.Context, list *model.LeadList) (string, error) {
	if list.ID == "" {
		list.ID = uuid.New().String()
	}
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now().UTC()
	}

	criteria, err := json.Marshal(list.Criteria)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal criteria")
	}
	rows := make([][]any, 0, len(list.Leads))
	for i, l := range list.Leads {
		meta, err := json.Marshal(l.Metadata)
		if err != nil {
			return "", eris.Wrap(err, "postgres: marshal lead metadata")
		}
		rows = append(rows, []any{
			list.ID, i, l.Name, l.Title, l.Company, l.Industry, l.Location,
			l.Email, l.Phone, l.SocialURL, l.QualityScore, l.SourceID, meta,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO lead_lists (id, user_id, workspace_id, criteria, strategy, from_cache, lead_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		list.ID, list.UserID, list.WorkspaceID, criteria, list.Strategy, list.FromCache, len(list.Leads), list.CreatedAt,
	); err != nil {
		return "", unavailable("insert lead list", err)
	}
	if _, err := db.CopyFrom(ctx, tx, "leads", leadColumns, rows); err != nil {
		return "", unavailable("copy leads", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", unavailable("commit", err)
	}
	return list.ID, nil
}

func (s *PostgresStore) GetLeadList(ctx context.Context, id string) (*model.LeadList, error) {
	var (
		list     model.LeadList
		criteria []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, workspace_id, criteria, strategy, from_cache, created_at FROM lead_lists WHERE id = $1`, id,
	).Scan(&list.ID, &list.UserID, &list.WorkspaceID, &criteria, &list.Strategy, &list.FromCache, &list.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lead list %s", id)
	}
	if err != nil {
		return nil, unavailable("get lead list", err)
	}
	if err := json.Unmarshal(criteria, &list.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, COALESCE(title, ''), COALESCE(company, ''), industry, location, email, phone, social_url, quality_score, COALESCE(source_id, ''), metadata
		 FROM leads WHERE list_id = $1 ORDER BY position`, id,
	)
	if err != nil {
		return nil, unavailable("list leads", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l    model.Lead
			meta []byte
		)
		if err := rows.Scan(&l.Name, &l.Title, &l.Company, &l.Industry, &l.Location, &l.Email, &l.Phone, &l.SocialURL, &l.QualityScore, &l.SourceID, &meta); err != nil {
			return nil, unavailable("scan lead", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal lead metadata")
			}
		}
		list.Leads = append(list.Leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate leads", err)
	}
	return &list, nil
}

// --- Search cache ---

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM search_cache WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get cache", err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_cache (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, time.Now().UTC().Add(ttl),
	)
	return unavailable("set cache", err)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, unavailable("delete expired cache", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Settlement queue ---

func (s *PostgresStore) EnqueueSettlement(ctx context.Context, p model.PendingSettlement) error {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlement_queue (id, user_id, workspace_id, record_id, actual_yield, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (record_id) DO NOTHING`,
		p.ID, p.UserID, p.WorkspaceID, p.RecordID, p.ActualYield, p.Error, p.ErrorType,
		p.RetryCount, p.MaxRetries, p.NextRetryAt, p.CreatedAt, p.LastFailedAt,
	)
	return unavailable("enqueue settlement", err)
}

func (s *PostgresStore) DueSettlements(ctx context.Context, limit int) ([]model.PendingSettlement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, workspace_id, record_id, actual_yield, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
		 FROM settlement_queue WHERE next_retry_at <= $1 AND retry_count < max_retries
		 ORDER BY next_retry_at LIMIT $2`,
		time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, unavailable("due settlements", err)
	}
	defer rows.Close()

	var out []model.PendingSettlement
	for rows.Next() {
		var p model.PendingSettlement
		if err := rows.Scan(&p.ID, &p.UserID, &p.WorkspaceID, &p.RecordID, &p.ActualYield, &p.Error, &p.ErrorType,
			&p.RetryCount, &p.MaxRetries, &p.NextRetryAt, &p.CreatedAt, &p.LastFailedAt); err != nil {
			return nil, unavailable("scan settlement", err)
		}
		out = append(out, p)
	}
	return out, unavailable("iterate settlements", rows.Err())
}

func (s *PostgresStore) MarkSettlementRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE settlement_queue SET retry_count = retry_count + 1, next_retry_at = $2, error = $3, last_failed_at = $4 WHERE id = $1`,
		id, nextRetryAt, lastErr, time.Now().UTC(),
	)
	return unavailable("mark settlement retry", err)
}

func (s *PostgresStore) HoldSettlement(ctx context.Context, id string, nextCheckAt time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE settlement_queue SET next_retry_at = $2, error = $3, error_type = 'insufficient_credits', last_failed_at = $4 WHERE id = $1`,
		id, nextCheckAt, lastErr, time.Now().UTC(),
	)
	return unavailable("hold settlement", err)
}

func (s *PostgresStore) RemoveSettlement(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM settlement_queue WHERE id = $1`, id)
	return unavailable("remove settlement", err)
}

func (s *PostgresStore) CountSettlements(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settlement_queue`).Scan(&n); err != nil {
		return 0, unavailable("count settlements", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
