package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func enqueue(t *testing.T, q store.SettlementQueue, recordID string, nextRetryAt time.Time) {
	t.Helper()
	require.NoError(t, q.EnqueueSettlement(context.Background(), model.PendingSettlement{
		UserID:      "u1",
		RecordID:    recordID,
		ActualYield: 3,
		Error:       "store unavailable",
		ErrorType:   "store_unavailable",
		MaxRetries:  5,
		NextRetryAt: nextRetryAt,
	}))
}

type reconcilerFunc func(ctx context.Context, limit int) (*acquire.ReconcileReport, error)

func (f reconcilerFunc) Reconcile(ctx context.Context, limit int) (*acquire.ReconcileReport, error) {
	return f(ctx, limit)
}

type purgerFunc func(ctx context.Context) (int, error)

func (f purgerFunc) DeleteExpired(ctx context.Context) (int, error) {
	return f(ctx)
}
