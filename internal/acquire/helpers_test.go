package acquire

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/pkg/apollo"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "acquire.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedAccount(t *testing.T, st store.LedgerStore, userID string, balance int64, freeConsumed int) {
	t.Helper()
	_, err := st.UpdateAccount(context.Background(), userID, func(a *model.CreditAccount) ([]model.CreditTransaction, error) {
		a.Balance = balance
		a.FreeUnitsConsumed = freeConsumed
		return nil, nil
	})
	require.NoError(t, err)
}

func person(i int) apollo.Person {
	return apollo.Person{
		ID:        fmt.Sprintf("p%d", i),
		FirstName: "Person",
		LastName:  fmt.Sprintf("Number%d", i),
		Title:     "VP Sales",
		Organization: &apollo.Organization{
			Name:          fmt.Sprintf("Company %d", i),
			PrimaryDomain: fmt.Sprintf("company%d.com", i),
		},
	}
}

func people(n int) *apollo.SearchResponse {
	resp := &apollo.SearchResponse{Pagination: apollo.Pagination{Page: 1, TotalEntries: n}}
	for i := range n {
		resp.People = append(resp.People, person(i))
	}
	return resp
}

func empty() *apollo.SearchResponse {
	return &apollo.SearchResponse{}
}

// brokenCache fails every call.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("cache down")
}

func (brokenCache) SetWithTTL(context.Context, string, string, time.Duration) error {
	return errors.New("cache down")
}

// staticCache returns a fixed value for every key.
type staticCache struct{ value string }

func (c staticCache) Get(context.Context, string) (string, bool, error) { return c.value, true, nil }

func (staticCache) SetWithTTL(context.Context, string, string, time.Duration) error { return nil }

// flakyLedgerStore fails account updates while fail is set.
type flakyLedgerStore struct {
	store.LedgerStore
	fail atomic.Bool
}

func (f *flakyLedgerStore) UpdateAccount(ctx context.Context, userID string, fn store.AccountMutation) (*model.CreditAccount, error) {
	if f.fail.Load() {
		return nil, &store.UnavailableError{Op: "update account", Err: errors.New("connection reset by peer")}
	}
	return f.LedgerStore.UpdateAccount(ctx, userID, fn)
}

// cancelAfterSave cancels the request context once the lead list is stored,
// the way a client disconnect or handler timeout would.
type cancelAfterSave struct {
	store.LeadStore
	cancel context.CancelFunc
}

func (c cancelAfterSave) SaveLeadList(ctx context.Context, list *model.LeadList) (string, error) {
	id, err := c.LeadStore.SaveLeadList(ctx, list)
	c.cancel()
	return id, err
}
