package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/config"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, BacklogThreshold: 10}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	st := newTestStore(t)
	checker := NewChecker(NewCollector(st), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	require.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckReconcilesPurgesAndAlerts(t *testing.T) {
	st := newTestStore(t)
	enqueue(t, st, "rec-1", time.Now().Add(-time.Minute))
	enqueue(t, st, "rec-2", time.Now().Add(time.Hour))

	var (
		mu       sync.Mutex
		received []Alert
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		mu.Lock()
		received = append(received, alert)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var gotLimit int
	rec := reconcilerFunc(func(_ context.Context, limit int) (*acquire.ReconcileReport, error) {
		gotLimit = limit
		return &acquire.ReconcileReport{Processed: 1, Exhausted: 1}, nil
	})
	purged := 0
	purger := purgerFunc(func(context.Context) (int, error) {
		purged++
		return 7, nil
	})

	cfg := config.MonitoringConfig{CheckIntervalSecs: 60, BacklogThreshold: 2, WebhookURL: srv.URL}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg,
		WithReconciler(rec, 25),
		WithCachePurger(purger),
	)

	snap := checker.check(context.Background(), zap.NewNop())
	require.NotNil(t, snap)
	assert.Equal(t, 25, gotLimit)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 7, snap.CachePurged)
	assert.Equal(t, 2, snap.QueueDepth)
	assert.Equal(t, 1, snap.DueNow)
	require.NotNil(t, snap.LastReconcile)
	assert.Equal(t, 1, snap.LastReconcile.Exhausted)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, AlertSettlementBacklog, received[0].Type)
	assert.Equal(t, AlertSettlementExhausted, received[1].Type)
}

func TestChecker_CheckRecordsReconcileError(t *testing.T) {
	st := newTestStore(t)
	rec := reconcilerFunc(func(context.Context, int) (*acquire.ReconcileReport, error) {
		return nil, errors.New("queue unreachable")
	})
	purger := purgerFunc(func(context.Context) (int, error) {
		return 0, errors.New("purge failed")
	})

	cfg := config.MonitoringConfig{CheckIntervalSecs: 60}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg,
		WithReconciler(rec, 10),
		WithCachePurger(purger),
	)

	snap := checker.check(context.Background(), zap.NewNop())
	require.NotNil(t, snap)
	assert.Equal(t, "queue unreachable", snap.ReconcileError)
	assert.Nil(t, snap.LastReconcile)
	assert.Equal(t, 0, snap.CachePurged)

	alerts := checker.alerter.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReconcileFailure, alerts[0].Type)
}

func TestChecker_CheckCollectFailure(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())

	cfg := config.MonitoringConfig{CheckIntervalSecs: 60}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	assert.Nil(t, checker.check(context.Background(), zap.NewNop()))
}
