package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_EmptyQueue(t *testing.T) {
	st := newTestStore(t)

	snap, err := NewCollector(st).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.QueueDepth)
	assert.Equal(t, 0, snap.DueNow)
	assert.Nil(t, snap.LastReconcile)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_CountsDueAndDeferred(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC()
	enqueue(t, st, "rec-1", now.Add(-time.Minute))
	enqueue(t, st, "rec-2", now.Add(-time.Second))
	enqueue(t, st, "rec-3", now.Add(time.Hour))

	snap, err := NewCollector(st).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Equal(t, 2, snap.DueNow)
}

func TestCollector_StoreError(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())

	_, err := NewCollector(st).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count settlements")
}
