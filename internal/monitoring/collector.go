// Package monitoring periodically drains the settlement queue and alerts
// when charges are piling up or have been given up on.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/store"
)

// dueScanLimit bounds how many due entries one snapshot counts.
const dueScanLimit = 1000

// Snapshot is a point-in-time view of settlement health.
type Snapshot struct {
	QueueDepth int `json:"queue_depth"`
	DueNow     int `json:"due_now"`

	// Filled by the checker after a reconcile pass.
	LastReconcile  *acquire.ReconcileReport `json:"last_reconcile,omitempty"`
	ReconcileError string                   `json:"reconcile_error,omitempty"`
	CachePurged    int                      `json:"cache_purged"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector reads queue metrics from the store.
type Collector struct {
	queue store.SettlementQueue
}

// NewCollector creates a new metrics collector.
func NewCollector(queue store.SettlementQueue) *Collector {
	return &Collector{queue: queue}
}

// Collect counts queued and currently due settlements.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	depth, err := c.queue.CountSettlements(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count settlements")
	}
	snap.QueueDepth = depth

	due, err := c.queue.DueSettlements(ctx, dueScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: due settlements")
	}
	snap.DueNow = len(due)

	return snap, nil
}
