package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/config"
)

// Reconciler retries queued settlements.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (*acquire.ReconcileReport, error)
}

// CachePurger drops expired search cache rows.
type CachePurger interface {
	DeleteExpired(ctx context.Context) (int, error)
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithReconciler runs a reconcile pass of up to batch entries before each check.
func WithReconciler(r Reconciler, batch int) CheckerOption {
	return func(c *Checker) {
		c.reconciler = r
		c.batch = batch
	}
}

// WithCachePurger purges expired cache rows on each tick.
func WithCachePurger(p CachePurger) CheckerOption {
	return func(c *Checker) {
		c.purger = p
	}
}

// Checker runs periodic settlement checks in the background.
type Checker struct {
	collector  *Collector
	alerter    *Alerter
	cfg        config.MonitoringConfig
	reconciler Reconciler
	purger     CachePurger
	batch      int
}

// NewChecker creates a background settlement checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, opts ...CheckerOption) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting settlement checker",
		zap.Duration("interval", interval),
		zap.Bool("reconcile", c.reconciler != nil),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("settlement checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one tick and returns the snapshot it evaluated, or nil when
// metrics could not be collected.
func (c *Checker) check(ctx context.Context, log *zap.Logger) *Snapshot {
	var (
		report   *acquire.ReconcileReport
		recErr   error
		purged   int
		purgeErr error
	)
	if c.reconciler != nil {
		report, recErr = c.reconciler.Reconcile(ctx, c.batch)
		if recErr != nil {
			log.Error("monitoring: reconcile failed", zap.Error(recErr))
		}
	}
	if c.purger != nil {
		purged, purgeErr = c.purger.DeleteExpired(ctx)
		if purgeErr != nil {
			log.Warn("monitoring: purge cache failed", zap.Error(purgeErr))
		}
	}

	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}
	snap.LastReconcile = report
	snap.CachePurged = purged
	if recErr != nil {
		snap.ReconcileError = recErr.Error()
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("queue_depth", snap.QueueDepth))
		return snap
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: settlement check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return snap
}
