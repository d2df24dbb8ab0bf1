package acquire

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/internal/store"
)

const (
	defaultMaxRetries       = 5
	defaultReconcileWorkers = 4
	defaultReconcileBatch   = 100

	// enqueueTimeout bounds the queue write after a failed settlement. It
	// runs detached from the request so a cancelled caller still gets queued.
	enqueueTimeout = 10 * time.Second
)

// Request is one caller-initiated acquisition.
type Request struct {
	UserID      string         `json:"user_id"`
	WorkspaceID string         `json:"workspace_id"`
	Criteria    model.Criteria `json:"criteria"`
}

// Outcome is a persisted and settled acquisition.
type Outcome struct {
	Leads              []model.Lead `json:"leads"`
	RecordID           string       `json:"record_id"`
	CreditsDeducted    int64        `json:"credits_deducted"`
	FreeUnitsUsed      int          `json:"free_units_used"`
	RemainingBalance   int64        `json:"remaining_balance"`
	RemainingFreeUnits int          `json:"remaining_free_units"`
	FromCache          bool         `json:"from_cache"`
	Strategy           string       `json:"strategy"`
}

// ReconcileReport summarizes one Reconcile pass.
type ReconcileReport struct {
	Processed int `json:"processed"`
	Settled   int `json:"settled"`
	Retried   int `json:"retried"`
	Exhausted int `json:"exhausted"`
	// Held entries are waiting for the balance to cover them. They do not
	// use up attempts.
	Held int `json:"held"`
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxRetries sets how many reconcile attempts a pending settlement gets.
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the delay schedule between reconcile attempts.
func WithBackoff(p resilience.Policy) ServiceOption {
	return func(s *Service) {
		s.backoff = p
	}
}

// WithReconcileWorkers bounds how many settlements Reconcile retries at once.
func WithReconcileWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Service charges for acquisitions. Credits are checked before the provider
// is called and settled only for the leads actually persisted.
type Service struct {
	acquirer   *Acquirer
	ledger     *ledger.Ledger
	leads      store.LeadStore
	queue      store.SettlementQueue
	maxRetries int
	backoff    resilience.Policy
	workers    int
	now        func() time.Time
}

// NewService wires the orchestrator. queue may be nil, in which case a
// failed settlement is reported but not queued for retry.
func NewService(acq *Acquirer, l *ledger.Ledger, leads store.LeadStore, queue store.SettlementQueue, opts ...ServiceOption) *Service {
	s := &Service{
		acquirer:   acq,
		ledger:     l,
		leads:      leads,
		queue:      queue,
		maxRetries: defaultMaxRetries,
		backoff: resilience.Policy{
			BaseDelay:  30 * time.Second,
			MaxDelay:   30 * time.Minute,
			Multiplier: 2,
			Jitter:     0.1,
		},
		workers: defaultReconcileWorkers,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AcquireAndSettle validates the request, verifies the user can pay for the
// full requested count, acquires leads, persists them and charges for the
// number actually delivered.
//
// When the charge fails after the leads were persisted the error is a
// *SettlementPendingError carrying the record ID; the leads stay available
// and the charge is retried by Reconcile.
func (s *Service) AcquireAndSettle(ctx context.Context, req Request) (*Outcome, error) {
	if req.UserID == "" {
		return nil, eris.Wrap(model.ErrInvalidCriteria, "user id is required")
	}
	if err := req.Criteria.Validate(); err != nil {
		return nil, err
	}
	criteria := req.Criteria.Normalized()
	log := zap.L().With(zap.String("user_id", req.UserID), zap.String("workspace_id", req.WorkspaceID))

	aff, err := s.ledger.CheckAffordability(ctx, req.UserID, criteria.LeadCount)
	if err != nil {
		return nil, eris.Wrap(err, "acquire: affordability check")
	}
	if err := aff.Err(); err != nil {
		log.Info("acquire: rejected, insufficient credits",
			zap.Int("requested", criteria.LeadCount),
			zap.Int64("balance", aff.Balance),
			zap.Int("free_units", aff.FreeUnitsAvailable),
		)
		return nil, err
	}

	res, err := s.acquirer.Acquire(ctx, criteria)
	if err != nil {
		return nil, err
	}

	list := &model.LeadList{
		UserID:      req.UserID,
		WorkspaceID: req.WorkspaceID,
		Criteria:    criteria,
		Leads:       res.Leads,
		Strategy:    res.Strategy,
		FromCache:   res.FromCache,
	}
	recordID, err := s.leads.SaveLeadList(ctx, list)
	if err != nil {
		return nil, eris.Wrap(err, "acquire: save lead list")
	}

	yield := len(res.Leads)
	ded, err := s.ledger.Settle(ctx, req.UserID, req.WorkspaceID, yield, recordID)
	if err != nil {
		log.Error("acquire: settlement failed after save",
			zap.String("record_id", recordID),
			zap.Int("yield", yield),
			zap.Error(err),
		)
		return nil, s.deferSettlement(ctx, req, recordID, yield, err)
	}

	log.Info("acquire: completed",
		zap.String("record_id", recordID),
		zap.String("strategy", res.Strategy),
		zap.Bool("from_cache", res.FromCache),
		zap.Int("leads", yield),
		zap.Int64("credits", ded.CreditsDeducted),
		zap.Duration("elapsed", res.Elapsed),
	)

	return &Outcome{
		Leads:              res.Leads,
		RecordID:           recordID,
		CreditsDeducted:    ded.CreditsDeducted,
		FreeUnitsUsed:      ded.FreeUnitsUsed,
		RemainingBalance:   ded.RemainingBalance,
		RemainingFreeUnits: ded.RemainingFreeUnits,
		FromCache:          res.FromCache,
		Strategy:           res.Strategy,
	}, nil
}

func (s *Service) deferSettlement(ctx context.Context, req Request, recordID string, yield int, cause error) error {
	pending := &SettlementPendingError{RecordID: recordID, Yield: yield, Err: cause}
	if s.queue == nil {
		return pending
	}

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	now := s.now().UTC()
	err := s.queue.EnqueueSettlement(qctx, model.PendingSettlement{
		UserID:       req.UserID,
		WorkspaceID:  req.WorkspaceID,
		RecordID:     recordID,
		ActualYield:  yield,
		Error:        cause.Error(),
		ErrorType:    ErrorType(cause),
		MaxRetries:   s.maxRetries,
		NextRetryAt:  now.Add(s.backoff.Delay(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	})
	if err != nil {
		zap.L().Error("acquire: could not queue settlement",
			zap.String("record_id", recordID),
			zap.Error(err),
		)
		return pending
	}
	pending.Queued = true
	return pending
}

const errTypeInsufficientCredits = "insufficient_credits"

// ErrorType buckets a settlement failure for the queue.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return errTypeInsufficientCredits
	case errors.Is(err, store.ErrDuplicateSettlement):
		return "duplicate"
	case errors.Is(err, store.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "unknown"
	}
}

// Reconcile retries up to limit due settlements. A settlement that succeeds,
// or turns out to be recorded already, leaves the queue. An entry the user
// cannot currently pay for is held without using an attempt and is only
// settled once a grant covers it. Any other failure pushes the entry's next
// attempt out; an entry that used its last attempt stays in the queue for
// inspection but is no longer due.
func (s *Service) Reconcile(ctx context.Context, limit int) (*ReconcileReport, error) {
	if s.queue == nil {
		return &ReconcileReport{}, nil
	}
	if limit <= 0 {
		limit = defaultReconcileBatch
	}

	due, err := s.queue.DueSettlements(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "acquire: load due settlements")
	}

	var (
		mu     sync.Mutex
		report = &ReconcileReport{Processed: len(due)}
	)
	record := func(fn func(r *ReconcileReport)) {
		mu.Lock()
		fn(report)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, p := range due {
		g.Go(func() error {
			log := zap.L().With(zap.String("settlement_id", p.ID), zap.String("record_id", p.RecordID))

			hold := func(cause error) error {
				next := s.now().Add(s.backoff.Delay(0))
				if hErr := s.queue.HoldSettlement(gctx, p.ID, next, cause.Error()); hErr != nil {
					return eris.Wrapf(hErr, "acquire: hold settlement %s", p.ID)
				}
				log.Info("acquire: settlement held until balance covers it", zap.Int("yield", p.ActualYield))
				record(func(r *ReconcileReport) { r.Held++ })
				return nil
			}

			if p.ErrorType == errTypeInsufficientCredits {
				aff, err := s.ledger.CheckAffordability(gctx, p.UserID, p.ActualYield)
				if err != nil {
					return eris.Wrapf(err, "acquire: affordability for settlement %s", p.ID)
				}
				if affErr := aff.Err(); affErr != nil {
					return hold(affErr)
				}
			}

			_, err := s.ledger.Settle(gctx, p.UserID, p.WorkspaceID, p.ActualYield, p.RecordID)
			if err == nil || errors.Is(err, store.ErrDuplicateSettlement) {
				if rmErr := s.queue.RemoveSettlement(gctx, p.ID); rmErr != nil {
					return eris.Wrapf(rmErr, "acquire: remove settlement %s", p.ID)
				}
				log.Info("acquire: reconciled settlement", zap.Bool("already_recorded", err != nil))
				record(func(r *ReconcileReport) { r.Settled++ })
				return nil
			}
			if errors.Is(err, ledger.ErrInsufficientCredits) {
				return hold(err)
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			next := s.now().Add(s.backoff.Delay(p.RetryCount + 1))
			if mkErr := s.queue.MarkSettlementRetry(gctx, p.ID, next, err.Error()); mkErr != nil {
				return eris.Wrapf(mkErr, "acquire: mark settlement %s", p.ID)
			}
			if p.RetryCount+1 >= p.MaxRetries {
				log.Error("acquire: settlement retries exhausted", zap.Int("attempts", p.RetryCount+1), zap.Error(err))
				record(func(r *ReconcileReport) { r.Exhausted++ })
				return nil
			}
			log.Warn("acquire: settlement retry failed", zap.Int("attempt", p.RetryCount+1), zap.Time("next_retry_at", next), zap.Error(err))
			record(func(r *ReconcileReport) { r.Retried++ })
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, eris.Wrap(err, "acquire: reconcile")
	}
	return report, nil
}
