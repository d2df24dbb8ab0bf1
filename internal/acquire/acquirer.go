// Package acquire runs lead acquisitions end to end: cache lookup, the
// query fallback chain against the provider, normalization, persistence and
// credit settlement.
package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/cache"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/normalize"
	"github.com/sells-group/prospect-engine/internal/strategy"
	"github.com/sells-group/prospect-engine/pkg/apollo"
)

// DefaultCacheTTL is how long a successful search result is reused.
const DefaultCacheTTL = time.Hour

// StrategyCache marks a result served from cache.
const StrategyCache = "cache"

// Result is one acquisition before persistence and settlement.
type Result struct {
	Leads      []model.Lead  `json:"leads"`
	TotalFound int           `json:"total_found"`
	FromCache  bool          `json:"from_cache"`
	Elapsed    time.Duration `json:"elapsed"`
	Strategy   string        `json:"strategy"`
	Attempts   int           `json:"attempts"`
}

// cachedResult is the payload stored under a fingerprint key.
type cachedResult struct {
	Leads      []model.Lead `json:"leads"`
	TotalFound int          `json:"total_found"`
	Strategy   string       `json:"strategy"`
}

// Option configures an Acquirer.
type Option func(*Acquirer)

// WithCache sets the cache gateway and entry TTL. A nil gateway disables
// caching; a non-positive ttl keeps DefaultCacheTTL.
func WithCache(g cache.Gateway, ttl time.Duration) Option {
	return func(a *Acquirer) {
		if g == nil {
			g = cache.Nop{}
		}
		a.cache = g
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

// WithPageLimit caps the provider page size.
func WithPageLimit(n int) Option {
	return func(a *Acquirer) {
		a.pageLimit = n
	}
}

// Acquirer finds leads for criteria. It holds no per-request state.
type Acquirer struct {
	provider  apollo.Client
	cache     cache.Gateway
	cacheTTL  time.Duration
	pageLimit int
}

// NewAcquirer creates an Acquirer. Without WithCache every lookup misses.
func NewAcquirer(provider apollo.Client, opts ...Option) *Acquirer {
	a := &Acquirer{
		provider:  provider,
		cache:     cache.Nop{},
		cacheTTL:  DefaultCacheTTL,
		pageLimit: apollo.MaxPerPage,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Acquire returns up to criteria.LeadCount leads. A cached result for the
// same criteria is returned without contacting the provider. Otherwise the
// planned shapes are tried in order until one yields at least one lead.
func (a *Acquirer) Acquire(ctx context.Context, criteria model.Criteria) (*Result, error) {
	start := time.Now()
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	criteria = criteria.Normalized()
	key := Fingerprint(criteria)
	log := zap.L().With(zap.String("cache_key", key), zap.Int("lead_count", criteria.LeadCount))

	if res, ok := a.fromCache(ctx, key, log); ok {
		res.Leads = capLeads(res.Leads, criteria.LeadCount)
		res.Elapsed = time.Since(start)
		log.Info("acquire: cache hit", zap.Int("leads", len(res.Leads)))
		return res, nil
	}

	res, err := a.runFallback(ctx, criteria, log)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)

	a.toCache(ctx, key, res, log)
	return res, nil
}

func (a *Acquirer) fromCache(ctx context.Context, key string, log *zap.Logger) (*Result, bool) {
	raw, found, err := a.cache.Get(ctx, key)
	if err != nil {
		log.Warn("acquire: cache read failed, treating as miss", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal([]byte(raw), &cached); err != nil || len(cached.Leads) == 0 {
		log.Warn("acquire: discarding unreadable cache entry", zap.Error(err))
		return nil, false
	}
	return &Result{
		Leads:      cached.Leads,
		TotalFound: cached.TotalFound,
		FromCache:  true,
		Strategy:   StrategyCache,
	}, true
}

func (a *Acquirer) toCache(ctx context.Context, key string, res *Result, log *zap.Logger) {
	payload, err := json.Marshal(cachedResult{Leads: res.Leads, TotalFound: res.TotalFound, Strategy: res.Strategy})
	if err != nil {
		log.Warn("acquire: marshal cache entry", zap.Error(err))
		return
	}
	if err := a.cache.SetWithTTL(ctx, key, string(payload), a.cacheTTL); err != nil {
		log.Warn("acquire: cache write failed", zap.Error(err))
	}
}

// runFallback walks the shapes in order. Bad credentials, an exhausted rate
// limit or a cancelled context stop the walk; every other failure moves on
// to the next shape.
func (a *Acquirer) runFallback(ctx context.Context, criteria model.Criteria, log *zap.Logger) (*Result, error) {
	shapes := strategy.Plan(criteria, a.pageLimit)

	var lastErr error
	attempts := 0
	for _, shape := range shapes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		shapeLog := log.With(zap.String("strategy", shape.Name), zap.Int("attempt", attempts))

		resp, err := a.provider.SearchPeople(ctx, shape.Request)
		if err != nil {
			if apollo.IsFatal(err) {
				shapeLog.Error("acquire: provider refused search, aborting", zap.Error(err))
				return nil, err
			}
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			shapeLog.Warn("acquire: strategy failed, trying next", zap.Error(err))
			lastErr = err
			continue
		}

		records := resp.Records()
		leads := normalize.Leads(records, criteria.Requirements)
		shapeLog.Debug("acquire: strategy returned",
			zap.Int("records", len(records)),
			zap.Int("leads", len(leads)),
			zap.Int("total_entries", resp.Pagination.TotalEntries),
		)
		if len(leads) == 0 {
			continue
		}

		total := resp.Pagination.TotalEntries
		if total < len(leads) {
			total = len(leads)
		}
		leads = capLeads(leads, criteria.LeadCount)
		shapeLog.Info("acquire: strategy succeeded", zap.Int("leads", len(leads)))
		return &Result{
			Leads:      leads,
			TotalFound: total,
			Strategy:   shape.Name,
			Attempts:   attempts,
		}, nil
	}

	return nil, &NoResultsError{Attempted: attempts, LastErr: lastErr}
}

func capLeads(leads []model.Lead, n int) []model.Lead {
	if n > 0 && len(leads) > n {
		return leads[:n]
	}
	return leads
}
