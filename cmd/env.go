package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/acquire"
	"github.com/sells-group/prospect-engine/internal/cache"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/ledger"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/internal/store"
	"github.com/sells-group/prospect-engine/pkg/apollo"
)

// appEnv bundles the components a command needs. Fields a mode does not
// use are left nil.
type appEnv struct {
	Store   store.Store
	Ledger  *ledger.Ledger
	Service *acquire.Service

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and builds
// the ledger. The acquisition service is built only for modes that call
// the provider or reconcile settlements.
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, closers: []func() error{st.Close}}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Ledger = ledger.New(st, c.Credits)

	switch mode {
	case "serve", "acquire", "reconcile":
	default:
		return env, nil
	}

	gw, err := initCache(ctx, c.Cache, st, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	acq := acquire.NewAcquirer(newProvider(c.Provider),
		acquire.WithCache(gw, c.Cache.TTL()),
		acquire.WithPageLimit(c.Provider.PageLimit),
	)
	env.Service = acquire.NewService(acq, env.Ledger, st, st,
		acquire.WithMaxRetries(c.Reconcile.MaxRetries),
		acquire.WithReconcileWorkers(c.Reconcile.Workers),
		acquire.WithBackoff(resilience.Policy{
			BaseDelay:  time.Duration(c.Reconcile.BaseDelaySecs) * time.Second,
			MaxDelay:   time.Duration(c.Reconcile.MaxDelaySecs) * time.Second,
			Multiplier: 2,
			Jitter:     0.1,
		}),
	)
	return env, nil
}

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "prospect.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &c.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// initCache picks the search cache. The store-backed cache shares the
// ledger database; Redis gets its own connection, closed with env.
func initCache(ctx context.Context, c config.CacheConfig, st store.Store, env *appEnv) (cache.Gateway, error) {
	switch c.Driver {
	case "redis":
		r, err := cache.NewRedis(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, r.Close)
		return r, nil
	case "store", "":
		return st, nil
	case "none":
		return cache.Nop{}, nil
	default:
		return nil, eris.Errorf("unsupported cache driver: %s", c.Driver)
	}
}

func newProvider(c config.ProviderConfig) apollo.Client {
	opts := []apollo.Option{
		apollo.WithTimeout(time.Duration(c.TimeoutSecs) * time.Second),
		apollo.WithRateLimit(c.RatePerSec, c.RateBurst),
	}
	if c.BaseURL != "" {
		opts = append(opts, apollo.WithBaseURL(c.BaseURL))
	}
	if c.RetryAttempts > 0 {
		p := resilience.DefaultPolicy()
		p.MaxAttempts = c.RetryAttempts
		opts = append(opts, apollo.WithRetryPolicy(p))
	}
	return apollo.NewClient(c.Key, opts...)
}
