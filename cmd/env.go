package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/config"
	"github.com/sells-group/xivmarket/internal/market"
	"github.com/sells-group/xivmarket/internal/resilience"
	"github.com/sells-group/xivmarket/internal/store"
)

// openStore connects to the configured backend.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		retry := resilience.RetryFromConfig(c.Retry)
		retry.OnRetry = resilience.RetryLogger("store", "connect")
		pg, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*store.PostgresStore, error) {
			return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
				MaxConns: c.Store.MaxConns,
				MinConns: c.Store.MinConns,
			})
		})
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// marketEnv holds the store and the warmed service used by serve and
// export.
type marketEnv struct {
	Store   store.Store
	Service *market.Service
}

// Close releases the store.
func (e *marketEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initMarket validates config for mode, opens and migrates the store, and
// warms the service cache. Callers should defer env.Close().
func initMarket(ctx context.Context, c *config.Config, mode string) (*marketEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env := &marketEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	svc, err := market.New(ctx, st, market.OptionsFromConfig(c))
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "start market service")
	}
	env.Service = svc

	zap.L().Info("market ready",
		zap.String("driver", c.Store.Driver),
		zap.Int("items", svc.Cache().Len()),
	)
	return env, nil
}
