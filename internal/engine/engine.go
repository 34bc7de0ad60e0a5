// Package engine implements the boot sequence: discover every watchable
// resource type, spawn one Watch Loop per type, and return a running handle
// immediately rather than blocking until the cluster settles.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resourcewatch/aggregator/internal/cache"
	"github.com/resourcewatch/aggregator/internal/config"
	"github.com/resourcewatch/aggregator/internal/discovery"
	"github.com/resourcewatch/aggregator/internal/lib"
	"github.com/resourcewatch/aggregator/internal/transport"
	"github.com/resourcewatch/aggregator/internal/watchloop"
)

// Engine owns the Cache and every resource type's running Watch Loop.
type Engine struct {
	Cache  *cache.Cache
	logger *zap.Logger
	wg     sync.WaitGroup
}

// Boot discovers every watchable resource type and starts a Watch Loop for
// each, then returns. It does not wait for any loop to finish its first
// list — callers get a handle to a cache that fills in asynchronously.
func Boot(ctx context.Context, cfg *config.EngineConfig, client *transport.Client, logger *zap.Logger) (*Engine, error) {
	descriptors, err := discovery.NewDiscoverer(client).DiscoverAll(ctx)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Cache:  cache.New(cfg.CacheBufferSize),
		logger: logger,
	}

	backoffCfg := lib.BackoffConfig{
		InitialBackoff:    cfg.BackoffInitial,
		MaxBackoff:        cfg.BackoffMax,
		BackoffMultiplier: cfg.BackoffMultiplier,
		// No overall deadline to the backoff curve (spec requirement).
		ResetAfter: 24 * time.Hour,
	}

	logger.Info("discovered watchable resource types", zap.Int("count", len(descriptors)))

	for _, d := range descriptors {
		loop := watchloop.New(d, client, e.Cache, logger, backoffCfg, cfg.MaxConsecutiveWatchErr)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			loop.Run(ctx)
		}()
	}

	go func() {
		<-ctx.Done()
		e.wg.Wait()
		e.Cache.Close()
	}()

	return e, nil
}
