package app

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/resourcewatch/aggregator/internal/api/handlers"
	"github.com/resourcewatch/aggregator/internal/api/server"
	"github.com/resourcewatch/aggregator/internal/cache"
	"github.com/resourcewatch/aggregator/internal/clusterconfig"
	"github.com/resourcewatch/aggregator/internal/config"
	"github.com/resourcewatch/aggregator/internal/engine"
	"github.com/resourcewatch/aggregator/internal/transport"
)

// Module wires the whole watcher process: config, logger, upstream
// credentials, transport client, engine (discovery + cache + watch loops),
// HTTP handlers, router, and server.
var Module = fx.Options(
	fx.Provide(
		config.Load,
		NewLogger,
		validator.New,
		NewTransportClient,
		NewEngine,
		NewCache,
		handlers.NewWatchHandler,
		handlers.NewListHandler,
		handlers.NewStatusHandler,
		server.NewRouter,
		server.NewServer,
	),
)

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Logging.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(cfg.Logging.Level))
	zapConfig.Encoding = cfg.Logging.Format
	zapConfig.DisableCaller = !cfg.Logging.EnableCaller
	zapConfig.DisableStacktrace = !cfg.Logging.EnableStacktrace
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	return zapConfig.Build()
}

// NewTransportClient resolves upstream credentials (kubeconfig / in-cluster
// / default path, per spec §6) and builds the Transport Client on top of them.
func NewTransportClient(cfg *config.Config, logger *zap.Logger) (*transport.Client, error) {
	resolved, err := clusterconfig.Load(cfg.Cluster.KubeconfigPath)
	if err != nil {
		return nil, errors.Wrap(err, "app: resolving cluster credentials")
	}

	return transport.NewClient(transport.Options{
		BaseURL:           resolved.Host,
		TLSConfig:         resolved.TLSConfig,
		BearerToken:       resolved.BearerToken,
		BackoffInitial:    cfg.Engine.BackoffInitial,
		BackoffMax:        cfg.Engine.BackoffMax,
		BackoffMultiplier: cfg.Engine.BackoffMultiplier,
	}, logger)
}

// NewEngine runs the boot sequence described in spec §4.3: discover every
// watchable resource type and spawn a Watch Loop for each before returning.
func NewEngine(lc fx.Lifecycle, cfg *config.Config, client *transport.Client, logger *zap.Logger) (*engine.Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	eng, err := engine.Boot(ctx, &cfg.Engine, client, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})

	return eng, nil
}

func NewCache(eng *engine.Engine) *cache.Cache {
	return eng.Cache
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
