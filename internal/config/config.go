package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Server  ServerConfig  `envPrefix:"SERVER_"`
	Cluster ClusterConfig `envPrefix:"CLUSTER_"`
	Engine  EngineConfig  `envPrefix:"ENGINE_"`
	Auth    AuthConfig    `envPrefix:"AUTH_"`
	Logging LoggingConfig `envPrefix:"LOGGING_"`
}

type ServerConfig struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ClusterConfig steers credential discovery for the upstream API server.
// KubeconfigPath is normally left empty: clusterconfig.Load follows the
// KUBECONFIG env var -> in-cluster service account -> ~/.kube/config order
// itself. Setting it here overrides that order with an explicit path.
type ClusterConfig struct {
	KubeconfigPath string `env:"KUBECONFIG_PATH"`
}

// EngineConfig tunes the cache and watch-loop machinery.
type EngineConfig struct {
	CacheBufferSize        int           `env:"CACHE_BUFFER_SIZE" envDefault:"1024"`
	BackoffInitial         time.Duration `env:"BACKOFF_INITIAL" envDefault:"0s"`
	BackoffMax             time.Duration `env:"BACKOFF_MAX" envDefault:"10s"`
	BackoffMultiplier      float64       `env:"BACKOFF_MULTIPLIER" envDefault:"1.3"`
	MaxConsecutiveWatchErr int           `env:"MAX_CONSECUTIVE_WATCH_ERRORS" envDefault:"5"`
	// DiscoveryRetryInterval is parsed but not read: a discovery failure
	// during engine.Boot is returned to the caller and is not retried.
	DiscoveryRetryInterval time.Duration `env:"DISCOVERY_RETRY_INTERVAL" envDefault:"5s"`
}

// AuthConfig governs the served boundary: either a bearer token file is
// configured, or auth is explicitly disabled. Exactly one must be set.
type AuthConfig struct {
	TokenPath string `env:"TOKEN_PATH"`
	Disabled  bool   `env:"DISABLE" envDefault:"false"`
}

func (a AuthConfig) Validate() error {
	if a.Disabled && a.TokenPath != "" {
		return fmt.Errorf("auth: AUTH_TOKEN_PATH and AUTH_DISABLE are mutually exclusive")
	}
	if !a.Disabled && a.TokenPath == "" {
		return fmt.Errorf("auth: set AUTH_TOKEN_PATH or explicitly set AUTH_DISABLE=true")
	}
	return nil
}

type LoggingConfig struct {
	Level            string `env:"LEVEL" envDefault:"info"`
	Format           string `env:"FORMAT" envDefault:"json"`
	EnableCaller     bool   `env:"ENABLE_CALLER" envDefault:"true"`
	EnableStacktrace bool   `env:"ENABLE_STACKTRACE" envDefault:"false"`
	Development      bool   `env:"DEVELOPMENT" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
