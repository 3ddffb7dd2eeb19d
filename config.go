package edgecache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hupe1980/edgecache/cachestore"
)

// Config carries worker settings loaded from the environment. Every field
// maps onto a constructor option; zero values leave the option at its
// default.
type Config struct {
	CacheDir       string        `env:"EDGECACHE_CACHE_DIR"`
	Version        string        `env:"EDGECACHE_VERSION" envDefault:"v1"`
	Manifest       []string      `env:"EDGECACHE_MANIFEST"`
	DataPrefixes   []string      `env:"EDGECACHE_DATA_PREFIXES"`
	StableHosts    []string      `env:"EDGECACHE_STABLE_HOSTS"`
	MaxEntries     int           `env:"EDGECACHE_MAX_ENTRIES"`
	Compression    string        `env:"EDGECACHE_COMPRESSION" envDefault:"zstd"`
	BaseURL        string        `env:"EDGECACHE_BASE_URL"`
	PageURL        string        `env:"EDGECACHE_PAGE_URL"`
	DataURL        string        `env:"EDGECACHE_DATA_URL"`
	Icon           string        `env:"EDGECACHE_ICON"`
	UpdateInterval time.Duration `env:"EDGECACHE_UPDATE_INTERVAL" envDefault:"1m"`
	PoolWorkers    int           `env:"EDGECACHE_POOL_WORKERS"`
}

// ConfigFromEnv loads worker configuration from EDGECACHE_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Options converts the configuration into constructor options.
func (c Config) Options() ([]Option, error) {
	compression, err := cachestore.CompressionByName(c.Compression)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithVersion(c.Version),
		WithCompression(compression),
		WithUpdateInterval(c.UpdateInterval),
	}
	if c.CacheDir != "" {
		opts = append(opts, WithCacheDir(c.CacheDir))
	}
	if len(c.Manifest) > 0 {
		opts = append(opts, WithManifest(c.Manifest))
	}
	if len(c.DataPrefixes) > 0 {
		opts = append(opts, WithDataPrefixes(c.DataPrefixes))
	}
	if len(c.StableHosts) > 0 {
		opts = append(opts, WithStableHosts(c.StableHosts))
	}
	if c.MaxEntries > 0 {
		opts = append(opts, WithMaxEntries(c.MaxEntries))
	}
	if c.BaseURL != "" {
		opts = append(opts, WithBaseURL(c.BaseURL))
	}
	if c.PageURL != "" {
		opts = append(opts, WithPageURL(c.PageURL))
	}
	if c.DataURL != "" {
		opts = append(opts, WithDataURL(c.DataURL))
	}
	if c.Icon != "" {
		opts = append(opts, WithIcon(c.Icon))
	}
	if c.PoolWorkers > 0 {
		opts = append(opts, WithPoolWorkers(c.PoolWorkers))
	}

	return opts, nil
}

// NewFromEnv creates a Worker configured from EDGECACHE_* environment
// variables, with optFns applied on top.
func NewFromEnv(optFns ...Option) (*Worker, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	envOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	return New(append(envOpts, optFns...)...)
}
