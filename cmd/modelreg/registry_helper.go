package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modelreg/internal/cache"
	"modelreg/internal/config"
	"modelreg/internal/logging"
	"modelreg/internal/metrics"
	"modelreg/internal/provider/dataset"
	"modelreg/internal/registry"
)

// app bundles what a command needs to talk to the registry.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	registry *registry.Registry
	datasets []*dataset.Provider
}

// loadConfig loads and validates the configuration under root.
func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc := cfg.Logging.LoggerConfig()
	lc.Output = os.Stderr
	return logging.NewLogger(lc)
}

// resolve makes p relative to root unless it is absolute.
func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func openCache(cfg *config.Config, root string, logger *logging.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "sqlite":
		return cache.OpenSQLite(resolve(root, cfg.Cache.Dir), logger.Named("cache"))
	default:
		return cache.NewMemoryCache(), nil
	}
}

// openApp builds the registry from the configuration under root and
// registers every dataset found in the datasets directory.
func openApp(root string) (*app, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Runtime)
	}

	c, err := openCache(cfg, root, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	reg, err := registry.New(registry.Options{
		Cache:        c,
		Logger:       logger,
		Metrics:      m,
		Pool:         cfg.Executor.PoolConfig(),
		CacheWorkers: cfg.Executor.CacheWorkers,
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: m, registry: reg}

	dir := resolve(root, cfg.Datasets.Dir)
	datasets, err := dataset.LoadDir(dir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load datasets from %s: %w", dir, err)
	}
	for _, ds := range datasets {
		if _, err := reg.AddProvider(ds); err != nil {
			a.close()
			return nil, err
		}
	}
	a.datasets = datasets
	logger.Debug("Registry ready", map[string]interface{}{
		"cache":    cfg.Cache.Backend,
		"datasets": len(datasets),
	})
	return a, nil
}

// queryTimeout returns the configured per-query timeout, zero for none.
func (a *app) queryTimeout() time.Duration {
	return time.Duration(a.cfg.Query.TimeoutSeconds) * time.Second
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.registry.Close(ctx); err != nil {
		a.logger.Warn("Registry did not close cleanly", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
