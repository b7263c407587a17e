package cache

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/symptom-expert-server/internal/domain"
)

// TieredCache consults its layers in order and backfills faster layers on a
// hit in a slower one. A failing layer is skipped.
type TieredCache struct {
	layers []domain.ResultCache
	logger *logrus.Logger
}

// NewTieredCache composes layers, fastest first.
func NewTieredCache(logger *logrus.Logger, layers ...domain.ResultCache) *TieredCache {
	return &TieredCache{layers: layers, logger: logger}
}

// Build creates the configured cache. Memory is always the first layer and
// Redis follows it when a URL is set. An unreachable Redis is logged and left
// out.
func Build(cfg domain.CacheConfig, logger *logrus.Logger) *TieredCache {
	layers := []domain.ResultCache{NewMemoryCache(cfg.MaxItems, cfg.TTL)}

	if cfg.RedisURL != "" {
		rc, err := NewRedisCache(cfg, logger)
		if err != nil {
			logger.WithError(err).Warn("Redis result cache unavailable, using memory only")
		} else {
			layers = append(layers, rc)
			logger.Info("Redis result cache enabled")
		}
	}

	return NewTieredCache(logger, layers...)
}

// Get implements domain.ResultCache. It reports an error only when every
// layer missed and at least one failed.
func (t *TieredCache) Get(ctx context.Context, key string) (*domain.DiagnosisResponse, bool, error) {
	var errs []error
	for i, layer := range t.layers {
		resp, ok, err := layer.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		for _, faster := range t.layers[:i] {
			if err := faster.Set(ctx, key, resp); err != nil {
				t.logger.WithError(err).Debug("Cache backfill failed")
			}
		}
		return resp, true, nil
	}
	return nil, false, errors.Join(errs...)
}

// Set implements domain.ResultCache by writing every layer.
func (t *TieredCache) Set(ctx context.Context, key string, resp *domain.DiagnosisResponse) error {
	var errs []error
	for _, layer := range t.layers {
		if err := layer.Set(ctx, key, resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Layers returns the number of active layers.
func (t *TieredCache) Layers() int {
	return len(t.layers)
}

// Close closes every layer that holds resources.
func (t *TieredCache) Close() error {
	var errs []error
	for _, layer := range t.layers {
		if c, ok := layer.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
