package templates

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"github.com/kursadbilgin/mail-dispatch/internal/observability"
	"github.com/kursadbilgin/mail-dispatch/internal/provider"
)

// Resolver finds the HTML body for a notification kind: cache, then blob store,
// then the built-in default for the kind, then the generic built-in.
type Resolver struct {
	store     provider.BlobStore
	cache     *Cache
	container string
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewResolver builds a Resolver. A nil store serves built-in templates only.
func NewResolver(store provider.BlobStore, cache *Cache, container string, logger *zap.Logger) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		store:     store,
		cache:     cache,
		container: strings.TrimSpace(container),
		logger:    logger,
	}
}

func (r *Resolver) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Resolve never fails; it always returns a usable body.
func (r *Resolver) Resolve(ctx context.Context, kind domain.Kind) string {
	name := FileName(kind)

	if r.store != nil && r.container != "" {
		body, hit, err := r.cache.GetOrPopulate(ctx, r.container, name, func(ctx context.Context) (string, error) {
			content, err := r.store.Get(ctx, r.container, name)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(string(content)) == "" {
				return "", fmt.Errorf("template %s/%s is empty", r.container, name)
			}
			return string(content), nil
		})
		if err == nil {
			if hit {
				r.metrics.IncTemplateCacheHit()
			} else {
				r.metrics.IncTemplateCacheMiss()
			}
			return body
		}

		r.metrics.IncTemplateCacheMiss()
		r.logger.Warn("template fetch failed, using built-in template",
			zap.String("kind", kind.String()),
			zap.String("container", r.container),
			zap.String("name", name),
			zap.Error(err),
		)
	}

	if body, ok := Default(kind); ok {
		r.metrics.IncTemplateFallback("default")
		return body
	}

	r.metrics.IncTemplateFallback("generic")
	return Generic()
}

// Generic returns the generic built-in body without consulting the blob store.
// It is counted as "forced" since the caller asked for it.
func (r *Resolver) Generic() string {
	r.metrics.IncTemplateFallback("forced")
	return Generic()
}

// ClearCache empties the template cache and returns how many entries were dropped.
func (r *Resolver) ClearCache() int {
	n := r.cache.Clear()
	r.logger.Info("template cache cleared", zap.Int("entries", n))
	return n
}
