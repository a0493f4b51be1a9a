package search

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zfogg/vidlayer/internal/cache"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/metrics"
	"go.uber.org/zap"
)

// CachedIndex wraps an Index with a short-lived result cache and records
// search metrics per backend
type CachedIndex struct {
	index   Index
	store   cache.Store
	ttl     time.Duration
	backend string
}

// NewCachedIndex wraps index. store may be nil, in which case results are
// never cached.
func NewCachedIndex(index Index, store cache.Store, ttl time.Duration, backend string) *CachedIndex {
	return &CachedIndex{index: index, store: store, ttl: ttl, backend: backend}
}

// cacheKey generates a cache key for the search query
func (c *CachedIndex) cacheKey(params VideoSearchParams) string {
	data, _ := json.Marshal(params)
	hash := md5.Sum(data)
	return fmt.Sprintf("search:videos:%x", hash)
}

func (c *CachedIndex) IndexVideo(ctx context.Context, doc VideoDoc) error {
	return c.index.IndexVideo(ctx, doc)
}

func (c *CachedIndex) DeleteVideo(ctx context.Context, videoID string) error {
	return c.index.DeleteVideo(ctx, videoID)
}

// SearchVideos searches for videos with caching
func (c *CachedIndex) SearchVideos(ctx context.Context, params VideoSearchParams) (*VideoSearchResult, error) {
	m := metrics.Get()
	start := time.Now()

	var key string
	if c.store != nil {
		key = c.cacheKey(params)
		if cached, err := c.store.Get(ctx, key); err == nil {
			var result VideoSearchResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				m.SearchRequestsTotal.WithLabelValues(c.backend, "cached").Inc()
				return &result, nil
			}
		}
	}

	result, err := c.index.SearchVideos(ctx, params)
	m.SearchDuration.WithLabelValues(c.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		m.SearchRequestsTotal.WithLabelValues(c.backend, "error").Inc()
		return nil, err
	}
	m.SearchRequestsTotal.WithLabelValues(c.backend, "success").Inc()

	if c.store != nil {
		if data, err := json.Marshal(result); err == nil {
			if err := c.store.Set(ctx, key, string(data), c.ttl); err != nil {
				logger.Log.Debug("Failed to cache search result", zap.Error(err))
			}
		}
	}

	return result, nil
}
