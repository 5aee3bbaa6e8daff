package usenet

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/zzenonn/zdav/internal/domain"
)

const (
	// DefaultCacheSize is the number of headers kept per cache.
	DefaultCacheSize = 8192

	// sharedFetchTimeout bounds a header fetch that outlives the callers
	// waiting on it.
	sharedFetchTimeout = time.Minute
)

// CacheMetrics counts header cache lookups.
type CacheMetrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewCacheMetrics registers the cache counters with reg. A nil reg leaves
// them unregistered.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	factory := promauto.With(reg)
	return &CacheMetrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "zdav_segment_header_cache_hits_total",
			Help: "Segment header lookups served from cache.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "zdav_segment_header_cache_misses_total",
			Help: "Segment header lookups that went to a provider.",
		}),
	}
}

// CachingClient memoizes the immutable per-segment headers of the wrapped
// client. Existence checks and bodies always go to the wrapped client.
type CachingClient struct {
	SegmentClient

	yenc     *expirable.LRU[string, domain.YencHeader]
	articles *expirable.LRU[string, domain.ArticleHeaders]
	group    singleflight.Group
	metrics  *CacheMetrics
}

// NewCachingClient wraps next. A zero size uses DefaultCacheSize and a zero
// ttl keeps entries until they are evicted.
func NewCachingClient(next SegmentClient, size int, ttl time.Duration, metrics *CacheMetrics) *CachingClient {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if metrics == nil {
		metrics = NewCacheMetrics(nil)
	}
	return &CachingClient{
		SegmentClient: next,
		yenc:          expirable.NewLRU[string, domain.YencHeader](size, nil, ttl),
		articles:      expirable.NewLRU[string, domain.ArticleHeaders](size, nil, ttl),
		metrics:       metrics,
	}
}

func (c *CachingClient) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	if header, ok := c.yenc.Get(segmentID); ok {
		c.metrics.hits.Inc()
		return header, nil
	}
	c.metrics.misses.Inc()

	return fetchShared(ctx, &c.group, "yenc:"+segmentID, func(ctx context.Context) (domain.YencHeader, error) {
		if header, ok := c.yenc.Get(segmentID); ok {
			return header, nil
		}
		header, err := c.SegmentClient.GetSegmentYencHeader(ctx, segmentID)
		if err != nil {
			return domain.YencHeader{}, err
		}
		c.yenc.Add(segmentID, header)
		return header, nil
	})
}

func (c *CachingClient) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	if headers, ok := c.articles.Get(segmentID); ok {
		c.metrics.hits.Inc()
		return headers, nil
	}
	c.metrics.misses.Inc()

	return fetchShared(ctx, &c.group, "article:"+segmentID, func(ctx context.Context) (domain.ArticleHeaders, error) {
		if headers, ok := c.articles.Get(segmentID); ok {
			return headers, nil
		}
		headers, err := c.SegmentClient.GetArticleHeaders(ctx, segmentID)
		if err != nil {
			return domain.ArticleHeaders{}, err
		}
		c.articles.Add(segmentID, headers)
		return headers, nil
	})
}

// GetFileSize goes through the cached yEnc lookup.
func (c *CachingClient) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	return FileSizeFromLastSegment(ctx, c, segmentIDs)
}

// fetchShared runs fetch once for all concurrent callers of key. The fetch
// keeps the values of the first caller's ctx but not its cancellation, so a
// caller that gives up only stops its own wait.
func fetchShared[T any](ctx context.Context, group *singleflight.Group, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	ch := group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected type from singleflight: %T", res.Val)
		}
		return v, nil
	}
}
