package usenet

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// Provider is one failover candidate.
type Provider struct {
	Name   string
	Client SegmentClient
	Type   domain.ProviderType
}

// FailoverClient tries providers in tier order, preferring whichever provider
// succeeded last within its tier.
type FailoverClient struct {
	providers      []Provider
	lastSuccessful atomic.Int64
}

// NewFailoverClient composes providers. Disabled providers are never tried.
func NewFailoverClient(providers []Provider) *FailoverClient {
	c := &FailoverClient{providers: providers}
	c.lastSuccessful.Store(-1)
	return c
}

// Providers returns the composed providers in configured order.
func (c *FailoverClient) Providers() []Provider {
	return c.providers
}

// orderedProviders returns provider indexes: pooled, then backup-and-stats,
// then backup-only; the sticky provider first within its tier.
func (c *FailoverClient) orderedProviders() []int {
	sticky := int(c.lastSuccessful.Load())
	order := make([]int, 0, len(c.providers))
	for _, tier := range domain.FailoverTiers {
		if sticky >= 0 && sticky < len(c.providers) && c.providers[sticky].Type == tier {
			order = append(order, sticky)
		}
		for i, p := range c.providers {
			if p.Type == tier && i != sticky {
				order = append(order, i)
			}
		}
	}
	return order
}

func (c *FailoverClient) Stat(ctx context.Context, segmentID string) (domain.StatResponse, error) {
	return runWithFailover(ctx, c, func(sc SegmentClient) (domain.StatResponse, error) {
		res, err := sc.Stat(ctx, segmentID)
		if err == nil && !res.Exists {
			// a negative stat is not final until every provider agrees
			return res, zerrors.NewArticleNotFound(segmentID)
		}
		return res, err
	})
}

func (c *FailoverClient) Date(ctx context.Context) (time.Time, error) {
	return runWithFailover(ctx, c, func(sc SegmentClient) (time.Time, error) {
		return sc.Date(ctx)
	})
}

func (c *FailoverClient) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	return runWithFailover(ctx, c, func(sc SegmentClient) (domain.ArticleHeaders, error) {
		return sc.GetArticleHeaders(ctx, segmentID)
	})
}

func (c *FailoverClient) GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*SegmentStream, error) {
	return runWithFailover(ctx, c, func(sc SegmentClient) (*SegmentStream, error) {
		return sc.GetSegmentStream(ctx, segmentID, includeHeaders)
	})
}

func (c *FailoverClient) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	return runWithFailover(ctx, c, func(sc SegmentClient) (domain.YencHeader, error) {
		return sc.GetSegmentYencHeader(ctx, segmentID)
	})
}

func (c *FailoverClient) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	return runWithFailover(ctx, c, func(sc SegmentClient) (int64, error) {
		return sc.GetFileSize(ctx, segmentIDs)
	})
}

// WaitForReady is a no-op; readiness is tracked per pooled connection.
func (c *FailoverClient) WaitForReady(ctx context.Context) error {
	return nil
}

// Close closes every provider client.
func (c *FailoverClient) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runWithFailover[T any](ctx context.Context, c *FailoverClient, fn func(SegmentClient) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for _, index := range c.orderedProviders() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if lastErr != nil && !errors.Is(lastErr, zerrors.ErrArticleNotFound) {
			log.WithField("provider", c.providers[index].Name).WithError(lastErr).
				Debug("segment operation failed, trying another provider")
		}

		result, err := fn(c.providers[index].Client)
		if err == nil {
			c.lastSuccessful.Store(int64(index))
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
	}

	if lastErr != nil {
		return zero, lastErr
	}
	return zero, zerrors.ErrNoProviders
}
