package usenet

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// PooledClient runs every operation on a connection leased from one
// provider's pool.
//
// A lease is released in the background once the connection reports ready,
// so pool occupancy may lag briefly behind a returned call.
type PooledClient struct {
	name        string
	pool        *connections.Pool[SegmentClient]
	live        atomic.Int64
	idle        atomic.Int64
	unsubscribe func()

	// shutdown bounds background readiness waits.
	shutdown context.Context
	cancel   context.CancelFunc
}

// NewPooledClient wraps pool. The client owns the pool from here on.
func NewPooledClient(name string, pool *connections.Pool[SegmentClient]) *PooledClient {
	shutdown, cancel := context.WithCancel(context.Background())
	c := &PooledClient{
		name:     name,
		pool:     pool,
		shutdown: shutdown,
		cancel:   cancel,
	}
	c.unsubscribe = pool.Subscribe(func(stats connections.PoolStats) {
		c.live.Store(int64(stats.Live))
		c.idle.Store(int64(stats.Idle))
	})
	return c
}

// Name returns the provider name the client was built for.
func (c *PooledClient) Name() string {
	return c.name
}

// Pool returns the underlying connection pool.
func (c *PooledClient) Pool() *connections.Pool[SegmentClient] {
	return c.pool
}

// ActiveConnections is the number of leased connections.
func (c *PooledClient) ActiveConnections() int {
	active := c.live.Load() - c.idle.Load()
	if active < 0 {
		return 0
	}
	return int(active)
}

// IdleConnections is the number of constructed connections waiting for work.
func (c *PooledClient) IdleConnections() int {
	idle := c.idle.Load()
	if idle < 0 {
		return 0
	}
	return int(idle)
}

func (c *PooledClient) Stat(ctx context.Context, segmentID string) (domain.StatResponse, error) {
	return runWithConnection(ctx, c, "stat", func(conn SegmentClient) (domain.StatResponse, error) {
		return conn.Stat(ctx, segmentID)
	})
}

func (c *PooledClient) Date(ctx context.Context) (time.Time, error) {
	return runWithConnection(ctx, c, "date", func(conn SegmentClient) (time.Time, error) {
		return conn.Date(ctx)
	})
}

func (c *PooledClient) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	return runWithConnection(ctx, c, "head", func(conn SegmentClient) (domain.ArticleHeaders, error) {
		return conn.GetArticleHeaders(ctx, segmentID)
	})
}

func (c *PooledClient) GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*SegmentStream, error) {
	return runWithConnection(ctx, c, "body", func(conn SegmentClient) (*SegmentStream, error) {
		return conn.GetSegmentStream(ctx, segmentID, includeHeaders)
	})
}

func (c *PooledClient) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	return runWithConnection(ctx, c, "yenc header", func(conn SegmentClient) (domain.YencHeader, error) {
		return conn.GetSegmentYencHeader(ctx, segmentID)
	})
}

func (c *PooledClient) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	return runWithConnection(ctx, c, "file size", func(conn SegmentClient) (int64, error) {
		return conn.GetFileSize(ctx, segmentIDs)
	})
}

// WaitForReady returns once a connection can be leased.
func (c *PooledClient) WaitForReady(ctx context.Context) error {
	lease, err := c.pool.Acquire(ctx, c.reservedFloor(ctx))
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// reservedFloor applies the connection limit carried by ctx to this pool.
func (c *PooledClient) reservedFloor(ctx context.Context) int {
	return connections.ReservedFor(ctx, c.pool.Max())
}

// Close disposes the pool and its connections.
func (c *PooledClient) Close() error {
	c.unsubscribe()
	c.cancel()
	return c.pool.Close()
}

// runWithConnection leases a connection and runs fn on it. A protocol error
// discards the connection and retries once on a new one.
func runWithConnection[T any](ctx context.Context, c *PooledClient, op string, fn func(SegmentClient) (T, error)) (T, error) {
	var zero T
	retries := 1

	for {
		lease, err := c.pool.Acquire(ctx, c.reservedFloor(ctx))
		if err != nil {
			return zero, err
		}

		result, err := fn(lease.Conn())
		if err == nil {
			c.releaseWhenReady(lease)
			return result, nil
		}

		if errors.Is(err, zerrors.ErrProtocol) {
			lease.Replace()
			lease.Release()
			if retries > 0 {
				retries--
				log.WithFields(log.Fields{
					"provider": c.name,
					"op":       op,
				}).WithError(err).Debug("replacing connection and retrying")
				continue
			}
			return zero, err
		}

		lease.Release()
		return zero, err
	}
}

func (c *PooledClient) releaseWhenReady(lease *connections.Lease[SegmentClient]) {
	go func() {
		if err := lease.Conn().WaitForReady(c.shutdown); err != nil {
			log.WithField("provider", c.name).WithError(err).Warn("connection did not become ready, replacing it")
			lease.Replace()
		}
		lease.Release()
	}()
}
