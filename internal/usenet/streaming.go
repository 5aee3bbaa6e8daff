package usenet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	"github.com/zzenonn/zdav/internal/telemetry"
)

// ConnectionFactory opens and authenticates one connection to a provider.
type ConnectionFactory func(ctx context.Context, provider domain.ProviderConfig) (SegmentClient, error)

// CacheOptions sizes the header cache in front of the providers. Its
// counters are registered with Registerer when one is set.
type CacheOptions struct {
	Size       int
	TTL        time.Duration
	Registerer prometheus.Registerer
}

type providerEntry struct {
	config      domain.ProviderConfig
	client      *PooledClient
	unsubscribe func()
}

// StreamingClient is the process-wide segment client. It owns one pool per
// enabled provider and can swap the whole provider set at runtime.
type StreamingClient struct {
	factory      ConnectionFactory
	sink         telemetry.Sink
	cache        CacheOptions
	cacheMetrics *CacheMetrics

	mu      sync.RWMutex
	entries []*providerEntry
	client  SegmentClient

	statsMu sync.Mutex
	stats   map[*providerEntry]connections.PoolStats
}

// NewStreamingClient builds pools for every enabled provider.
func NewStreamingClient(
	providers []domain.ProviderConfig,
	factory ConnectionFactory,
	sink telemetry.Sink,
	cache CacheOptions,
) (*StreamingClient, error) {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	s := &StreamingClient{
		factory:      factory,
		sink:         sink,
		cache:        cache,
		cacheMetrics: NewCacheMetrics(cache.Registerer),
		stats:        make(map[*providerEntry]connections.PoolStats),
	}
	if err := s.Reconfigure(providers); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfigure replaces the provider set. Pools of the previous set are closed
// once the new set is in place; requests already holding their connections
// finish on them.
func (s *StreamingClient) Reconfigure(providers []domain.ProviderConfig) error {
	var entries []*providerEntry
	for _, cfg := range providers {
		if !cfg.Enabled() {
			continue
		}
		entry, err := s.newEntry(cfg)
		if err != nil {
			closeEntries(entries)
			return err
		}
		entries = append(entries, entry)
	}

	failoverProviders := make([]Provider, len(entries))
	for i, entry := range entries {
		failoverProviders[i] = Provider{
			Name:   entry.config.Name,
			Client: entry.client,
			Type:   entry.config.Type,
		}
	}
	client := NewCachingClient(NewFailoverClient(failoverProviders), s.cache.Size, s.cache.TTL, s.cacheMetrics)

	s.statsMu.Lock()
	s.stats = make(map[*providerEntry]connections.PoolStats, len(entries))
	for _, entry := range entries {
		s.stats[entry] = connections.PoolStats{Max: entry.config.MaxConnections}
	}
	s.statsMu.Unlock()
	for _, entry := range entries {
		s.subscribe(entry)
	}

	s.mu.Lock()
	previous := s.entries
	s.entries = entries
	s.client = client
	s.mu.Unlock()

	closeEntries(previous)

	log.WithField("providers", len(entries)).Info("configured segment providers")
	return nil
}

func (s *StreamingClient) newEntry(cfg domain.ProviderConfig) (*providerEntry, error) {
	factory := s.factory
	pool, err := connections.NewPool(cfg.MaxConnections, func(ctx context.Context) (SegmentClient, error) {
		return factory(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}
	return &providerEntry{
		config: cfg,
		client: NewPooledClient(cfg.Name, pool),
	}, nil
}

func (s *StreamingClient) subscribe(entry *providerEntry) {
	entry.unsubscribe = entry.client.Pool().Subscribe(func(stats connections.PoolStats) {
		s.statsMu.Lock()
		defer s.statsMu.Unlock()
		if _, ok := s.stats[entry]; !ok {
			return
		}
		s.stats[entry] = stats
		s.sink.Connections(s.totalLocked())
	})
}

func closeEntries(entries []*providerEntry) {
	for _, entry := range entries {
		if entry.unsubscribe != nil {
			entry.unsubscribe()
		}
		if err := entry.client.Close(); err != nil {
			log.WithField("provider", entry.config.Name).WithError(err).Warn("error closing provider pool")
		}
	}
}

func (s *StreamingClient) totalLocked() connections.PoolStats {
	var total connections.PoolStats
	for _, st := range s.stats {
		total.Live += st.Live
		total.Idle += st.Idle
		total.Max += st.Max
	}
	return total
}

// Stats is the occupancy summed over every current provider.
func (s *StreamingClient) Stats() connections.PoolStats {
	s.mu.RLock()
	entries := s.entries
	s.mu.RUnlock()

	var total connections.PoolStats
	for _, entry := range entries {
		st := entry.client.Pool().Stats()
		total.Live += st.Live
		total.Idle += st.Idle
		total.Max += st.Max
	}
	return total
}

// ProviderStats is the occupancy of each current provider by name.
func (s *StreamingClient) ProviderStats() map[string]connections.PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]connections.PoolStats, len(s.entries))
	for _, entry := range s.entries {
		out[entry.config.Name] = entry.client.Pool().Stats()
	}
	return out
}

func (s *StreamingClient) current() SegmentClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// CheckAllSegments stats every segment through the current provider set.
func (s *StreamingClient) CheckAllSegments(ctx context.Context, segmentIDs []string, concurrency int, progress func(int)) error {
	return CheckAllSegments(ctx, s.current(), segmentIDs, concurrency, progress)
}

func (s *StreamingClient) Stat(ctx context.Context, segmentID string) (domain.StatResponse, error) {
	return s.current().Stat(ctx, segmentID)
}

func (s *StreamingClient) Date(ctx context.Context) (time.Time, error) {
	return s.current().Date(ctx)
}

func (s *StreamingClient) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	return s.current().GetArticleHeaders(ctx, segmentID)
}

func (s *StreamingClient) GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*SegmentStream, error) {
	return s.current().GetSegmentStream(ctx, segmentID, includeHeaders)
}

func (s *StreamingClient) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	return s.current().GetSegmentYencHeader(ctx, segmentID)
}

func (s *StreamingClient) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	return s.current().GetFileSize(ctx, segmentIDs)
}

func (s *StreamingClient) WaitForReady(ctx context.Context) error {
	return s.current().WaitForReady(ctx)
}

// Close closes every provider pool.
func (s *StreamingClient) Close() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.client = NewFailoverClient(nil)
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats = make(map[*providerEntry]connections.PoolStats)
	s.statsMu.Unlock()

	var errs []error
	for _, entry := range entries {
		if entry.unsubscribe != nil {
			entry.unsubscribe()
		}
		if err := entry.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
