package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/zzenonn/zdav/internal/arr"
	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/usenet"
)

// memoryItems is an in-memory item store.
type memoryItems struct {
	mu      sync.Mutex
	items   map[string]domain.Item
	updates int
}

func newMemoryItems(items ...domain.Item) *memoryItems {
	m := &memoryItems{items: make(map[string]domain.Item)}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *memoryItems) ListCheckableItems(ctx context.Context) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Item
	for _, item := range m.items {
		if item.IsCheckable() {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryItems) GetItem(ctx context.Context, id string) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, fmt.Errorf("%w: %s", zerrors.ErrItemNotFound, id)
	}
	return item, nil
}

func (m *memoryItems) PutItem(ctx context.Context, item domain.Item) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryItems) UpdateHealthSchedule(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ID]
	if !ok {
		return fmt.Errorf("%w: %s", zerrors.ErrItemNotFound, item.ID)
	}
	stored.LastHealthCheck = item.LastHealthCheck
	stored.NextHealthCheck = item.NextHealthCheck
	stored.ReleaseDate = item.ReleaseDate
	m.items[item.ID] = stored
	m.updates++
	return nil
}

func (m *memoryItems) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memoryItems) get(id string) (domain.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item, ok
}

type memoryResults struct {
	mu      sync.Mutex
	results []domain.HealthCheckResult
	lists   int
}

func (m *memoryResults) AddResult(ctx context.Context, result domain.HealthCheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

func (m *memoryResults) ListActionNeededItemIDs(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	ids := make(map[string]struct{})
	for _, r := range m.results {
		if r.RepairStatus == domain.RepairActionNeeded {
			ids[r.ItemID] = struct{}{}
		}
	}
	return ids, nil
}

func (m *memoryResults) all() []domain.HealthCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HealthCheckResult(nil), m.results...)
}

type mockChecker struct {
	CheckFn          func(ctx context.Context, ids []string, concurrency int, progress func(int)) error
	ArticleHeadersFn func(ctx context.Context, id string) (domain.ArticleHeaders, error)
	limit            int
}

func (m *mockChecker) CheckAllSegments(ctx context.Context, ids []string, concurrency int, progress func(int)) error {
	m.limit, _ = connections.ConnectionLimit(ctx)
	if m.CheckFn == nil {
		return nil
	}
	return m.CheckFn(ctx, ids, concurrency, progress)
}

func (m *mockChecker) GetArticleHeaders(ctx context.Context, id string) (domain.ArticleHeaders, error) {
	if m.ArticleHeadersFn == nil {
		return domain.ArticleHeaders{}, nil
	}
	return m.ArticleHeadersFn(ctx, id)
}

type mockLocator struct {
	FindFn  func(itemID string) (string, error)
	removed []string
}

func (m *mockLocator) FindSymlink(itemID string) (string, error) {
	if m.FindFn == nil {
		return "", nil
	}
	return m.FindFn(itemID)
}

func (m *mockLocator) Remove(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

type mockArr struct {
	host              string
	roots             []string
	RemoveAndSearchFn func(ctx context.Context, path string) (bool, error)
	searched          []string
}

func (m *mockArr) Host() string { return m.host }

func (m *mockArr) GetRootFolders(ctx context.Context) ([]arr.RootFolder, error) {
	var folders []arr.RootFolder
	for i, root := range m.roots {
		folders = append(folders, arr.RootFolder{ID: i + 1, Path: root})
	}
	return folders, nil
}

func (m *mockArr) RemoveAndSearch(ctx context.Context, path string) (bool, error) {
	m.searched = append(m.searched, path)
	return m.RemoveAndSearchFn(ctx, path)
}

type recordingSink struct {
	mu       sync.Mutex
	progress []string
	statuses []string
}

func (s *recordingSink) HealthProgress(itemID string, progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, itemID+"|"+progress)
}

func (s *recordingSink) HealthStatus(itemID string, result domain.HealthResult, action domain.RepairAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, fmt.Sprintf("%s|%d|%d", itemID, result, action))
}

func (s *recordingSink) Connections(connections.PoolStats) {}

// segmentStore is a provider holding whole segments in memory.
type segmentStore struct {
	mu       sync.Mutex
	segments map[string][]byte
	headers  map[string]domain.YencHeader
	dates    map[string]time.Time
}

func newSegmentStore() *segmentStore {
	return &segmentStore{
		segments: make(map[string][]byte),
		headers:  make(map[string]domain.YencHeader),
		dates:    make(map[string]time.Time),
	}
}

func (s *segmentStore) put(id string, header domain.YencHeader, date time.Time, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[id] = data
	s.headers[id] = header
	s.dates[id] = date
}

func (s *segmentStore) UploadSegment(ctx context.Context, id string, header domain.YencHeader, date time.Time, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.put(id, header, date, data)
	return nil
}

func (s *segmentStore) Stat(ctx context.Context, id string) (domain.StatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.segments[id]
	return domain.StatResponse{SegmentID: id, Exists: ok}, nil
}

func (s *segmentStore) Date(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (s *segmentStore) GetArticleHeaders(ctx context.Context, id string) (domain.ArticleHeaders, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date, ok := s.dates[id]
	if !ok {
		return domain.ArticleHeaders{}, zerrors.NewArticleNotFound(id)
	}
	return domain.ArticleHeaders{Date: date}, nil
}

func (s *segmentStore) GetSegmentStream(ctx context.Context, id string, includeHeaders bool) (*usenet.SegmentStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.segments[id]
	if !ok {
		return nil, zerrors.NewArticleNotFound(id)
	}
	return &usenet.SegmentStream{Header: s.headers[id], Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (s *segmentStore) GetSegmentYencHeader(ctx context.Context, id string) (domain.YencHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	header, ok := s.headers[id]
	if !ok {
		return domain.YencHeader{}, zerrors.NewArticleNotFound(id)
	}
	return header, nil
}

func (s *segmentStore) GetFileSize(ctx context.Context, ids []string) (int64, error) {
	return usenet.FileSizeFromLastSegment(ctx, s, ids)
}

func (s *segmentStore) WaitForReady(ctx context.Context) error { return nil }

func (s *segmentStore) Close() error { return nil }
