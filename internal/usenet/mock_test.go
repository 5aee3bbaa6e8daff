package usenet

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/zzenonn/zdav/internal/domain"
)

type mockClient struct {
	StatFn           func(ctx context.Context, segmentID string) (domain.StatResponse, error)
	DateFn           func(ctx context.Context) (time.Time, error)
	ArticleHeadersFn func(ctx context.Context, segmentID string) (domain.ArticleHeaders, error)
	SegmentStreamFn  func(ctx context.Context, segmentID string, includeHeaders bool) (*SegmentStream, error)
	YencHeaderFn     func(ctx context.Context, segmentID string) (domain.YencHeader, error)
	FileSizeFn       func(ctx context.Context, segmentIDs []string) (int64, error)
	WaitForReadyFn   func(ctx context.Context) error

	closed atomic.Bool
}

func (m *mockClient) Stat(ctx context.Context, segmentID string) (domain.StatResponse, error) {
	if m.StatFn == nil {
		return domain.StatResponse{SegmentID: segmentID, Exists: true}, nil
	}
	return m.StatFn(ctx, segmentID)
}

func (m *mockClient) Date(ctx context.Context) (time.Time, error) {
	if m.DateFn == nil {
		return time.Time{}, nil
	}
	return m.DateFn(ctx)
}

func (m *mockClient) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	if m.ArticleHeadersFn == nil {
		return domain.ArticleHeaders{}, nil
	}
	return m.ArticleHeadersFn(ctx, segmentID)
}

func (m *mockClient) GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*SegmentStream, error) {
	if m.SegmentStreamFn == nil {
		return nil, nil
	}
	return m.SegmentStreamFn(ctx, segmentID, includeHeaders)
}

func (m *mockClient) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	if m.YencHeaderFn == nil {
		return domain.YencHeader{}, nil
	}
	return m.YencHeaderFn(ctx, segmentID)
}

func (m *mockClient) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	if m.FileSizeFn == nil {
		return FileSizeFromLastSegment(ctx, m, segmentIDs)
	}
	return m.FileSizeFn(ctx, segmentIDs)
}

func (m *mockClient) WaitForReady(ctx context.Context) error {
	if m.WaitForReadyFn == nil {
		return nil
	}
	return m.WaitForReadyFn(ctx)
}

func (m *mockClient) Close() error {
	m.closed.Store(true)
	return nil
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
