package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/stream"
)

// byteStream rejects SeekEnd like the segment streams do.
type byteStream struct {
	*bytes.Reader
	closed bool
}

func (b *byteStream) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekEnd {
		return 0, zerrors.ErrInvalidSeekOrigin
	}
	return b.Reader.Seek(offset, whence)
}

func (b *byteStream) Write(p []byte) (int, error) { return 0, zerrors.ErrNotSupported }
func (b *byteStream) Length() int64               { return b.Size() }

func (b *byteStream) Close() error {
	b.closed = true
	return nil
}

type mockStreamer struct {
	OpenFn func(ctx context.Context, id string) (domain.Item, stream.Stream, error)
}

func (m *mockStreamer) OpenItem(ctx context.Context, id string) (domain.Item, stream.Stream, error) {
	return m.OpenFn(ctx, id)
}

type mockChecker struct {
	CheckFn func(ctx context.Context, id string) (domain.HealthCheckResult, error)
}

func (m *mockChecker) CheckItem(ctx context.Context, id string) (domain.HealthCheckResult, error) {
	return m.CheckFn(ctx, id)
}

type mockResults struct {
	ListFn func(ctx context.Context, itemID string) ([]domain.HealthCheckResult, error)
}

func (m *mockResults) ListResults(ctx context.Context, itemID string) ([]domain.HealthCheckResult, error) {
	return m.ListFn(ctx, itemID)
}

type fixedStats struct{}

func (fixedStats) Stats() connections.PoolStats {
	return connections.PoolStats{Live: 3, Idle: 1, Max: 10}
}

func (fixedStats) ProviderStats() map[string]connections.PoolStats {
	return map[string]connections.PoolStats{
		"primary": {Live: 2, Idle: 1, Max: 6},
		"backup":  {Live: 1, Idle: 0, Max: 4},
	}
}

var content = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

func newTestServer(t *testing.T) (*httptest.Server, *byteStream) {
	t.Helper()
	st := &byteStream{Reader: bytes.NewReader(content)}
	release := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	streamer := &mockStreamer{OpenFn: func(ctx context.Context, id string) (domain.Item, stream.Stream, error) {
		if id != "item-1" {
			return domain.Item{}, nil, fmt.Errorf("%w: %s", zerrors.ErrItemNotFound, id)
		}
		return domain.Item{ID: id, Path: "/movies/movie.mkv", ReleaseDate: &release}, st, nil
	}}
	checker := &mockChecker{CheckFn: func(ctx context.Context, id string) (domain.HealthCheckResult, error) {
		switch id {
		case "item-1":
			return domain.HealthCheckResult{ID: "r1", ItemID: id, Result: domain.Healthy, Message: "File is healthy."}, nil
		case "dir":
			return domain.HealthCheckResult{}, zerrors.ErrNotSupported
		default:
			return domain.HealthCheckResult{}, errors.New("dynamodb unavailable")
		}
	}}
	results := &mockResults{ListFn: func(ctx context.Context, itemID string) ([]domain.HealthCheckResult, error) {
		return []domain.HealthCheckResult{
			{ID: "r1", ItemID: itemID, RepairStatus: domain.RepairNone},
			{ID: "r2", ItemID: itemID, RepairStatus: domain.RepairActionNeeded},
		}, nil
	}}

	srv := New(":0", streamer, checker, results, fixedStats{}, prometheus.NewRegistry())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func get(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, body
}

func TestStream(t *testing.T) {
	ts, st := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/items/item-1/stream", nil)
	resp, body := get(t, req)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, content) {
		t.Fatalf("GET stream = %d %q", resp.StatusCode, body)
	}
	if !st.closed {
		t.Error("stream was not closed")
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
}

func TestStreamRange(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		rangeHeader string
		want        string
	}{
		{"bytes=0-3", "0123"},
		{"bytes=10-15", "abcdef"},
		{"bytes=-4", "wxyz"},
		{"bytes=30-", "uvwxyz"},
	}
	for _, tt := range tests {
		t.Run(tt.rangeHeader, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/items/item-1/stream", nil)
			req.Header.Set("Range", tt.rangeHeader)
			resp, body := get(t, req)
			if resp.StatusCode != http.StatusPartialContent {
				t.Fatalf("status = %d, want 206", resp.StatusCode)
			}
			if string(body) != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/items/missing/stream", http.StatusNotFound},
		{http.MethodPost, "/api/items/dir/health", http.StatusUnprocessableEntity},
		{http.MethodPost, "/api/items/broken/health", http.StatusInternalServerError},
		{http.MethodDelete, "/api/items/item-1/health", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			resp, _ := get(t, req)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCheckAndHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/items/item-1/health", nil)
	resp, body := get(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST health = %d %s", resp.StatusCode, body)
	}
	var result domain.HealthCheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.ID != "r1" || result.Message != "File is healthy." {
		t.Errorf("result = %+v", result)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/items/item-1/health", nil)
	resp, body = get(t, req)
	var history []domain.HealthCheckResult
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(history) != 2 || history[1].RepairStatus != domain.RepairActionNeeded {
		t.Errorf("GET health = %d %+v", resp.StatusCode, history)
	}
}

func TestConnectionsAndProbes(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/connections", nil)
	resp, body := get(t, req)
	var stats connectionsResponse
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decoding connections: %v", err)
	}
	if resp.StatusCode != http.StatusOK || stats.Live != 3 || stats.Max != 10 || stats.Providers["backup"].Max != 4 {
		t.Errorf("GET connections = %d %+v", resp.StatusCode, stats)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	if resp, body := get(t, req); resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("GET healthz = %d %s", resp.StatusCode, body)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	if resp, _ := get(t, req); resp.StatusCode != http.StatusOK {
		t.Errorf("GET metrics = %d", resp.StatusCode)
	}
}
