package objectstore

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zzenonn/zdav/internal/domain"
)

// Object metadata keys carrying a segment's yEnc header and article date.
const (
	MetaFileName    = "yenc-name"
	MetaFileSize    = "yenc-size"
	MetaLineLength  = "yenc-line"
	MetaPartNumber  = "yenc-part"
	MetaTotalParts  = "yenc-total"
	MetaPartOffset  = "yenc-begin"
	MetaPartSize    = "yenc-part-size"
	MetaArticleDate = "article-date"
)

// SegmentMetadata encodes header and date as object metadata.
func SegmentMetadata(header domain.YencHeader, date time.Time) map[string]string {
	meta := map[string]string{
		MetaFileName:   header.FileName,
		MetaFileSize:   strconv.FormatInt(header.FileSize, 10),
		MetaLineLength: strconv.Itoa(header.LineLength),
		MetaPartNumber: strconv.Itoa(header.PartNumber),
		MetaTotalParts: strconv.Itoa(header.TotalParts),
		MetaPartOffset: strconv.FormatInt(header.PartOffset, 10),
		MetaPartSize:   strconv.FormatInt(header.PartSize, 10),
	}
	if !date.IsZero() {
		meta[MetaArticleDate] = date.UTC().Format(time.RFC3339)
	}
	return meta
}

// ParseYencHeader decodes a segment header from object metadata. objectSize
// stands in for a missing part size.
func ParseYencHeader(segmentID string, meta map[string]string, objectSize int64) (domain.YencHeader, error) {
	meta = normalizeMetadata(meta)

	header := domain.YencHeader{
		FileName: meta[MetaFileName],
		PartSize: objectSize,
	}

	var err error
	if header.FileSize, err = requiredInt(meta, MetaFileSize); err != nil {
		return domain.YencHeader{}, fmt.Errorf("segment %s: %w", segmentID, err)
	}
	if header.PartOffset, err = requiredInt(meta, MetaPartOffset); err != nil {
		return domain.YencHeader{}, fmt.Errorf("segment %s: %w", segmentID, err)
	}
	if v, ok := meta[MetaPartSize]; ok && v != "" {
		if header.PartSize, err = strconv.ParseInt(v, 10, 64); err != nil {
			return domain.YencHeader{}, fmt.Errorf("segment %s: invalid %s: %w", segmentID, MetaPartSize, err)
		}
	}
	header.LineLength = optionalInt(meta, MetaLineLength)
	header.PartNumber = optionalInt(meta, MetaPartNumber)
	header.TotalParts = optionalInt(meta, MetaTotalParts)

	return header, nil
}

// ArticleDate returns the posted date stored in meta, or fallback.
func ArticleDate(meta map[string]string, fallback time.Time) time.Time {
	meta = normalizeMetadata(meta)
	if v := meta[MetaArticleDate]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return fallback
}

// S3 lowercases user metadata keys and some gateways keep the amz prefix.
func normalizeMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		key := strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		out[key] = v
	}
	return out
}

func requiredInt(meta map[string]string, key string) (int64, error) {
	v, ok := meta[key]
	if !ok || v == "" {
		return 0, fmt.Errorf("missing %s metadata", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func optionalInt(meta map[string]string, key string) int {
	n, err := strconv.Atoi(meta[key])
	if err != nil {
		return 0
	}
	return n
}

// readyGate tracks whether a connection has a body stream outstanding.
type readyGate struct {
	mu   sync.Mutex
	busy chan struct{}
}

// hold marks the connection busy until the returned function is called.
func (g *readyGate) hold() func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.busy = ch
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(ch)
			g.mu.Lock()
			if g.busy == ch {
				g.busy = nil
			}
			g.mu.Unlock()
		})
	}
}

func (g *readyGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.busy
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gatedBody releases its gate when closed.
type gatedBody struct {
	io.ReadCloser
	release func()
}

func (b *gatedBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
