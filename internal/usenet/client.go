// Package usenet composes segment providers into one resilient client.
//
// The layers all implement SegmentClient and wrap one another:
//
//	CachingClient -> FailoverClient -> PooledClient (one per provider) -> pooled connections
//
// A PooledClient replaces a broken connection and retries once. A
// FailoverClient tries the next provider on any failure, so an outage or a
// missing article on one provider is masked by the others.
package usenet

import (
	"context"
	"io"
	"time"

	"github.com/zzenonn/zdav/internal/domain"
)

// SegmentClient is everything the rest of the system needs from a provider
// connection. Implementations report a missing segment with an error matching
// errors.ErrArticleNotFound and an unusable connection with one matching
// errors.ErrProtocol.
type SegmentClient interface {
	Stat(ctx context.Context, segmentID string) (domain.StatResponse, error)
	Date(ctx context.Context) (time.Time, error)
	GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error)
	GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*SegmentStream, error)
	GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error)
	GetFileSize(ctx context.Context, segmentIDs []string) (int64, error)

	// WaitForReady returns once the connection can serve another request,
	// e.g. after a segment stream it handed out has been drained.
	WaitForReady(ctx context.Context) error
	Close() error
}

// SegmentStream is the decoded body of one segment. Closing it frees the
// connection that produced it.
type SegmentStream struct {
	Header domain.YencHeader
	Body   io.ReadCloser
}

func (s *SegmentStream) Read(p []byte) (int, error) {
	return s.Body.Read(p)
}

func (s *SegmentStream) Close() error {
	return s.Body.Close()
}

// FileSizeFromLastSegment computes a file size from the yEnc header of its
// last segment, which every provider implementation shares.
func FileSizeFromLastSegment(ctx context.Context, c SegmentClient, segmentIDs []string) (int64, error) {
	if len(segmentIDs) == 0 {
		return 0, nil
	}
	header, err := c.GetSegmentYencHeader(ctx, segmentIDs[len(segmentIDs)-1])
	if err != nil {
		return 0, err
	}
	return header.FileSize, nil
}
