package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/usenet"
)

// GCSConnection serves segments stored as objects in one GCS bucket.
type GCSConnection struct {
	bucket *storage.BucketHandle
	name   string
	gate   readyGate
	now    func() time.Time
}

// DialGCS checks that bucket is reachable and returns a connection to it.
func DialGCS(ctx context.Context, client *storage.Client, bucket string) (*GCSConnection, error) {
	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isGCSAccessDenied(err) {
			return nil, fmt.Errorf("%w: gs://%s: %v", zerrors.ErrCouldNotLogin, bucket, err)
		}
		return nil, fmt.Errorf("%w: gs://%s: %v", zerrors.ErrCouldNotConnect, bucket, err)
	}
	return &GCSConnection{bucket: handle, name: bucket, now: time.Now}, nil
}

func (c *GCSConnection) Stat(ctx context.Context, segmentID string) (domain.StatResponse, error) {
	_, err := c.attrs(ctx, segmentID)
	if errors.Is(err, zerrors.ErrArticleNotFound) {
		return domain.StatResponse{SegmentID: segmentID, Exists: false}, nil
	}
	if err != nil {
		return domain.StatResponse{}, err
	}
	return domain.StatResponse{SegmentID: segmentID, Exists: true}, nil
}

// Date checks the bucket is still reachable and returns the local time.
func (c *GCSConnection) Date(ctx context.Context) (time.Time, error) {
	if _, err := c.bucket.Attrs(ctx); err != nil {
		return time.Time{}, classifyGCSError("date", c.name, err)
	}
	return c.now().UTC(), nil
}

func (c *GCSConnection) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	attrs, err := c.attrs(ctx, segmentID)
	if err != nil {
		return domain.ArticleHeaders{}, err
	}
	return domain.ArticleHeaders{
		Date:    ArticleDate(attrs.Metadata, attrs.Created),
		Headers: normalizeMetadata(attrs.Metadata),
	}, nil
}

func (c *GCSConnection) GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*usenet.SegmentStream, error) {
	attrs, err := c.attrs(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	header, err := ParseYencHeader(segmentID, attrs.Metadata, attrs.Size)
	if err != nil {
		return nil, err
	}

	reader, err := c.bucket.Object(segmentID).NewReader(ctx)
	if err != nil {
		return nil, classifyGCSError("body", segmentID, err)
	}

	return &usenet.SegmentStream{
		Header: header,
		Body:   &gatedBody{ReadCloser: reader, release: c.gate.hold()},
	}, nil
}

func (c *GCSConnection) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	attrs, err := c.attrs(ctx, segmentID)
	if err != nil {
		return domain.YencHeader{}, err
	}
	return ParseYencHeader(segmentID, attrs.Metadata, attrs.Size)
}

func (c *GCSConnection) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	return usenet.FileSizeFromLastSegment(ctx, c, segmentIDs)
}

// WaitForReady returns once the last segment body handed out is closed.
func (c *GCSConnection) WaitForReady(ctx context.Context) error {
	return c.gate.wait(ctx)
}

// Close is a no-op; the storage client is shared by every connection.
func (c *GCSConnection) Close() error {
	return nil
}

func (c *GCSConnection) attrs(ctx context.Context, segmentID string) (*storage.ObjectAttrs, error) {
	attrs, err := c.bucket.Object(segmentID).Attrs(ctx)
	if err != nil {
		return nil, classifyGCSError("head", segmentID, err)
	}
	return attrs, nil
}

// classifyGCSError maps GCS failures onto the segment error taxonomy.
func classifyGCSError(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return zerrors.NewArticleNotFound(key)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return zerrors.NewArticleNotFound(key)
	}
	if isGCSAccessDenied(err) {
		return fmt.Errorf("%w: %v", zerrors.ErrCouldNotLogin, err)
	}
	return zerrors.NewProtocolError(op, err)
}

func isGCSAccessDenied(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusUnauthorized
	}
	return false
}
