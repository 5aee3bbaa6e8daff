package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/usenet"
)

// S3API is the subset of the S3 client a segment connection uses.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Connection serves segments stored as objects in one S3 bucket, keyed by
// segment id.
type S3Connection struct {
	client S3API
	bucket string
	gate   readyGate
	now    func() time.Time
}

// DialS3 checks that bucket is reachable with the client's credentials and
// returns a connection to it.
func DialS3(ctx context.Context, client S3API, bucket string) (*S3Connection, error) {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isS3AccessDenied(err) {
			return nil, fmt.Errorf("%w: s3://%s: %v", zerrors.ErrCouldNotLogin, bucket, err)
		}
		return nil, fmt.Errorf("%w: s3://%s: %v", zerrors.ErrCouldNotConnect, bucket, err)
	}
	return &S3Connection{client: client, bucket: bucket, now: time.Now}, nil
}

func (c *S3Connection) Stat(ctx context.Context, segmentID string) (domain.StatResponse, error) {
	_, err := c.head(ctx, segmentID)
	if errors.Is(err, zerrors.ErrArticleNotFound) {
		return domain.StatResponse{SegmentID: segmentID, Exists: false}, nil
	}
	if err != nil {
		return domain.StatResponse{}, err
	}
	return domain.StatResponse{SegmentID: segmentID, Exists: true}, nil
}

// Date checks the bucket is still reachable and returns the local time.
func (c *S3Connection) Date(ctx context.Context) (time.Time, error) {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return time.Time{}, classifyS3Error("date", c.bucket, err)
	}
	return c.now().UTC(), nil
}

func (c *S3Connection) GetArticleHeaders(ctx context.Context, segmentID string) (domain.ArticleHeaders, error) {
	out, err := c.head(ctx, segmentID)
	if err != nil {
		return domain.ArticleHeaders{}, err
	}
	var fallback time.Time
	if out.LastModified != nil {
		fallback = *out.LastModified
	}
	return domain.ArticleHeaders{
		Date:    ArticleDate(out.Metadata, fallback),
		Headers: normalizeMetadata(out.Metadata),
	}, nil
}

func (c *S3Connection) GetSegmentStream(ctx context.Context, segmentID string, includeHeaders bool) (*usenet.SegmentStream, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(segmentID),
	})
	if err != nil {
		return nil, classifyS3Error("body", segmentID, err)
	}

	header, err := ParseYencHeader(segmentID, out.Metadata, aws.ToInt64(out.ContentLength))
	if err != nil {
		out.Body.Close()
		return nil, err
	}

	return &usenet.SegmentStream{
		Header: header,
		Body:   &gatedBody{ReadCloser: out.Body, release: c.gate.hold()},
	}, nil
}

func (c *S3Connection) GetSegmentYencHeader(ctx context.Context, segmentID string) (domain.YencHeader, error) {
	out, err := c.head(ctx, segmentID)
	if err != nil {
		return domain.YencHeader{}, err
	}
	return ParseYencHeader(segmentID, out.Metadata, aws.ToInt64(out.ContentLength))
}

func (c *S3Connection) GetFileSize(ctx context.Context, segmentIDs []string) (int64, error) {
	return usenet.FileSizeFromLastSegment(ctx, c, segmentIDs)
}

// WaitForReady returns once the last segment body handed out is closed.
func (c *S3Connection) WaitForReady(ctx context.Context) error {
	return c.gate.wait(ctx)
}

// Close is a no-op; the S3 client is shared by every connection.
func (c *S3Connection) Close() error {
	return nil
}

func (c *S3Connection) head(ctx context.Context, segmentID string) (*s3.HeadObjectOutput, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(segmentID),
	})
	if err != nil {
		return nil, classifyS3Error("head", segmentID, err)
	}
	return out, nil
}

// classifyS3Error maps S3 failures onto the segment error taxonomy.
func classifyS3Error(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isS3NotFound(err) {
		return zerrors.NewArticleNotFound(key)
	}
	if isS3AccessDenied(err) {
		return fmt.Errorf("%w: %v", zerrors.ErrCouldNotLogin, err)
	}
	return zerrors.NewProtocolError(op, err)
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NotFound" || code == "NoSuchKey" || code == "404" {
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func isS3AccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "403":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == http.StatusForbidden || code == http.StatusUnauthorized
	}
	return false
}
