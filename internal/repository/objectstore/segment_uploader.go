package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zzenonn/zdav/internal/domain"
)

// SegmentUploader stores new segments.
type SegmentUploader interface {
	UploadSegment(ctx context.Context, segmentID string, header domain.YencHeader, date time.Time, body io.Reader) error
}

// S3SegmentUploader uploads segments with the S3 transfer manager.
type S3SegmentUploader struct {
	uploader *manager.Uploader
	bucket   string
}

func NewS3SegmentUploader(client *s3.Client, bucket string) *S3SegmentUploader {
	return &S3SegmentUploader{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}
}

func (u *S3SegmentUploader) UploadSegment(ctx context.Context, segmentID string, header domain.YencHeader, date time.Time, body io.Reader) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(segmentID),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
		Metadata:    SegmentMetadata(header, date),
	})
	if err != nil {
		return fmt.Errorf("failed to upload segment %s to S3: %w", segmentID, err)
	}
	return nil
}

// GCSSegmentUploader uploads segments to a GCS bucket.
type GCSSegmentUploader struct {
	bucket *storage.BucketHandle
}

func NewGCSSegmentUploader(client *storage.Client, bucket string) *GCSSegmentUploader {
	return &GCSSegmentUploader{bucket: client.Bucket(bucket)}
}

func (u *GCSSegmentUploader) UploadSegment(ctx context.Context, segmentID string, header domain.YencHeader, date time.Time, body io.Reader) error {
	writer := u.bucket.Object(segmentID).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.Metadata = SegmentMetadata(header, date)

	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		return fmt.Errorf("failed to upload segment %s to GCS: %w", segmentID, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to upload segment %s to GCS: %w", segmentID, err)
	}
	return nil
}
