// Package placement spreads newly posted segments across several providers.
//
// A posted file does not need every segment on every provider: the failover
// client finds each segment on whichever provider holds it. Spreading the
// segments splits the upload load and the storage cost between buckets.
//
//	placer := NewRoundRobinPlacer()
//	placer.RegisterBucket("primary", s3Uploader)
//	placer.RegisterBucket("backup", gcsUploader)
//
//	// part 1 -> primary, part 2 -> backup, part 3 -> primary, ...
//	svc.PostFile(ctx, placer, name, file, size, segmentSize)
package placement

import (
	"context"
	"io"
	"time"

	"github.com/zzenonn/zdav/internal/domain"
)

// Uploader stores one segment in a single bucket.
type Uploader interface {
	UploadSegment(ctx context.Context, segmentID string, header domain.YencHeader, date time.Time, body io.Reader) error
}

// Placer decides which bucket receives each segment of a file.
//
// Implementations must be safe for concurrent use and deterministic: the
// same part index always maps to the same bucket while the registered set is
// unchanged.
type Placer interface {
	// Place selects the bucket for the zero-based segment index.
	Place(index int) (string, Uploader, error)

	// RegisterBucket adds a bucket. Names must be unique.
	RegisterBucket(bucketName string, uploader Uploader) error

	// GetUploaderForBucket returns the uploader registered under bucketName.
	GetUploaderForBucket(bucketName string) (Uploader, error)

	ListBuckets() []string
}
