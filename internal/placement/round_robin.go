package placement

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/domain"
)

// RoundRobinPlacer implements round-robin segment placement. It is itself an
// Uploader, placing each segment by its part number.
type RoundRobinPlacer struct {
	mu          sync.RWMutex
	uploaders   map[string]Uploader
	bucketNames []string
}

// NewRoundRobinPlacer creates a new round-robin placer
func NewRoundRobinPlacer() *RoundRobinPlacer {
	return &RoundRobinPlacer{
		uploaders:   make(map[string]Uploader),
		bucketNames: make([]string, 0),
	}
}

// RegisterBucket adds a bucket and its uploader
func (p *RoundRobinPlacer) RegisterBucket(bucketName string, uploader Uploader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.uploaders[bucketName]; exists {
		return fmt.Errorf("bucket %s already registered", bucketName)
	}

	p.uploaders[bucketName] = uploader
	p.bucketNames = append(p.bucketNames, bucketName)
	return nil
}

// GetUploaderForBucket returns the uploader for a specific bucket
func (p *RoundRobinPlacer) GetUploaderForBucket(bucketName string) (Uploader, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	uploader, exists := p.uploaders[bucketName]
	if !exists {
		return nil, fmt.Errorf("no uploader found for bucket: %s", bucketName)
	}
	return uploader, nil
}

// Place selects a bucket using round-robin strategy
func (p *RoundRobinPlacer) Place(index int) (string, Uploader, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.bucketNames) == 0 {
		return "", nil, fmt.Errorf("no buckets registered")
	}
	if index < 0 {
		return "", nil, fmt.Errorf("negative segment index %d", index)
	}

	bucketName := p.bucketNames[index%len(p.bucketNames)]
	return bucketName, p.uploaders[bucketName], nil
}

// ListBuckets returns all registered bucket names
func (p *RoundRobinPlacer) ListBuckets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	buckets := make([]string, len(p.bucketNames))
	copy(buckets, p.bucketNames)
	return buckets
}

// UploadSegment stores the segment in the bucket chosen for its part number.
func (p *RoundRobinPlacer) UploadSegment(ctx context.Context, segmentID string, header domain.YencHeader, date time.Time, body io.Reader) error {
	bucketName, uploader, err := p.Place(header.PartNumber - 1)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"segment": segmentID,
		"bucket":  bucketName,
	}).Trace("placing segment")
	if err := uploader.UploadSegment(ctx, segmentID, header, date, body); err != nil {
		return fmt.Errorf("uploading %s to %s: %w", segmentID, bucketName, err)
	}
	return nil
}
