package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/stream"
	"github.com/zzenonn/zdav/internal/usenet"
)

const (
	DefaultSegmentSize = 750 * 1024
	uploadConcurrency  = 4
	yencLineLength     = 128
)

type ItemStore interface {
	GetItem(ctx context.Context, id string) (domain.Item, error)
	PutItem(ctx context.Context, item domain.Item) (domain.Item, error)
}

// SegmentUploader stores one segment with its yEnc header.
type SegmentUploader interface {
	UploadSegment(ctx context.Context, segmentID string, header domain.YencHeader, date time.Time, body io.Reader) error
}

type StreamService struct {
	items  ItemStore
	client usenet.SegmentClient
	now    func() time.Time
}

// NewStreamService creates a new StreamService instance
func NewStreamService(items ItemStore, client usenet.SegmentClient) *StreamService {
	return &StreamService{
		items:  items,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OpenItem returns the stored item and a stream over its content.
func (s *StreamService) OpenItem(ctx context.Context, id string) (domain.Item, stream.Stream, error) {
	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, nil, err
	}
	st, err := stream.Open(ctx, s.client, item)
	if err != nil {
		return domain.Item{}, nil, err
	}
	return item, st, nil
}

// PostFile splits r into segments of segmentSize bytes, uploads them and
// registers the result as an NzbFile item.
func (s *StreamService) PostFile(
	ctx context.Context,
	uploader SegmentUploader,
	name string,
	r io.Reader,
	size int64,
	segmentSize int64,
) (domain.Item, error) {
	if size <= 0 {
		return domain.Item{}, fmt.Errorf("%w: non-empty file", zerrors.ErrMissingRequiredFields)
	}
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	id := uuid.NewString()
	now := s.now()
	total := int((size + segmentSize - 1) / segmentSize)
	segmentIDs := make([]string, total)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Upload segments in parallel, at most uploadConcurrency at a time
	var wg sync.WaitGroup
	errorCh := make(chan error, total)
	slots := make(chan struct{}, uploadConcurrency)

	var readErr error
	for i := 0; i < total; i++ {
		offset := int64(i) * segmentSize
		buf := make([]byte, min(segmentSize, size-offset))
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr = fmt.Errorf("failed to read segment %d of %s: %w", i+1, name, err)
			break
		}

		segmentIDs[i] = fmt.Sprintf("%s.%d@zdav", id, i+1)
		header := domain.YencHeader{
			FileName:   filepath.Base(name),
			FileSize:   size,
			LineLength: yencLineLength,
			PartNumber: i + 1,
			TotalParts: total,
			PartSize:   int64(len(buf)),
			PartOffset: offset,
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(segmentID string, header domain.YencHeader, buf []byte) {
			defer wg.Done()
			defer func() { <-slots }()
			if err := uploader.UploadSegment(ctx, segmentID, header, now, bytes.NewReader(buf)); err != nil {
				errorCh <- err
				cancel()
			}
		}(segmentIDs[i], header, buf)
	}

	wg.Wait()
	close(errorCh)

	if err := <-errorCh; err != nil {
		return domain.Item{}, err
	}
	if readErr != nil {
		return domain.Item{}, readErr
	}
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}

	item := domain.Item{
		ID:          id,
		Name:        filepath.Base(name),
		Path:        "/" + filepath.Base(name),
		Type:        domain.NzbFileType,
		FileSize:    size,
		SegmentIDs:  segmentIDs,
		ReleaseDate: &now,
	}
	if _, err := s.items.PutItem(ctx, item); err != nil {
		return domain.Item{}, err
	}

	log.WithFields(log.Fields{
		"item":     item.ID,
		"name":     item.Name,
		"segments": total,
	}).Info("posted file")
	return item, nil
}
