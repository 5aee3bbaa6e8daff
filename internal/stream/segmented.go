package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/search"
	"github.com/zzenonn/zdav/internal/usenet"
)

// SegmentedFileStream reads a file stored as an ordered list of segments.
type SegmentedFileStream struct {
	client     usenet.SegmentClient
	segmentIDs []string
	cursor
}

// NewSegmentedFileStream returns a stream of length bytes over segmentIDs.
// ctx bounds every remote call the stream makes.
func NewSegmentedFileStream(ctx context.Context, client usenet.SegmentClient, segmentIDs []string, length int64) *SegmentedFileStream {
	s := &SegmentedFileStream{
		client:     client,
		segmentIDs: segmentIDs,
	}
	s.cursor = cursor{ctx: ctx, length: length, open: s.openSegment}
	return s
}

func (s *SegmentedFileStream) Length() int64 {
	return s.length
}

func (s *SegmentedFileStream) Read(p []byte) (int, error) {
	return s.read(p)
}

// Seek accepts io.SeekStart and io.SeekCurrent.
func (s *SegmentedFileStream) Seek(offset int64, whence int) (int64, error) {
	return s.seek(offset, whence)
}

func (s *SegmentedFileStream) Write(p []byte) (int, error) {
	return 0, zerrors.ErrNotSupported
}

func (s *SegmentedFileStream) Close() error {
	return s.close()
}

func (s *SegmentedFileStream) segmentRange(ctx context.Context, index int) (domain.ByteRange, error) {
	header, err := s.client.GetSegmentYencHeader(ctx, s.segmentIDs[index])
	if err != nil {
		return domain.ByteRange{}, err
	}
	return header.ByteRange(), nil
}

func (s *SegmentedFileStream) openSegment() (io.ReadCloser, error) {
	found, err := search.Find(
		s.ctx,
		s.position,
		domain.NewByteRange(0, int64(len(s.segmentIDs))),
		domain.NewByteRange(0, s.length),
		s.segmentRange,
	)
	if err != nil {
		return nil, err
	}

	segmentID := s.segmentIDs[found.FoundIndex]
	segment, err := s.client.GetSegmentStream(s.ctx, segmentID, false)
	if err != nil {
		return nil, fmt.Errorf("opening segment %s: %w", segmentID, err)
	}

	if skip := s.position - found.FoundByteRange.StartInclusive; skip > 0 {
		if _, err := io.CopyN(io.Discard, segment, skip); err != nil {
			segment.Close()
			if err == io.EOF {
				return nil, fmt.Errorf("segment %s: %w", segmentID, zerrors.ErrUnexpectedLength)
			}
			return nil, err
		}
	}

	return &unitReader{
		Reader: io.LimitReader(segment, found.FoundByteRange.EndExclusive-s.position),
		source: segment,
	}, nil
}
