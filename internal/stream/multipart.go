package stream

import (
	"context"
	"io"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/search"
	"github.com/zzenonn/zdav/internal/usenet"
)

// MultipartFileStream reads a logical file assembled from ordered parts, such
// as a file split across numbered volumes or a stored archive member.
type MultipartFileStream struct {
	client usenet.SegmentClient
	parts  []domain.FilePart
	ranges search.RangeFunc
	cursor
}

// NewMultipartFileStream returns a stream of length bytes over parts, whose
// ByteRanges must tile [0, length).
func NewMultipartFileStream(ctx context.Context, client usenet.SegmentClient, parts []domain.FilePart, length int64) *MultipartFileStream {
	ranges := make([]domain.ByteRange, len(parts))
	for i, part := range parts {
		ranges[i] = part.ByteRange
	}
	s := &MultipartFileStream{
		client: client,
		parts:  parts,
		ranges: search.Ranges(ranges),
	}
	s.cursor = cursor{ctx: ctx, length: length, open: s.openPart}
	return s
}

func (s *MultipartFileStream) Length() int64 {
	return s.length
}

func (s *MultipartFileStream) Read(p []byte) (int, error) {
	return s.read(p)
}

// Seek accepts io.SeekStart and io.SeekCurrent.
func (s *MultipartFileStream) Seek(offset int64, whence int) (int64, error) {
	return s.seek(offset, whence)
}

func (s *MultipartFileStream) Write(p []byte) (int, error) {
	return 0, zerrors.ErrNotSupported
}

func (s *MultipartFileStream) Close() error {
	return s.close()
}

func (s *MultipartFileStream) openPart() (io.ReadCloser, error) {
	found, err := search.Find(
		s.ctx,
		s.position,
		domain.NewByteRange(0, int64(len(s.parts))),
		domain.NewByteRange(0, s.length),
		s.ranges,
	)
	if err != nil {
		return nil, err
	}

	part := s.parts[found.FoundIndex]
	inner := NewSegmentedFileStream(s.ctx, s.client, part.SegmentIDs, part.PartSize)
	if _, err := inner.Seek(part.Offset+s.position-found.FoundByteRange.StartInclusive, io.SeekStart); err != nil {
		inner.Close()
		return nil, err
	}

	return &unitReader{
		Reader: io.LimitReader(inner, found.FoundByteRange.EndExclusive-s.position),
		source: inner,
	}, nil
}
