// Package stream exposes segmented remote content as seekable byte streams.
//
// Streams are read-only and not safe for concurrent use. Seeking only moves
// the position; the unit under the new position is resolved on the next Read.
package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
	"github.com/zzenonn/zdav/internal/usenet"
)

// Stream is a read-only seekable view of one logical file.
type Stream interface {
	io.ReadSeekCloser
	io.Writer
	Length() int64
}

// Open returns a stream over item's content.
func Open(ctx context.Context, client usenet.SegmentClient, item domain.Item) (Stream, error) {
	switch item.Type {
	case domain.NzbFileType:
		size := item.FileSize
		if size <= 0 {
			var err error
			size, err = client.GetFileSize(ctx, item.SegmentIDs)
			if err != nil {
				return nil, fmt.Errorf("resolving size of %s: %w", item.ID, err)
			}
		}
		return NewSegmentedFileStream(ctx, client, item.SegmentIDs, size), nil
	case domain.RarFileType, domain.MultipartFileType:
		return NewMultipartFileStream(ctx, client, item.Parts, item.FileSize), nil
	default:
		return nil, fmt.Errorf("item %s of type %q: %w", item.ID, item.Type, zerrors.ErrNotSupported)
	}
}

// seekTarget resolves offset and whence to an absolute position.
func seekTarget(position, offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = position + offset
	default:
		return position, zerrors.ErrInvalidSeekOrigin
	}
	if target < 0 {
		return position, zerrors.ErrNegativePosition
	}
	return target, nil
}

// unitReader reads one opened unit up to its end and closes the source.
type unitReader struct {
	io.Reader
	source io.Closer
}

func (u *unitReader) Close() error {
	return u.source.Close()
}

// cursor is the read loop shared by segmented and multipart streams.
type cursor struct {
	ctx      context.Context
	length   int64
	position int64
	current  io.ReadCloser
	closed   bool

	// open positions a reader at the cursor's position, bounded by the end of
	// the unit that holds it.
	open func() (io.ReadCloser, error)
}

func (c *cursor) read(p []byte) (int, error) {
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	if remaining := c.length - c.position; remaining < int64(len(p)) && remaining > 0 {
		p = p[:remaining]
	}

	for c.position < c.length {
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}

		fresh := false
		if c.current == nil {
			r, err := c.open()
			if err != nil {
				return 0, err
			}
			c.current = r
			fresh = true
		}

		n, err := c.current.Read(p)
		c.position += int64(n)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}

		c.discard()
		if fresh {
			return 0, fmt.Errorf("at position %d: %w", c.position, zerrors.ErrUnexpectedLength)
		}
	}
	return 0, io.EOF
}

func (c *cursor) seek(offset int64, whence int) (int64, error) {
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	target, err := seekTarget(c.position, offset, whence)
	if err != nil {
		return c.position, err
	}
	if target == c.position {
		return c.position, nil
	}
	c.discard()
	c.position = target
	return c.position, nil
}

func (c *cursor) discard() {
	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
}

func (c *cursor) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.discard()
	return nil
}
