package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotSupported          = errors.New("operation is not supported")
	ErrMissingRequiredFields = errors.New("missing required fields")
	ErrItemNotFound          = errors.New("item not found")

	// Segment retrieval
	ErrArticleNotFound  = errors.New("article not found")
	ErrProtocol         = errors.New("protocol error")
	ErrCouldNotConnect  = errors.New("could not connect to provider host, check connection settings")
	ErrCouldNotLogin    = errors.New("could not login to provider host, check username and password")
	ErrNoProviders      = errors.New("no providers available for segment operation")
	ErrUnexpectedLength = errors.New("segment ended before its declared length")

	// Streams
	ErrSeekPositionNotFound = errors.New("cannot locate byte position")
	ErrInvalidSeekOrigin    = errors.New("seek origin must be start or current")
	ErrNegativePosition     = errors.New("negative stream position")

	// Connection pool
	ErrPoolDisposed    = errors.New("connection pool disposed")
	ErrSemaphoreFull   = errors.New("semaphore released more times than acquired")
	ErrInvalidReserved = errors.New("reserved slot count must not be negative")
)

// ArticleNotFoundError reports that a provider confirmed a segment does not exist.
type ArticleNotFoundError struct {
	SegmentID string
}

func (e *ArticleNotFoundError) Error() string {
	return fmt.Sprintf("article not found: %s", e.SegmentID)
}

func (e *ArticleNotFoundError) Is(target error) bool {
	return target == ErrArticleNotFound
}

// NewArticleNotFound returns an ArticleNotFoundError for the given segment.
func NewArticleNotFound(segmentID string) error {
	return &ArticleNotFoundError{SegmentID: segmentID}
}

// ProtocolError marks a failure after which the underlying connection can no
// longer be trusted and must be replaced.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error during %s", e.Op)
	}
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// NewProtocolError wraps err as a ProtocolError for operation op.
func NewProtocolError(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}

// SeekPositionError generates an error for a byte position that no unit contains.
func SeekPositionError(position int64) error {
	return fmt.Errorf("corrupt file, %w %d", ErrSeekPositionNotFound, position)
}

// FetchingResourceError generates a formatted error for failed fetching of any resource by its type.
func FetchingResourceError(resource string, err error) error {
	return fmt.Errorf("failed to fetch %s by id: %w", resource, err)
}

func ConfigNotSetError(config string) error {
	return fmt.Errorf("the %s setting must be configured", config)
}
