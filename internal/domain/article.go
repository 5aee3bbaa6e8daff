package domain

import "time"

// StatResponse is the answer to an existence check for one segment.
type StatResponse struct {
	SegmentID string
	Exists    bool
}

// ArticleHeaders holds the headers of a stored article.
type ArticleHeaders struct {
	Date    time.Time
	Headers map[string]string
}

// YencHeader describes where a segment's decoded bytes sit within the file it
// belongs to.
type YencHeader struct {
	FileName   string
	FileSize   int64
	LineLength int
	PartNumber int
	TotalParts int
	PartSize   int64
	PartOffset int64
}

// ByteRange returns the decoded byte range of the segment within its file.
func (h YencHeader) ByteRange() ByteRange {
	return NewByteRange(h.PartOffset, h.PartOffset+h.PartSize)
}
