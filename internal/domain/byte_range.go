package domain

// ByteRange is a half-open interval [StartInclusive, EndExclusive). It is used
// both for byte offsets and for unit indexes.
type ByteRange struct {
	StartInclusive int64 `json:"start" dynamodbav:"start"`
	EndExclusive   int64 `json:"end" dynamodbav:"end"`
}

// NewByteRange returns the range [start, end).
func NewByteRange(start, end int64) ByteRange {
	return ByteRange{StartInclusive: start, EndExclusive: end}
}

// Count is the number of positions in the range, never negative.
func (r ByteRange) Count() int64 {
	if r.EndExclusive < r.StartInclusive {
		return 0
	}
	return r.EndExclusive - r.StartInclusive
}

func (r ByteRange) Contains(position int64) bool {
	return position >= r.StartInclusive && position < r.EndExclusive
}

// IsContainedWithin reports whether r lies entirely inside other.
func (r ByteRange) IsContainedWithin(other ByteRange) bool {
	return r.StartInclusive >= other.StartInclusive && r.EndExclusive <= other.EndExclusive
}
