// Package search locates the unit (segment or file part) that holds a byte
// position when unit sizes are close to, but not exactly, uniform.
package search

import (
	"context"

	"github.com/zzenonn/zdav/internal/domain"
	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// RangeFunc returns the byte range covered by the unit at index. It may be a
// remote round trip.
type RangeFunc func(ctx context.Context, index int) (domain.ByteRange, error)

// Result is the unit found by Find.
type Result struct {
	FoundIndex     int
	FoundByteRange domain.ByteRange
}

// Find returns the index in indexRange whose byte range contains target.
// byteRange is the span covered by indexRange. Each probe guesses the index by
// assuming uniform unit sizes over the remaining space, so well-behaved files
// resolve in one or two calls to rangeOf.
//
// It fails with ErrSeekPositionNotFound when the search space is empty, the
// target lies outside it, or rangeOf reports a range outside the space still
// being searched.
func Find(
	ctx context.Context,
	target int64,
	indexRange domain.ByteRange,
	byteRange domain.ByteRange,
	rangeOf RangeFunc,
) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if !byteRange.Contains(target) || indexRange.Count() <= 0 {
			return Result{}, zerrors.SeekPositionError(target)
		}

		fromStart := target - byteRange.StartInclusive
		bytesPerIndex := float64(byteRange.Count()) / float64(indexRange.Count())
		guess := indexRange.StartInclusive + int64(float64(fromStart)/bytesPerIndex)
		if guess >= indexRange.EndExclusive {
			guess = indexRange.EndExclusive - 1
		}

		found, err := rangeOf(ctx, int(guess))
		if err != nil {
			return Result{}, err
		}

		if !found.IsContainedWithin(byteRange) {
			return Result{}, zerrors.SeekPositionError(target)
		}

		switch {
		case found.EndExclusive <= target:
			indexRange.StartInclusive = guess + 1
			byteRange.StartInclusive = found.EndExclusive
		case found.StartInclusive > target:
			indexRange.EndExclusive = guess
			byteRange.EndExclusive = found.StartInclusive
		default:
			return Result{FoundIndex: int(guess), FoundByteRange: found}, nil
		}
	}
}

// Ranges returns a RangeFunc over a precomputed slice of ranges.
func Ranges(ranges []domain.ByteRange) RangeFunc {
	return func(_ context.Context, index int) (domain.ByteRange, error) {
		if index < 0 || index >= len(ranges) {
			return domain.ByteRange{}, zerrors.SeekPositionError(-1)
		}
		return ranges[index], nil
	}
}
