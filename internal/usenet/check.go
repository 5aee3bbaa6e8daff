package usenet

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	zerrors "github.com/zzenonn/zdav/internal/errors"
)

// CheckAllSegments stats every segment with at most concurrency checks in
// flight. It stops issuing checks at the first missing segment and returns an
// error matching errors.ErrArticleNotFound for it.
//
// progress, when set, is called with the running count of completed checks
// and may be called from several goroutines.
func CheckAllSegments(
	ctx context.Context,
	client SegmentClient,
	segmentIDs []string,
	concurrency int,
	progress func(checked int),
) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var checked atomic.Int64
	for _, id := range segmentIDs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := client.Stat(gctx, id)
			if err != nil {
				return err
			}
			n := checked.Add(1)
			if progress != nil {
				progress(int(n))
			}
			if !res.Exists {
				return zerrors.NewArticleNotFound(id)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
