package connections

import "context"

type connectionLimitKey struct{}

// WithConnectionLimit returns a context for a background caller that runs at
// most n operations at once. Pools lend such a caller at most n of their
// connections and keep the rest free for other requests.
func WithConnectionLimit(ctx context.Context, n int) context.Context {
	if n < 1 {
		n = 1
	}
	return context.WithValue(ctx, connectionLimitKey{}, n)
}

// ConnectionLimit returns the limit carried by ctx, if any.
func ConnectionLimit(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(connectionLimitKey{}).(int)
	return n, ok
}

// ReservedFor is the floor a pool of size connections keeps free while
// leasing for ctx. It is 0 without a limit and never more than size-1, so a
// limited caller always gets at least one connection of each pool.
func ReservedFor(ctx context.Context, size int) int {
	limit, ok := ConnectionLimit(ctx)
	if !ok || size < 1 {
		return 0
	}
	return min(max(size-limit, 0), size-1)
}
