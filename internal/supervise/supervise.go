// Package supervise runs a fixed-size group of worker functions to
// completion, cancelling the rest as soon as one fails. It generalizes a
// fixed two-service pair into an N-way fan-out, the shape a parallel
// writer's threading model needs for an arbitrary peer count.
package supervise

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run launches one goroutine per fn and waits for all of them to finish,
// returning the first non-nil error any of them produced. If ctx is
// cancelled (or a sibling fn fails), fns observing ctx.Done() should stop
// promptly; Run itself does not forcibly interrupt a running fn.
func Run(ctx context.Context, fns ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
