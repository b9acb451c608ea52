package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map is a parallel mapping function, which runs at most limit mapFuncs at
// once. The input and output are represented as iterators and the results
// keep the order of the input, so the typical usage is.
//
//	for result, err := range parallel.Map(ctx, 4, input, mapFunc) {}
//
// Errors of the input sequence are passed through without calling mapFunc.
// A canceled ctx ends the processing, its error is yielded as the last one.
func Map[E, D any](ctx context.Context, limit int, seq iter.Seq2[E, error], mapFunc func(context.Context, E) (D, error)) iter.Seq2[D, error] {
	if limit < 1 {
		limit = 1
	}
	return func(yield func(D, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		// one slot per element in flight, read in the input order
		pending := make(chan chan result[D], limit)
		go func() {
			defer close(pending)
			for entry, err := range seq {
				if ctx.Err() != nil {
					return
				}
				slot := make(chan result[D], 1)
				if err != nil {
					slot <- result[D]{e: err}
				} else {
					g.Go(func() error {
						d, err := mapFunc(gctx, entry)
						slot <- result[D]{d: d, e: err}
						return nil
					})
				}
				select {
				case pending <- slot:
				case <-ctx.Done():
					return
				}
			}
		}()

		defer func() {
			cancel()
			for range pending {
			}
			_ = g.Wait()
		}()

		for slot := range pending {
			var r result[D]
			select {
			case r = <-slot:
			case <-ctx.Done():
				var zero D
				yield(zero, ctx.Err())
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			var zero D
			yield(zero, err)
		}
	}
}
