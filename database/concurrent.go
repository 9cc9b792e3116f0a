package database

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ConcurrentMapFuncWithError maps f over inputs with at most concurrency goroutines
// and returns the outputs in input order. A concurrency of 0 disables concurrency and a
// negative one removes the limit. The first error cancels the context passed to the
// remaining calls and is returned.
func ConcurrentMapFuncWithError[Tin any, Tout any](ctx context.Context, inputs []Tin, concurrency int, f func(context.Context, Tin) (Tout, error)) ([]Tout, error) {
	eg, ctx := errgroup.WithContext(ctx)
	if concurrency == 0 {
		eg.SetLimit(1)
	} else if concurrency > 0 {
		eg.SetLimit(concurrency)
	}

	outputs := make([]Tout, len(inputs))
	for i, in := range inputs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := f(ctx, in)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
