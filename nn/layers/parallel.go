package layers

import (
	"context"

	"hecnn_lib/core/slot"

	"golang.org/x/sync/errgroup"
)

// parallelFor runs body(i) for i in [0, n). Each body writes only its own
// output index. The first error stops tasks that have not started yet and
// is returned.
func (e *Engine) parallelFor(n int, body func(i int) error) error {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(e.workers())
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			return body(i)
		})
	}
	return g.Wait()
}

// sumGroups adds parts[i*stride : (i+1)*stride] for every output i, in
// order. It runs after all parts are computed.
func (e *Engine) sumGroups(parts []slot.Vector, groups, stride int) ([]slot.Vector, error) {
	out := make([]slot.Vector, groups)
	err := e.parallelFor(groups, func(i int) error {
		v, err := e.Eval.Sum(parts[i*stride : (i+1)*stride])
		out[i] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
