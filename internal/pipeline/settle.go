package pipeline

import (
	"context"
	"sort"

	"github.com/sourcegraph/conc/pool"
)

// Settled is the outcome of one fan-out task.
type Settled[O any] struct {
	Index int
	Value O
	Err   error
}

// SettleAll runs fn over every input with at most limit tasks in flight and
// waits for all of them. A failing task never cancels its siblings; results
// come back in input order with per-task errors.
func SettleAll[I, O any](ctx context.Context, inputs []I, limit int, fn func(context.Context, I) (O, error)) []Settled[O] {
	if len(inputs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}

	p := pool.NewWithResults[Settled[O]]().WithMaxGoroutines(limit)
	for i, in := range inputs {
		i, in := i, in
		p.Go(func() Settled[O] {
			out, err := fn(ctx, in)
			return Settled[O]{Index: i, Value: out, Err: err}
		})
	}

	results := p.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results
}
