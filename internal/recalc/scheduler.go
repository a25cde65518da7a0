// Package recalc fans the dependency graph's level-sliced calculation
// schedule out to a bounded worker pool, one level at a time (spec.md
// §4.2). Cells within a level are independent by construction, so the
// scheduler only needs to guarantee a level finishes before the next
// one starts.
package recalc

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
)

// Evaluator computes the new value for a single formula cell. It must
// treat the workbook's pre-level snapshot as immutable: no evaluator
// invocation within a level may observe another cell's in-progress
// result from the same level (spec.md §5).
type Evaluator interface {
	Evaluate(ctx context.Context, cell model.CellID) (model.CellValue, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, cell model.CellID) (model.CellValue, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, cell model.CellID) (model.CellValue, error) {
	return f(ctx, cell)
}

// Sink receives a level's computed results once the level completes,
// in deterministic (sheet,row,col) order.
type Sink interface {
	Apply(cell model.CellID, value model.CellValue)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(model.CellID, model.CellValue)

func (f SinkFunc) Apply(cell model.CellID, value model.CellValue) { f(cell, value) }

// Scheduler drives one workbook's dependency graph through its dirty
// schedule, fanning each level out to at most Workers goroutines.
type Scheduler struct {
	Graph   *graph.Graph
	Workers int
}

// New constructs a Scheduler with the given worker-pool width. A width
// of 0 or less is treated as 1 (fully sequential).
func New(g *graph.Graph, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{Graph: g, Workers: workers}
}

// Run evaluates every level of the graph's current dirty schedule,
// writing each cell's new value through sink as its level completes,
// and clears the dirty set once every level finishes (spec.md §4.2
// steps 1-4). It returns the first evaluator error encountered, which
// cancels the remaining cells in that level; earlier levels' results
// are already applied and are not rolled back.
func (s *Scheduler) Run(ctx context.Context, eval Evaluator, sink Sink) error {
	levels, err := s.Graph.CalcLevelsForDirty()
	if err != nil {
		return err
	}

	for _, level := range levels {
		if err := s.runLevel(ctx, eval, sink, level); err != nil {
			return err
		}
	}

	s.Graph.ClearDirty()
	return nil
}

func (s *Scheduler) runLevel(ctx context.Context, eval Evaluator, sink Sink, level []model.CellID) error {
	if len(level) == 0 {
		return nil
	}

	type result struct {
		cell  model.CellID
		value model.CellValue
	}

	results := make([]result, len(level))
	sem := semaphore.NewWeighted(int64(s.Workers))
	g, gctx := errgroup.WithContext(ctx)

	for i, cell := range level {
		i, cell := i, cell
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			v, err := eval.Evaluate(gctx, cell)
			if err != nil {
				return err
			}
			results[i] = result{cell: cell, value: v}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Results are already in (sheet,row,col) order because level is;
	// sort defensively in case a caller hands in an unsorted level.
	sort.Slice(results, func(a, b int) bool {
		return cellLess(results[a].cell, results[b].cell)
	})
	for _, r := range results {
		sink.Apply(r.cell, r.value)
	}
	return nil
}

func cellLess(a, b model.CellID) bool {
	if a.SheetID != b.SheetID {
		return a.SheetID < b.SheetID
	}
	if a.Cell.Row != b.Cell.Row {
		return a.Cell.Row < b.Cell.Row
	}
	return a.Cell.Col < b.Cell.Col
}
