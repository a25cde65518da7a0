package recalc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
)

func cid(row, col uint32) model.CellID {
	return model.CellID{SheetID: 0, Cell: model.CellRef{Row: row, Col: col}}
}

// TestRunDeterministicAcrossWorkerCounts exercises S9 from SPEC_FULL.md:
// the same dirty set through worker counts 1, 4, and 8 must produce
// byte-identical final values.
func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	a1, b1, c1, d1 := cid(0, 0), cid(0, 1), cid(0, 2), cid(0, 3)

	eval := EvaluatorFunc(func(_ context.Context, cell model.CellID) (model.CellValue, error) {
		switch cell {
		case b1:
			return model.Num(2), nil
		case c1:
			return model.Num(3), nil
		case d1:
			return model.Num(5), nil
		default:
			return model.Empty(), nil
		}
	})

	for _, workers := range []int{1, 4, 8} {
		g := graph.New(65_536)
		g.UpdateCellDependencies(b1, graph.CellDependencies{Precedents: []graph.Precedent{graph.PrecedentCell(a1)}})
		g.UpdateCellDependencies(c1, graph.CellDependencies{Precedents: []graph.Precedent{graph.PrecedentCell(a1)}})
		g.UpdateCellDependencies(d1, graph.CellDependencies{Precedents: []graph.Precedent{graph.PrecedentCell(b1), graph.PrecedentCell(c1)}})
		g.MarkDirty(a1)

		got := make(map[model.CellID]model.CellValue)
		sink := SinkFunc(func(c model.CellID, v model.CellValue) { got[c] = v })

		s := New(g, workers)
		require.NoError(t, s.Run(context.Background(), eval, sink))

		require.Equal(t, model.Num(2), got[b1])
		require.Equal(t, model.Num(3), got[c1])
		require.Equal(t, model.Num(5), got[d1])
		require.Empty(t, g.DirtyCells())
	}
}

func TestRunPropagatesEvaluatorError(t *testing.T) {
	a1, b1 := cid(0, 0), cid(0, 1)
	g := graph.New(65_536)
	g.UpdateCellDependencies(b1, graph.CellDependencies{Precedents: []graph.Precedent{graph.PrecedentCell(a1)}})
	g.MarkDirty(a1)

	wantErr := context.DeadlineExceeded
	eval := EvaluatorFunc(func(_ context.Context, _ model.CellID) (model.CellValue, error) {
		return model.CellValue{}, wantErr
	})

	s := New(g, 2)
	err := s.Run(context.Background(), eval, SinkFunc(func(model.CellID, model.CellValue) {}))
	require.ErrorIs(t, err, wantErr)
}
