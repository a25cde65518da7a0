package graph

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
)

// nodeRef identifies one node of the fused cell/range DAG for error
// reporting; it is the Go analogue of spec.md §7's GraphNode.
type nodeRef struct {
	isRange bool
	cell    model.CellID
	rng     model.SheetRange
}

func cellNodeRef(id model.CellID) nodeRef { return nodeRef{cell: id} }
func rangeNodeRef(r model.SheetRange) nodeRef { return nodeRef{isRange: true, rng: r} }

func (n nodeRef) String() string {
	if n.isRange {
		return fmt.Sprintf("S%d!%s:%s(range)", n.rng.SheetID, n.rng.Range.Start.A1(), n.rng.Range.End.A1())
	}
	return n.cell.String()
}

// CycleError is the only graph-level fatal (spec.md §4.1, §7): it
// reports an ordered path of nodes that closes a loop in the fused
// precedent/dependent relation.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular reference detected: %s", strings.Join(e.Path, " -> "))
}

func newCycleError(path []nodeRef) *CycleError {
	strs := make([]string, len(path))
	for i, n := range path {
		strs[i] = n.String()
	}
	return &CycleError{Path: strs}
}
