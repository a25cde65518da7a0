// Package graph maintains the incremental formula dependency graph: a
// fused DAG over formula cells and rectangular range precedents, with
// dirty propagation, volatile tracking, cycle detection, and a
// topologically ordered, level-sliced calculation schedule.
//
// All public operations are total except the calc-chain/levels queries,
// which return a *CycleError when the underlying graph is cyclic.
package graph

import "github.com/vinodismyname/xlcore/internal/model"

// rangeID is the intern key minted for a distinct model.SheetRange the
// first time it is registered as a precedent. IDs are never reused
// within a process, but are free to wrap on overflow (spec.md §4.1).
type rangeID uint32

// precedentKind tags the active member of a Precedent.
type precedentKind int

const (
	precedentCellKind precedentKind = iota
	precedentRangeKind
)

// Precedent is the tagged variant formula cells record one of per
// reference: either a single cell or a rectangular range.
type Precedent struct {
	Kind  precedentKind
	Cell  model.CellID
	Range model.SheetRange
}

// PrecedentCell builds a single-cell precedent.
func PrecedentCell(id model.CellID) Precedent {
	return Precedent{Kind: precedentCellKind, Cell: id}
}

// PrecedentRange builds a range precedent.
func PrecedentRange(r model.SheetRange) Precedent {
	return Precedent{Kind: precedentRangeKind, Range: r}
}

// IsRange reports whether p is a range precedent.
func (p Precedent) IsRange() bool { return p.Kind == precedentRangeKind }

// DependentKind distinguishes how a dependent cell reaches a given node:
// directly by cell reference, or through a range precedent.
type DependentKind int

const (
	DirectCell DependentKind = iota
	RangeDependent
)

// Dependent is one edge out of a node in dependents_of's result.
type Dependent struct {
	Cell  model.CellID
	Kind  DependentKind
	Range model.SheetRange // populated when Kind == RangeDependent
}

// cellNode is the per-formula-cell record: its precedent sets plus the
// volatile flag. Only formula cells have a cellNode; a cell that is a
// precedent of some formula but never itself holds one does not.
type cellNode struct {
	precedentCells  map[model.CellID]struct{}
	precedentRanges map[rangeID]struct{}
	isVolatile      bool
}

func newCellNode() *cellNode {
	return &cellNode{
		precedentCells:  make(map[model.CellID]struct{}),
		precedentRanges: make(map[rangeID]struct{}),
	}
}

// rangeNode is the shared record for one interned range precedent:
// which range it is, which formula cells depend on it, and how many
// formula cells currently lie inside its rectangle (its in-degree in
// the calc-chain DAG).
type rangeNode struct {
	id                 rangeID
	rng                model.SheetRange
	dependents         map[model.CellID]struct{}
	memberFormulaCells int
}

func newRangeNode(id rangeID, r model.SheetRange) *rangeNode {
	return &rangeNode{id: id, rng: r, dependents: make(map[model.CellID]struct{})}
}
