package graph

import "github.com/vinodismyname/xlcore/internal/model"

// CellDependencies is the precedent set and volatility flag a caller
// supplies for update_cell_dependencies (spec.md §4.1).
type CellDependencies struct {
	Precedents []Precedent
	Volatile   bool
}

// Graph is the incremental dependency graph for one workbook. It is not
// safe for concurrent mutation (spec.md §5: single-owner-per-workbook);
// recalculation's per-level fan-out only ever reads cached query
// results produced before the level starts.
type Graph struct {
	cells       map[model.CellID]*cellNode
	reverseCell map[model.CellID]map[model.CellID]struct{} // precedent cell -> dependent formula cells
	ranges      map[rangeID]*rangeNode
	rangeIntern map[model.SheetRange]rangeID
	nextRangeID rangeID

	volatileRoots map[model.CellID]struct{}
	dirty         map[model.CellID]struct{}
	fullRecalc    bool // set once dirty propagation overflows DirtyMarkLimit

	sheets map[model.SheetID]*sheetIndex

	dirtyMarkLimit int

	calcChainValid bool
	calcChain      []model.CellID
	calcChainErr   error

	volatileClosureValid bool
	volatileClosure      map[model.CellID]struct{}
}

// New constructs an empty graph. dirtyMarkLimit bounds mark_dirty's BFS
// before it falls back to a full-recalc promotion; pass
// config.DirtyMarkLimit in production.
func New(dirtyMarkLimit int) *Graph {
	return &Graph{
		cells:          make(map[model.CellID]*cellNode),
		reverseCell:    make(map[model.CellID]map[model.CellID]struct{}),
		ranges:         make(map[rangeID]*rangeNode),
		rangeIntern:    make(map[model.SheetRange]rangeID),
		volatileRoots:  make(map[model.CellID]struct{}),
		dirty:          make(map[model.CellID]struct{}),
		sheets:         make(map[model.SheetID]*sheetIndex),
		dirtyMarkLimit: dirtyMarkLimit,
	}
}

func (g *Graph) sheetIndexFor(id model.SheetID) *sheetIndex {
	si, ok := g.sheets[id]
	if !ok {
		si = newSheetIndex()
		g.sheets[id] = si
	}
	return si
}

func (g *Graph) invalidateCaches() {
	g.calcChainValid = false
	g.calcChain = nil
	g.calcChainErr = nil
	g.volatileClosureValid = false
	g.volatileClosure = nil
}

// internRange returns the rangeID for r, minting one and seeding its
// member-formula-cell count from the cell spatial index if r is novel.
func (g *Graph) internRange(r model.SheetRange) *rangeNode {
	if id, ok := g.rangeIntern[r]; ok {
		return g.ranges[id]
	}
	id := g.nextRangeID
	g.nextRangeID++
	rn := newRangeNode(id, r)
	si := g.sheetIndexFor(r.SheetID)
	rn.memberFormulaCells = len(si.cellsInRange(r.Range))
	g.rangeIntern[r] = id
	g.ranges[id] = rn
	si.addRange(id, r.Range)
	return rn
}

// detachRangeIfOrphaned deletes rn if it has no remaining dependents.
func (g *Graph) detachRangeIfOrphaned(rn *rangeNode) {
	if len(rn.dependents) > 0 {
		return
	}
	delete(g.ranges, rn.id)
	delete(g.rangeIntern, rn.rng)
	g.sheetIndexFor(rn.rng.SheetID).removeRange(rn.id)
}

// UpdateCellDependencies registers or replaces the precedent set for
// cell (spec.md §4.1).
func (g *Graph) UpdateCellDependencies(cell model.CellID, deps CellDependencies) {
	g.invalidateCaches()

	node, existed := g.cells[cell]
	if !existed {
		node = newCellNode()
		g.cells[cell] = node
		g.sheetIndexFor(cell.SheetID).addFormulaCell(cell.Cell)
		for _, rid := range g.sheetIndexFor(cell.SheetID).rangesContaining(cell.Cell) {
			g.ranges[rid].memberFormulaCells++
		}
	}

	// Detach old edges exactly.
	for p := range node.precedentCells {
		if deps := g.reverseCell[p]; deps != nil {
			delete(deps, cell)
			if len(deps) == 0 {
				delete(g.reverseCell, p)
			}
		}
	}
	for rid := range node.precedentRanges {
		if rn, ok := g.ranges[rid]; ok {
			delete(rn.dependents, cell)
			g.detachRangeIfOrphaned(rn)
		}
	}
	node.precedentCells = make(map[model.CellID]struct{})
	node.precedentRanges = make(map[rangeID]struct{})
	node.isVolatile = deps.Volatile

	for _, p := range deps.Precedents {
		if p.IsRange() {
			rn := g.internRange(p.Range)
			node.precedentRanges[rn.id] = struct{}{}
			rn.dependents[cell] = struct{}{}
			continue
		}
		node.precedentCells[p.Cell] = struct{}{}
		if g.reverseCell[p.Cell] == nil {
			g.reverseCell[p.Cell] = make(map[model.CellID]struct{})
		}
		g.reverseCell[p.Cell][cell] = struct{}{}
	}

	if deps.Volatile {
		g.volatileRoots[cell] = struct{}{}
	} else {
		delete(g.volatileRoots, cell)
	}
}

// SetCellVolatile toggles membership in the volatile roots set without
// touching edges. No-op if cell is not a formula cell.
func (g *Graph) SetCellVolatile(cell model.CellID, volatile bool) {
	node, ok := g.cells[cell]
	if !ok {
		return
	}
	if node.isVolatile == volatile {
		return
	}
	node.isVolatile = volatile
	g.invalidateCaches()
	if volatile {
		g.volatileRoots[cell] = struct{}{}
	} else {
		delete(g.volatileRoots, cell)
	}
}

// RemoveCell deletes the formula node for cell, pruning its precedent
// edges and decrementing containing range nodes (spec.md §4.1).
func (g *Graph) RemoveCell(cell model.CellID) {
	node, ok := g.cells[cell]
	if !ok {
		return
	}
	g.invalidateCaches()

	for p := range node.precedentCells {
		if deps := g.reverseCell[p]; deps != nil {
			delete(deps, cell)
			if len(deps) == 0 {
				delete(g.reverseCell, p)
			}
		}
	}
	for rid := range node.precedentRanges {
		if rn, ok := g.ranges[rid]; ok {
			delete(rn.dependents, cell)
			g.detachRangeIfOrphaned(rn)
		}
	}

	si := g.sheetIndexFor(cell.SheetID)
	for _, rid := range si.rangesContaining(cell.Cell) {
		if rn, ok := g.ranges[rid]; ok {
			rn.memberFormulaCells--
		}
	}
	si.removeFormulaCell(cell.Cell)

	delete(g.cells, cell)
	delete(g.volatileRoots, cell)
	delete(g.dirty, cell)
}

// PrecedentsOf returns a deterministically sorted vector of cell's
// precedents: cells before ranges, ties broken by (sheet,row,col), then
// by end row/col for ranges.
func (g *Graph) PrecedentsOf(cell model.CellID) []Precedent {
	node, ok := g.cells[cell]
	if !ok {
		return nil
	}
	out := make([]Precedent, 0, len(node.precedentCells)+len(node.precedentRanges))
	cells := make([]model.CellID, 0, len(node.precedentCells))
	for c := range node.precedentCells {
		cells = append(cells, c)
	}
	sortCellIDs(cells)
	for _, c := range cells {
		out = append(out, PrecedentCell(c))
	}
	ranges := make([]*rangeNode, 0, len(node.precedentRanges))
	for rid := range node.precedentRanges {
		ranges = append(ranges, g.ranges[rid])
	}
	sortRangeNodes(ranges)
	for _, rn := range ranges {
		out = append(out, PrecedentRange(rn.rng))
	}
	return out
}

// DependentsOf returns deterministic, deduplicated dependent edges for
// cell: DirectCell wins when both a direct and a range edge exist for
// the same dependent (spec.md §4.1).
func (g *Graph) DependentsOf(cell model.CellID) []Dependent {
	seen := make(map[model.CellID]Dependent)

	for d := range g.reverseCell[cell] {
		seen[d] = Dependent{Cell: d, Kind: DirectCell}
	}
	for _, rid := range g.sheetIndexFor(cell.SheetID).rangesContaining(cell.Cell) {
		rn := g.ranges[rid]
		for d := range rn.dependents {
			if existing, ok := seen[d]; ok && existing.Kind == DirectCell {
				continue
			}
			seen[d] = Dependent{Cell: d, Kind: RangeDependent, Range: rn.rng}
		}
	}

	out := make([]Dependent, 0, len(seen))
	for _, dep := range seen {
		out = append(out, dep)
	}
	sortDependents(out)
	return out
}

// DirectDependents is the union of direct cell dependents and the
// dependents of every containing range node, sorted and deduplicated
// by (sheet,row,col).
func (g *Graph) DirectDependents(cell model.CellID) []model.CellID {
	seen := make(map[model.CellID]struct{})
	for d := range g.reverseCell[cell] {
		seen[d] = struct{}{}
	}
	for _, rid := range g.sheetIndexFor(cell.SheetID).rangesContaining(cell.Cell) {
		for d := range g.ranges[rid].dependents {
			seen[d] = struct{}{}
		}
	}
	out := make([]model.CellID, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sortCellIDs(out)
	return out
}

// FormulaCellsInRange returns the formula cells inside r, sorted by
// (sheet,row,col), from a linear scan of the sheet's cell index
// (spatial.go); no R-tree is used. r is assumed to carry a single sheet.
func (g *Graph) FormulaCellsInRange(r model.SheetRange) []model.CellID {
	cells := g.sheetIndexFor(r.SheetID).cellsInRange(r.Range)
	out := make([]model.CellID, len(cells))
	for i, c := range cells {
		out[i] = model.CellID{SheetID: r.SheetID, Cell: c}
	}
	return out
}

// MarkDirty runs a bounded BFS through the fused dependent relation
// starting at cell. If the distinct-node count exceeds the configured
// DirtyMarkLimit, it abandons targeted propagation and marks every
// formula cell dirty instead (spec.md §4.1).
func (g *Graph) MarkDirty(cell model.CellID) {
	if g.fullRecalc {
		return
	}
	visited := make(map[model.CellID]struct{})
	queue := []model.CellID{cell}
	visited[cell] = struct{}{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if _, isFormula := g.cells[cur]; isFormula {
			if _, already := g.dirty[cur]; already {
				continue
			}
			g.dirty[cur] = struct{}{}
		}

		for _, next := range g.DirectDependents(cur) {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			if len(visited) > g.dirtyMarkLimit {
				g.promoteToFullRecalc()
				return
			}
			queue = append(queue, next)
		}
	}
}

func (g *Graph) promoteToFullRecalc() {
	g.fullRecalc = true
	g.dirty = make(map[model.CellID]struct{}, len(g.cells))
	for c := range g.cells {
		g.dirty[c] = struct{}{}
	}
}

// DirtyCells returns the current dirty set (unordered); callers needing
// a deterministic order should route through CalcOrderForDirty.
func (g *Graph) DirtyCells() map[model.CellID]struct{} {
	return g.dirty
}

// ClearDirty empties the dirty set and lifts the full-recalc flag,
// called by the scheduler once every level of a recalc completes
// (spec.md §4.2).
func (g *Graph) ClearDirty() {
	g.dirty = make(map[model.CellID]struct{})
	g.fullRecalc = false
}

func sortCellIDs(cells []model.CellID) {
	for i := 1; i < len(cells); i++ {
		j := i
		for j > 0 && cellIDLess(cells[j], cells[j-1]) {
			cells[j], cells[j-1] = cells[j-1], cells[j]
			j--
		}
	}
}

func cellIDLess(a, b model.CellID) bool {
	if a.SheetID != b.SheetID {
		return a.SheetID < b.SheetID
	}
	return cellRefLess(a.Cell, b.Cell)
}

func sortRangeNodes(ranges []*rangeNode) {
	for i := 1; i < len(ranges); i++ {
		j := i
		for j > 0 && rangeNodeLess(ranges[j], ranges[j-1]) {
			ranges[j], ranges[j-1] = ranges[j-1], ranges[j]
			j--
		}
	}
}

func rangeNodeLess(a, b *rangeNode) bool {
	if a.rng.SheetID != b.rng.SheetID {
		return a.rng.SheetID < b.rng.SheetID
	}
	if a.rng.Range.Start != b.rng.Range.Start {
		return cellRefLess(a.rng.Range.Start, b.rng.Range.Start)
	}
	return cellRefLess(a.rng.Range.End, b.rng.Range.End)
}

func sortDependents(deps []Dependent) {
	for i := 1; i < len(deps); i++ {
		j := i
		for j > 0 && cellIDLess(deps[j].Cell, deps[j-1].Cell) {
			deps[j], deps[j-1] = deps[j-1], deps[j]
			j--
		}
	}
}
