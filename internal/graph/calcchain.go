package graph

import (
	"container/heap"

	"github.com/vinodismyname/xlcore/internal/model"
)

// readyKey is the deterministic tie-break used by the calc-chain's
// priority queue: (sheet, row, col, kind_tag, range_id) from spec.md
// §4.1, with kind_tag ordering cells before ranges at the same
// coordinate.
type readyKey struct {
	sheet   model.SheetID
	row     uint32
	col     uint32
	kindTag int
	rid     rangeID
}

func (k readyKey) less(o readyKey) bool {
	if k.sheet != o.sheet {
		return k.sheet < o.sheet
	}
	if k.row != o.row {
		return k.row < o.row
	}
	if k.col != o.col {
		return k.col < o.col
	}
	if k.kindTag != o.kindTag {
		return k.kindTag < o.kindTag
	}
	return k.rid < o.rid
}

// chainNode is one node of the fused calc-chain DAG: either a formula
// cell or a range node.
type chainNode struct {
	key     readyKey
	isRange bool
	cell    model.CellID
	rid     rangeID
}

type readyHeap []chainNode

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool   { return h[i].key.less(h[j].key) }
func (h readyHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{})  { *h = append(*h, x.(chainNode)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func cellKey(id model.CellID) readyKey {
	return readyKey{sheet: id.SheetID, row: id.Cell.Row, col: id.Cell.Col, kindTag: 0}
}

func rangeKey(rn *rangeNode) readyKey {
	return readyKey{
		sheet:   rn.rng.SheetID,
		row:     rn.rng.Range.Start.Row,
		col:     rn.rng.Range.Start.Col,
		kindTag: 1,
		rid:     rn.id,
	}
}

// successorsOf returns the successor nodes of n in the fused DAG:
//   - a formula cell's successors are its direct dependents plus any
//     range node whose rectangle contains it (edge 3, spec.md §4.1);
//   - a range node's successors are its dependent formula cells.
func (g *Graph) successorsOf(n chainNode) []chainNode {
	if n.isRange {
		rn := g.ranges[n.rid]
		out := make([]chainNode, 0, len(rn.dependents))
		for d := range rn.dependents {
			out = append(out, chainNode{key: cellKey(d), cell: d})
		}
		return out
	}
	var out []chainNode
	for d := range g.reverseCell[n.cell] {
		if _, isFormula := g.cells[d]; isFormula {
			out = append(out, chainNode{key: cellKey(d), cell: d})
		}
	}
	for _, rid := range g.sheetIndexFor(n.cell.SheetID).rangesContaining(n.cell.Cell) {
		rn := g.ranges[rid]
		out = append(out, chainNode{key: rangeKey(rn), isRange: true, rid: rid})
	}
	return out
}

// buildFullCalcChain runs Kahn's algorithm over the entire fused DAG
// (every formula cell and range node) and returns the calc chain:
// formula cells only, in topological order. Range nodes are invisible
// in the output — they only relay ordering constraints.
func (g *Graph) buildFullCalcChain() ([]model.CellID, error) {
	indegree := make(map[model.CellID]int, len(g.cells))
	rangeIndegree := make(map[rangeID]int, len(g.ranges))

	for id, node := range g.cells {
		d := len(node.precedentRanges)
		for p := range node.precedentCells {
			if _, isFormula := g.cells[p]; isFormula {
				d++
			}
		}
		indegree[id] = d
	}
	for id, rn := range g.ranges {
		rangeIndegree[id] = rn.memberFormulaCells
	}

	pq := &readyHeap{}
	heap.Init(pq)
	for id, d := range indegree {
		if d == 0 {
			heap.Push(pq, chainNode{key: cellKey(id), cell: id})
		}
	}
	for id, d := range rangeIndegree {
		if d == 0 {
			heap.Push(pq, chainNode{key: rangeKey(g.ranges[id]), isRange: true, rid: id})
		}
	}

	var chain []model.CellID
	processed := 0
	total := len(g.cells) + len(g.ranges)

	for pq.Len() > 0 {
		n := heap.Pop(pq).(chainNode)
		processed++
		if !n.isRange {
			chain = append(chain, n.cell)
		}
		for _, succ := range g.successorsOf(n) {
			if succ.isRange {
				rangeIndegree[succ.rid]--
				if rangeIndegree[succ.rid] == 0 {
					heap.Push(pq, succ)
				}
			} else {
				indegree[succ.cell]--
				if indegree[succ.cell] == 0 {
					heap.Push(pq, succ)
				}
			}
		}
	}

	if processed < total {
		path := g.findCycle(indegree, rangeIndegree)
		return nil, newCycleError(path)
	}
	return chain, nil
}

// findCycle runs an iterative three-color DFS over the nodes whose
// in-degree never reached zero, returning a representative closed
// path for CycleError.
func (g *Graph) findCycle(remainingCellIndeg map[model.CellID]int, remainingRangeIndeg map[rangeID]int) []nodeRef {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[interface{}]int)

	nodeKeyFor := func(n chainNode) interface{} {
		if n.isRange {
			return n.rid
		}
		return n.cell
	}

	var stack []chainNode
	var path []chainNode

	var startNodes []chainNode
	for id, d := range remainingCellIndeg {
		if d > 0 {
			startNodes = append(startNodes, chainNode{key: cellKey(id), cell: id})
		}
	}
	for id, d := range remainingRangeIndeg {
		if d > 0 {
			startNodes = append(startNodes, chainNode{key: rangeKey(g.ranges[id]), isRange: true, rid: id})
		}
	}

	type frame struct {
		node chainNode
		succ []chainNode
		idx  int
	}

	for _, start := range startNodes {
		if color[nodeKeyFor(start)] != white {
			continue
		}
		stack = append(stack[:0], start)
		var frames []frame
		frames = append(frames, frame{node: start, succ: g.successorsOf(start)})
		color[nodeKeyFor(start)] = gray
		path = append(path[:0], start)

		for len(frames) > 0 {
			top := &frames[len(frames)-1]
			if top.idx >= len(top.succ) {
				color[nodeKeyFor(top.node)] = black
				frames = frames[:len(frames)-1]
				path = path[:len(path)-1]
				continue
			}
			next := top.succ[top.idx]
			top.idx++
			nk := nodeKeyFor(next)
			switch color[nk] {
			case white:
				color[nk] = gray
				path = append(path, next)
				frames = append(frames, frame{node: next, succ: g.successorsOf(next)})
			case gray:
				// Found the back edge closing the cycle: the cycle is
				// the suffix of path from next's first occurrence.
				cycleStart := 0
				for i, n := range path {
					if nodeKeyFor(n) == nk {
						cycleStart = i
						break
					}
				}
				cyclePath := path[cycleStart:]
				refs := make([]nodeRef, 0, len(cyclePath)+1)
				for _, n := range cyclePath {
					refs = append(refs, toNodeRef(g, n))
				}
				refs = append(refs, toNodeRef(g, cyclePath[0]))
				return refs
			case black:
				// Already fully explored via another path; skip.
			}
		}
	}
	return nil
}

func toNodeRef(g *Graph, n chainNode) nodeRef {
	if n.isRange {
		return rangeNodeRef(g.ranges[n.rid].rng)
	}
	return cellNodeRef(n.cell)
}

// CalcOrderForDirty returns the linear topological order restricted to
// the union of the dirty set and the volatile closure (spec.md §4.1).
func (g *Graph) CalcOrderForDirty() ([]model.CellID, error) {
	if err := g.ensureFullCalcChain(); err != nil {
		return nil, err
	}
	subset := g.evaluatedSubset()
	out := make([]model.CellID, 0, len(subset))
	for _, c := range g.calcChain {
		if _, ok := subset[c]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (g *Graph) ensureFullCalcChain() error {
	if g.calcChainValid {
		return g.calcChainErr
	}
	chain, err := g.buildFullCalcChain()
	g.calcChain = chain
	g.calcChainErr = err
	g.calcChainValid = true
	return err
}

func (g *Graph) ensureVolatileClosure() {
	if g.volatileClosureValid {
		return
	}
	closure := make(map[model.CellID]struct{})
	var queue []model.CellID
	for c := range g.volatileRoots {
		if _, ok := closure[c]; !ok {
			closure[c] = struct{}{}
			queue = append(queue, c)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.DirectDependents(cur) {
			if _, ok := closure[d]; ok {
				continue
			}
			closure[d] = struct{}{}
			queue = append(queue, d)
		}
	}
	g.volatileClosure = closure
	g.volatileClosureValid = true
}

func (g *Graph) evaluatedSubset() map[model.CellID]struct{} {
	g.ensureVolatileClosure()
	subset := make(map[model.CellID]struct{}, len(g.dirty)+len(g.volatileClosure))
	for c := range g.dirty {
		subset[c] = struct{}{}
	}
	for c := range g.volatileClosure {
		subset[c] = struct{}{}
	}
	return subset
}

// CalcLevelsForDirty produces independent levels for parallel
// evaluation (spec.md §4.1, §4.2): in-degrees are rebuilt restricted to
// the evaluated subset, then all currently-ready cell nodes are
// repeatedly drained into one level, processing ready range nodes
// first on each iteration so they do not block the level cut.
func (g *Graph) CalcLevelsForDirty() ([][]model.CellID, error) {
	if err := g.ensureFullCalcChain(); err != nil {
		return nil, err
	}
	subset := g.evaluatedSubset()
	if len(subset) == 0 {
		return nil, nil
	}

	// Restrict ranges to those with at least one dependent in subset,
	// and recompute in-degrees counting only edges within the subset
	// (plus ranges relevant to it).
	relevantRanges := make(map[rangeID]struct{})
	for c := range subset {
		node, ok := g.cells[c]
		if !ok {
			continue
		}
		for rid := range node.precedentRanges {
			relevantRanges[rid] = struct{}{}
		}
	}

	cellIndeg := make(map[model.CellID]int, len(subset))
	for c := range subset {
		node := g.cells[c]
		d := 0
		for p := range node.precedentCells {
			if _, ok := subset[p]; ok {
				d++
			}
		}
		d += len(node.precedentRanges)
		cellIndeg[c] = d
	}
	// A range node's in-degree is its member-formula-cell count (edge 3:
	// member formula cell -> containing range node), restricted to
	// members that are part of this evaluation's subset.
	rangeIndeg := make(map[rangeID]int, len(relevantRanges))
	for rid := range relevantRanges {
		rn := g.ranges[rid]
		members := g.sheetIndexFor(rn.rng.SheetID).cellsInRange(rn.rng.Range)
		n := 0
		for _, m := range members {
			if _, ok := subset[model.CellID{SheetID: rn.rng.SheetID, Cell: m}]; ok {
				n++
			}
		}
		rangeIndeg[rid] = n
	}

	var levels [][]model.CellID
	remainingCells := len(subset)

	for remainingCells > 0 {
		// Drain all ready range nodes first so they unblock cells
		// within the same pass.
		progressed := true
		for progressed {
			progressed = false
			for rid, d := range rangeIndeg {
				if d != 0 {
					continue
				}
				delete(rangeIndeg, rid)
				rn := g.ranges[rid]
				for dep := range rn.dependents {
					if _, ok := subset[dep]; !ok {
						continue
					}
					cellIndeg[dep]--
				}
				progressed = true
			}
		}

		var level []model.CellID
		for c, d := range cellIndeg {
			if d == 0 {
				level = append(level, c)
			}
		}
		if len(level) == 0 {
			return nil, newCycleError(g.findCycle(cellIndeg, rangeIndeg))
		}
		sortCellIDs(level)
		for _, c := range level {
			delete(cellIndeg, c)
		}
		remainingCells -= len(level)

		for _, c := range level {
			for _, rid := range g.sheetIndexFor(c.SheetID).rangesContaining(c.Cell) {
				if _, ok := rangeIndeg[rid]; ok {
					rangeIndeg[rid]--
				}
			}
			for d := range g.reverseCell[c] {
				if _, ok := cellIndeg[d]; ok {
					cellIndeg[d]--
				}
			}
		}

		levels = append(levels, level)
	}

	return levels, nil
}
