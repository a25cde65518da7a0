package graph

import "github.com/vinodismyname/xlcore/internal/model"

// sheetIndex is a minimal per-sheet spatial index standing in for the
// R-trees spec.md §3 calls for (rstar in the reference implementation).
// No R-tree library exists anywhere in the dependency corpus this
// module was grounded on, so the two query shapes the rest of the
// package needs — ranges whose rectangle contains a point, and formula
// cells lying inside a rectangle — are served by brute-force scans over
// small per-sheet sets. The two methods below are the only surface the
// rest of internal/graph depends on, so a real R-tree can later be
// substituted without touching callers.
type sheetIndex struct {
	formulaCells map[model.CellRef]struct{}
	ranges       map[rangeID]model.Range
}

func newSheetIndex() *sheetIndex {
	return &sheetIndex{
		formulaCells: make(map[model.CellRef]struct{}),
		ranges:       make(map[rangeID]model.Range),
	}
}

func (s *sheetIndex) addFormulaCell(c model.CellRef) { s.formulaCells[c] = struct{}{} }
func (s *sheetIndex) removeFormulaCell(c model.CellRef) { delete(s.formulaCells, c) }
func (s *sheetIndex) addRange(id rangeID, r model.Range) { s.ranges[id] = r }
func (s *sheetIndex) removeRange(id rangeID) { delete(s.ranges, id) }

// cellsInRange returns the formula cells on this sheet lying inside r,
// sorted by (row, col).
func (s *sheetIndex) cellsInRange(r model.Range) []model.CellRef {
	var out []model.CellRef
	for c := range s.formulaCells {
		if r.Contains(c) {
			out = append(out, c)
		}
	}
	sortCellRefs(out)
	return out
}

// rangesContaining returns the IDs of ranges on this sheet whose
// rectangle contains cell.
func (s *sheetIndex) rangesContaining(cell model.CellRef) []rangeID {
	var out []rangeID
	for id, r := range s.ranges {
		if r.Contains(cell) {
			out = append(out, id)
		}
	}
	return out
}

func sortCellRefs(cells []model.CellRef) {
	// insertion sort: per-sheet sets are expected to stay small; avoids
	// pulling in sort.Slice's reflection-based comparator for a
	// two-field key.
	for i := 1; i < len(cells); i++ {
		j := i
		for j > 0 && cellRefLess(cells[j], cells[j-1]) {
			cells[j], cells[j-1] = cells[j-1], cells[j]
			j--
		}
	}
}

func cellRefLess(a, b model.CellRef) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}
