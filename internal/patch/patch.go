// Package patch applies sets of cell edits to an OOXML package,
// producing a new ZIP output that preserves every byte of every
// unrelated part (spec.md §4.4).
package patch

import (
	"sort"

	"github.com/vinodismyname/xlcore/internal/model"
)

// RecalcPolicy controls workbook.xml/@fullCalcOnLoad after a batch of
// formula edits (spec.md §4.4 step 6).
type RecalcPolicy int

const (
	// RecalcNone clears workbook.xml/@fullCalcOnLoad if it is already
	// set, and still drops xl/calcChain.xml, since it is stale after
	// any formula edit regardless of the chosen recalc policy.
	RecalcNone RecalcPolicy = iota
	// RecalcForceFullOnOpen sets fullCalcOnLoad="1" and drops
	// xl/calcChain.xml so Excel regenerates it.
	RecalcForceFullOnOpen
)

// Patch is one cell edit: a new value, optionally a formula and/or a
// new style ID (spec.md §4.4).
type Patch struct {
	SheetName string
	Cell      model.CellRef
	Value     model.CellValue
	Formula   string
	HasFormula bool
	StyleID    uint32
	HasStyleID bool
}

// Batch is a set of patches to apply in one pipeline run, plus the
// recalc policy to apply afterward.
type Batch struct {
	Patches []Patch
	Recalc  RecalcPolicy
}

// groupBySheet groups and orders patches per spec.md §4.4 step 2: group
// by resolved worksheet part, order by (row,col) within each group, and
// deduplicate on (row,col) keeping the latest patch.
func groupBySheet(patches []Patch) map[string][]Patch {
	bySheet := make(map[string][]Patch)
	latest := make(map[string]map[model.CellRef]Patch)

	for _, p := range patches {
		if latest[p.SheetName] == nil {
			latest[p.SheetName] = make(map[model.CellRef]Patch)
		}
		latest[p.SheetName][p.Cell] = p // last one wins
	}

	for sheet, cells := range latest {
		list := make([]Patch, 0, len(cells))
		for _, p := range cells {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Cell.Row != list[j].Cell.Row {
				return list[i].Cell.Row < list[j].Cell.Row
			}
			return list[i].Cell.Col < list[j].Cell.Col
		})
		bySheet[sheet] = list
	}
	return bySheet
}
