package sandbox

import "github.com/vinodismyname/xlcore/internal/model"

// RunContext seeds the host's active sheet and selection for one script
// run. A nil ActiveSheetID, or one that no longer names a sheet in the
// workbook, falls back to the workbook's first sheet; a nil Selection (or
// one whose sheet no longer exists) falls back to a zero-size selection
// anchored at that sheet's A1.
type RunContext struct {
	ActiveSheetID *model.SheetID
	Selection     *Selection
}

// CellUpdate reports one cell a script run touched, after deduplication:
// the latest value/formula the script left the cell in, not its full edit
// history.
type CellUpdate struct {
	SheetID      model.SheetID
	Row          uint32
	Col          uint32
	Value        any
	Formula      *string
	DisplayValue *string
}

// ScriptError carries the failure reported by an unsuccessful script run,
// with an optional interpreter traceback.
type ScriptError struct {
	Message string
	Stack   *string
}

// RunResult is the outcome of one sandboxed script execution.
type RunResult struct {
	OK      bool
	Stdout  string
	Stderr  string
	Updates []CellUpdate
	Err     *ScriptError
}

// pendingUpdate is the host's bookkeeping record for one cell edit, before
// it is reported to the caller as a CellUpdate.
type pendingUpdate struct {
	sheetID      model.SheetID
	row, col     uint32
	value        any
	formula      *string
	displayValue *string
}

type updateKey struct {
	sheetID  model.SheetID
	row, col uint32
}

// dedupeUpdates keeps the slice position a (sheet,row,col) key first
// appears at, but overwrites the value stored there on every later
// occurrence of the same key: latest edit wins, first-occurrence order is
// preserved. This is what lets a script's many small edits to the same
// cell collapse into one reported update.
func dedupeUpdates(updates []pendingUpdate) []pendingUpdate {
	out := make([]pendingUpdate, 0, len(updates))
	indexByKey := make(map[updateKey]int, len(updates))
	for _, u := range updates {
		key := updateKey{sheetID: u.sheetID, row: u.row, col: u.col}
		if idx, ok := indexByKey[key]; ok {
			out[idx] = u
			continue
		}
		indexByKey[key] = len(out)
		out = append(out, u)
	}
	return out
}

func toCellUpdate(u pendingUpdate) CellUpdate {
	return CellUpdate{
		SheetID:      u.sheetID,
		Row:          u.row,
		Col:          u.col,
		Value:        u.value,
		Formula:      u.formula,
		DisplayValue: u.displayValue,
	}
}
