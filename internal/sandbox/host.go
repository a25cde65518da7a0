package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/validate"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// host is the RPC dispatcher a script run talks to: it owns no state of
// its own beyond the active-sheet/selection cursor and the pending-update
// report, mutating the workbook and graph handed to it directly as RPC
// calls arrive (spec.md §6, "Python scripting RPC").
type host struct {
	wb            *model.Workbook
	g             *graph.Graph
	activeSheetID model.SheetID
	selection     Selection
	updates       []pendingUpdate
}

func newHost(wb *model.Workbook, g *graph.Graph, runCtx *RunContext) (*host, error) {
	if len(wb.Sheets) == 0 {
		return nil, mcperr.New(mcperr.Validation, "workbook contains no sheets")
	}
	fallback := wb.Sheets[0].ID

	active := fallback
	if runCtx != nil && runCtx.ActiveSheetID != nil {
		if _, ok := wb.SheetByID(*runCtx.ActiveSheetID); ok {
			active = *runCtx.ActiveSheetID
		}
	}

	selection := Selection{SheetID: uint32(active)}
	if runCtx != nil && runCtx.Selection != nil {
		if _, ok := wb.SheetByID(model.SheetID(runCtx.Selection.SheetID)); ok {
			selection = *runCtx.Selection
		}
	}

	return &host{wb: wb, g: g, activeSheetID: active, selection: selection}, nil
}

func (h *host) extendUpdates(newOnes []pendingUpdate) {
	h.updates = dedupeUpdates(append(h.updates, newOnes...))
}

func (h *host) takeUpdates() []CellUpdate {
	pending := h.updates
	h.updates = nil
	out := make([]CellUpdate, len(pending))
	for i, u := range pending {
		out[i] = toCellUpdate(u)
	}
	return out
}

func (h *host) sheet(id model.SheetID) (*model.Worksheet, error) {
	ws, ok := h.wb.SheetByID(id)
	if !ok {
		return nil, mcperr.New(mcperr.UnknownSheet, "unknown sheet id %d", id)
	}
	return ws, nil
}

func (h *host) foldedSheetNames() map[string]struct{} {
	names := make([]string, len(h.wb.Sheets))
	for i, ws := range h.wb.Sheets {
		names[i] = ws.Name
	}
	return validate.FoldedNameSet(names)
}

func unmarshalParams[T any](params json.RawMessage) (T, error) {
	var out T
	if len(params) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(params, &out); err != nil {
		var zero T
		return zero, mcperr.New(mcperr.Validation, "invalid RPC params: %v", err)
	}
	return out, nil
}

func parseRangeParams(params json.RawMessage) (RangeRef, error) {
	wrapper, err := unmarshalParams[struct {
		Range *RangeRef `json:"range"`
	}](params)
	if err != nil {
		return RangeRef{}, err
	}
	if wrapper.Range == nil {
		return RangeRef{}, mcperr.New(mcperr.Validation, "missing params.range")
	}
	return *wrapper.Range, nil
}

func ensureSingleCell(r RangeRef, method string) error {
	if r.StartRow != r.EndRow || r.StartCol != r.EndCol {
		return mcperr.New(mcperr.Validation, "%s expects a single-cell range", method)
	}
	return nil
}

func enforceRangeLimits(r RangeRef) (rowCount, colCount uint64, err error) {
	return validate.EnforceRangeLimits(validate.RangeBounds{
		StartRow: uint64(r.StartRow), StartCol: uint64(r.StartCol),
		EndRow: uint64(r.EndRow), EndCol: uint64(r.EndCol),
	})
}

// handleRPC dispatches one decoded "rpc" frame's method to the matching
// workbook operation, mirroring the 15 recognized methods listed in
// spec.md §6.
func (h *host) handleRPC(method string, params json.RawMessage) (any, error) {
	switch method {
	case "get_active_sheet_id":
		return uint32(h.activeSheetID), nil

	case "get_sheet_id":
		p, err := unmarshalParams[struct {
			Name string `json:"name"`
		}](params)
		if err != nil {
			return nil, err
		}
		folded := validate.FoldSheetName(p.Name)
		for _, ws := range h.wb.Sheets {
			if validate.FoldSheetName(ws.Name) == folded {
				return uint32(ws.ID), nil
			}
		}
		return nil, nil

	case "create_sheet":
		p, err := unmarshalParams[struct {
			Name  string `json:"name"`
			Index *int   `json:"index"`
		}](params)
		if err != nil {
			return nil, err
		}
		name, err := validate.ValidateSheetName(p.Name, h.foldedSheetNames())
		if err != nil {
			return nil, err
		}
		index := len(h.wb.Sheets)
		if p.Index != nil {
			index = *p.Index
		} else if activeIdx := h.wb.SheetIndex(h.activeSheetID); activeIdx >= 0 {
			index = activeIdx + 1
		}
		ws := h.wb.InsertSheet(name, index)
		return uint32(ws.ID), nil

	case "get_sheet_name":
		p, err := unmarshalParams[struct {
			SheetID uint32 `json:"sheet_id"`
		}](params)
		if err != nil {
			return nil, err
		}
		ws, err := h.sheet(model.SheetID(p.SheetID))
		if err != nil {
			return nil, err
		}
		return ws.Name, nil

	case "rename_sheet":
		p, err := unmarshalParams[struct {
			SheetID uint32 `json:"sheet_id"`
			Name    string `json:"name"`
		}](params)
		if err != nil {
			return nil, err
		}
		ws, err := h.sheet(model.SheetID(p.SheetID))
		if err != nil {
			return nil, err
		}
		existing := h.foldedSheetNames()
		delete(existing, validate.FoldSheetName(ws.Name))
		name, err := validate.ValidateSheetName(p.Name, existing)
		if err != nil {
			return nil, err
		}
		h.wb.RenameSheet(ws.ID, name)
		return nil, nil

	case "get_selection":
		return h.selection, nil

	case "set_selection":
		p, err := unmarshalParams[struct {
			Selection *Selection `json:"selection"`
		}](params)
		if err != nil {
			return nil, err
		}
		if p.Selection == nil {
			return nil, mcperr.New(mcperr.Validation, "set_selection expects { selection }")
		}
		if _, err := h.sheet(model.SheetID(p.Selection.SheetID)); err != nil {
			return nil, err
		}
		h.activeSheetID = model.SheetID(p.Selection.SheetID)
		h.selection = *p.Selection
		return nil, nil

	case "get_range_values":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		rowCount, colCount, err := enforceRangeLimits(rng)
		if err != nil {
			return nil, err
		}
		ws, err := h.sheet(model.SheetID(rng.SheetID))
		if err != nil {
			return nil, err
		}
		out := make([][]any, rowCount)
		for r := uint64(0); r < rowCount; r++ {
			row := make([]any, colCount)
			for c := uint64(0); c < colCount; c++ {
				ref := model.CellRef{Row: rng.StartRow + uint32(r), Col: rng.StartCol + uint32(c)}
				if cell := ws.Cell(ref); cell != nil {
					row[c] = cell.Value.AsJSON()
				}
			}
			out[r] = row
		}
		return out, nil

	case "set_range_values":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		rowCount, colCount, err := enforceRangeLimits(rng)
		if err != nil {
			return nil, err
		}
		if _, err := h.sheet(model.SheetID(rng.SheetID)); err != nil {
			return nil, err
		}
		p, err := unmarshalParams[struct {
			Values json.RawMessage `json:"values"`
		}](params)
		if err != nil {
			return nil, err
		}
		grid, err := buildValuesGrid(p.Values, rowCount, colCount)
		if err != nil {
			return nil, err
		}
		var touched []pendingUpdate
		for r := uint64(0); r < rowCount; r++ {
			for c := uint64(0); c < colCount; c++ {
				coerced, err := validate.CoerceCellInput(grid[r][c])
				if err != nil {
					return nil, err
				}
				ref := model.CellRef{Row: rng.StartRow + uint32(r), Col: rng.StartCol + uint32(c)}
				touched = append(touched, h.writeCell(model.SheetID(rng.SheetID), ref, coerced))
			}
		}
		h.extendUpdates(touched)
		return nil, nil

	case "set_cell_value":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		if err := ensureSingleCell(rng, method); err != nil {
			return nil, err
		}
		if _, err := h.sheet(model.SheetID(rng.SheetID)); err != nil {
			return nil, err
		}
		p, err := unmarshalParams[struct {
			Value any `json:"value"`
		}](params)
		if err != nil {
			return nil, err
		}
		coerced, err := validate.CoerceCellInput(p.Value)
		if err != nil {
			return nil, err
		}
		ref := model.CellRef{Row: rng.StartRow, Col: rng.StartCol}
		h.extendUpdates([]pendingUpdate{h.writeCell(model.SheetID(rng.SheetID), ref, coerced)})
		return nil, nil

	case "get_cell_formula":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		if err := ensureSingleCell(rng, method); err != nil {
			return nil, err
		}
		ws, err := h.sheet(model.SheetID(rng.SheetID))
		if err != nil {
			return nil, err
		}
		cell := ws.Cell(model.CellRef{Row: rng.StartRow, Col: rng.StartCol})
		if cell == nil || !cell.HasFormula {
			return nil, nil
		}
		return cell.Formula, nil

	case "set_cell_formula":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		if err := ensureSingleCell(rng, method); err != nil {
			return nil, err
		}
		if _, err := h.sheet(model.SheetID(rng.SheetID)); err != nil {
			return nil, err
		}
		p, err := unmarshalParams[struct {
			Formula *string `json:"formula"`
		}](params)
		if err != nil {
			return nil, err
		}
		if p.Formula == nil {
			return nil, mcperr.New(mcperr.Validation, "set_cell_formula expects { range, formula }")
		}
		formula, ok := normalizeFormulaText(*p.Formula)
		if !ok {
			return nil, mcperr.New(mcperr.Validation, "empty formula")
		}
		ref := model.CellRef{Row: rng.StartRow, Col: rng.StartCol}
		update := h.writeCell(model.SheetID(rng.SheetID), ref, validate.CoercedCell{IsFormula: true, Formula: formula})
		h.extendUpdates([]pendingUpdate{update})
		return nil, nil

	case "clear_range":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		rowCount, colCount, err := enforceRangeLimits(rng)
		if err != nil {
			return nil, err
		}
		if _, err := h.sheet(model.SheetID(rng.SheetID)); err != nil {
			return nil, err
		}
		var touched []pendingUpdate
		for r := uint64(0); r < rowCount; r++ {
			for c := uint64(0); c < colCount; c++ {
				ref := model.CellRef{Row: rng.StartRow + uint32(r), Col: rng.StartCol + uint32(c)}
				touched = append(touched, h.writeCell(model.SheetID(rng.SheetID), ref, validate.CoercedCell{IsEmpty: true}))
			}
		}
		h.extendUpdates(touched)
		return nil, nil

	case "set_range_format":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		rowCount, colCount, err := enforceRangeLimits(rng)
		if err != nil {
			return nil, err
		}
		ws, err := h.sheet(model.SheetID(rng.SheetID))
		if err != nil {
			return nil, err
		}
		p, err := unmarshalParams[struct {
			Format json.RawMessage `json:"format"`
		}](params)
		if err != nil {
			return nil, err
		}
		code, hasPatch, err := parseNumberFormatPatch(p.Format)
		if err != nil {
			return nil, err
		}
		if !hasPatch {
			return nil, nil
		}
		for r := uint64(0); r < rowCount; r++ {
			for c := uint64(0); c < colCount; c++ {
				ref := model.CellRef{Row: rng.StartRow + uint32(r), Col: rng.StartCol + uint32(c)}
				h.applyNumberFormat(ws, ref, code)
			}
		}
		return nil, nil

	case "get_range_format":
		rng, err := parseRangeParams(params)
		if err != nil {
			return nil, err
		}
		if err := ensureSingleCell(rng, method); err != nil {
			return nil, err
		}
		ws, err := h.sheet(model.SheetID(rng.SheetID))
		if err != nil {
			return nil, err
		}
		cell := ws.Cell(model.CellRef{Row: rng.StartRow, Col: rng.StartCol})
		if cell == nil {
			return map[string]any{}, nil
		}
		style, _ := h.wb.Styles.Lookup(cell.StyleID)
		if style.NumberFormat.BuiltinID == 0 && style.NumberFormat.Code == "" {
			return map[string]any{}, nil
		}
		if style.NumberFormat.Code != "" {
			return map[string]any{"numberFormat": style.NumberFormat.Code}, nil
		}
		return map[string]any{"numberFormat": fmt.Sprintf("builtin:%d", style.NumberFormat.BuiltinID)}, nil

	default:
		return nil, mcperr.New(mcperr.Validation, "unknown RPC method: %s", method)
	}
}

// writeCell installs coerced at ref on sheetID, updates the dependency
// graph accordingly, and returns the pending-update record for it. It
// does not itself evaluate a formula cell's value: formula evaluation is
// the recalculation scheduler's job (internal/recalc), triggered
// separately once a script run finishes touching cells.
func (h *host) writeCell(sheetID model.SheetID, ref model.CellRef, coerced validate.CoercedCell) pendingUpdate {
	ws, _ := h.wb.SheetByID(sheetID)
	cellID := model.CellID{SheetID: sheetID, Cell: ref}

	var cell model.Cell
	var formulaPtr *string
	var reportedValue any

	switch {
	case coerced.IsFormula:
		cell = model.Cell{HasFormula: true, Formula: coerced.Formula}
		// No formula grammar is available at this boundary (assumed given
		// externally); record the formula text and let a full recalc pass
		// rediscover its precedents. Dirty propagation to any existing
		// dependents of this cell still applies below.
		h.g.UpdateCellDependencies(cellID, graph.CellDependencies{})
		f := coerced.Formula
		formulaPtr = &f
	case coerced.IsEmpty:
		h.g.RemoveCell(cellID)
	default:
		cell = model.Cell{Value: jsonToCellValue(coerced.Value)}
		h.g.RemoveCell(cellID)
		reportedValue = coerced.Value
	}

	ws.SetCell(ref, cell)
	h.g.MarkDirty(cellID)

	return pendingUpdate{
		sheetID: sheetID, row: ref.Row, col: ref.Col,
		value: reportedValue, formula: formulaPtr,
	}
}

func (h *host) applyNumberFormat(ws *model.Worksheet, ref model.CellRef, code *string) {
	cell := ws.Cell(ref)
	var current model.Cell
	if cell != nil {
		current = *cell
	}
	style, _ := h.wb.Styles.Lookup(current.StyleID)
	if code == nil {
		style.NumberFormat = model.NumberFormat{}
	} else {
		style.NumberFormat = model.NumberFormat{Code: *code}
	}
	current.StyleID = h.wb.Styles.Intern(style)
	ws.SetCell(ref, current)
}

func jsonToCellValue(v any) model.CellValue {
	switch t := v.(type) {
	case nil:
		return model.Empty()
	case bool:
		return model.Bool(t)
	case float64:
		return model.Num(t)
	case string:
		return model.Str(t)
	default:
		return model.Str(fmt.Sprintf("%v", t))
	}
}

// buildValuesGrid expands set_range_values's "values" payload into a
// rowCount x colCount grid: a nested array addresses cells positionally
// (missing entries default to null/empty), anything else (a scalar, or
// null) broadcasts to every cell in the range.
func buildValuesGrid(raw json.RawMessage, rowCount, colCount uint64) ([][]any, error) {
	var generic any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, mcperr.New(mcperr.Validation, "invalid values payload: %v", err)
		}
	}

	grid := make([][]any, rowCount)
	if rows, ok := generic.([]any); ok && len(rows) > 0 {
		if _, firstIsArray := rows[0].([]any); firstIsArray {
			for r := uint64(0); r < rowCount; r++ {
				var rowVals []any
				if int(r) < len(rows) {
					rowVals, _ = rows[r].([]any)
				}
				row := make([]any, colCount)
				for c := uint64(0); c < colCount; c++ {
					if int(c) < len(rowVals) {
						row[c] = rowVals[c]
					}
				}
				grid[r] = row
			}
			return grid, nil
		}
	}

	for r := uint64(0); r < rowCount; r++ {
		row := make([]any, colCount)
		for c := uint64(0); c < colCount; c++ {
			row[c] = generic
		}
		grid[r] = row
	}
	return grid, nil
}

// normalizeFormulaText trims raw and strips one leading '=' if present;
// it reports false when the remainder is empty.
func normalizeFormulaText(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "=")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// parseNumberFormatPatch mirrors set_range_format's permissive payload
// shapes: a bare string or null sets/clears the format directly; an
// object is probed for a "numberFormat"/"number_format"/"numberformat"
// key. hasPatch is false when format carries none of these recognizable
// shapes, in which case the call is a silent no-op.
func parseNumberFormatPatch(raw json.RawMessage) (code *string, hasPatch bool, err error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false, mcperr.New(mcperr.Validation, "invalid format payload: %v", err)
	}
	switch v := generic.(type) {
	case nil:
		return nil, true, nil
	case string:
		s := v
		return &s, true, nil
	case map[string]any:
		for _, key := range []string{"numberFormat", "number_format", "numberformat"} {
			val, ok := v[key]
			if !ok {
				continue
			}
			switch fv := val.(type) {
			case nil:
				return nil, true, nil
			case string:
				s := fv
				return &s, true, nil
			default:
				return nil, false, nil
			}
		}
		return nil, false, nil
	default:
		return nil, false, nil
	}
}
