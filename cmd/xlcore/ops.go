package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/recalc"
	"github.com/vinodismyname/xlcore/internal/registry"
	"github.com/vinodismyname/xlcore/internal/sandbox"
	"github.com/vinodismyname/xlcore/internal/validate"
	"github.com/vinodismyname/xlcore/internal/workbookio"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
	"github.com/vinodismyname/xlcore/pkg/pagination"
)

func errMalformedRequest(err error) error {
	return mcperr.Wrap(mcperr.Validation, err, "malformed request line")
}

// handleError reports a Manager.WithRead/WithWrite failure under
// INVALID_HANDLE only when the handle itself was not found; any error an
// op's own callback returned (UnknownSheet, Validation, ...) already
// carries its own catalog code and is passed through unchanged.
func handleError(handle string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, registry.ErrHandleNotFound) {
		return mcperr.Wrap(mcperr.InvalidHandle, err, "handle %q", handle)
	}
	return err
}

func (s *server) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Op {
	case "open":
		return s.opOpen(ctx, req)
	case "close":
		return s.opClose(req)
	case "list_sheets":
		return s.opListSheets(req)
	case "create_sheet":
		return s.opCreateSheet(req)
	case "rename_sheet":
		return s.opRenameSheet(req)
	case "get_cell":
		return s.opGetCell(req)
	case "set_cell":
		return s.opSetCell(req)
	case "get_range":
		return s.opGetRange(req)
	case "recalc":
		return s.opRecalc(ctx, req)
	case "run_script":
		return s.opRunScript(ctx, req)
	default:
		return nil, mcperr.New(mcperr.Validation, "unrecognized op %q", req.Op)
	}
}

func stringParam(req request, key string) (string, error) {
	raw, ok := req.Params[key]
	if !ok {
		return "", mcperr.New(mcperr.Validation, "missing required param %q", key)
	}
	v, ok := raw.(string)
	if !ok {
		return "", mcperr.New(mcperr.Validation, "param %q must be a string", key)
	}
	return v, nil
}

func optionalStringParam(req request, key string) string {
	if raw, ok := req.Params[key]; ok {
		if v, ok := raw.(string); ok {
			return v
		}
	}
	return ""
}

func uintParam(req request, key string) (uint64, error) {
	raw, ok := req.Params[key]
	if !ok {
		return 0, mcperr.New(mcperr.Validation, "missing required param %q", key)
	}
	v, ok := raw.(float64)
	if !ok || v < 0 {
		return 0, mcperr.New(mcperr.Validation, "param %q must be a non-negative number", key)
	}
	return uint64(v), nil
}

func (s *server) opOpen(ctx context.Context, req request) (any, error) {
	path, err := stringParam(req, "path")
	if err != nil {
		return nil, err
	}
	password := optionalStringParam(req, "password")

	validPath, err := s.secMgr.ValidateOpenPath(path)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.OpenFailed, err, "path %q is not allowed", path)
	}

	handle, err := s.mgr.Open(ctx, validPath, workbookio.NewLoader(password))
	if err != nil {
		return nil, err
	}
	return map[string]any{"handle": handle}, nil
}

func (s *server) opClose(req request) (any, error) {
	if req.Handle == "" {
		return nil, mcperr.New(mcperr.Validation, "missing handle")
	}
	if err := s.mgr.CloseHandle(req.Handle); err != nil {
		return nil, handleError(req.Handle, err)
	}
	return map[string]any{"closed": true}, nil
}

type sheetSummary struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

func visibilityString(v model.Visibility) string {
	switch v {
	case model.Hidden:
		return "hidden"
	case model.VeryHidden:
		return "very_hidden"
	default:
		return "visible"
	}
}

func (s *server) opListSheets(req request) (any, error) {
	var out []sheetSummary
	err := s.mgr.WithRead(req.Handle, func(wb *model.Workbook, _ *graph.Graph) error {
		out = make([]sheetSummary, 0, len(wb.Sheets))
		for _, ws := range wb.Sheets {
			out = append(out, sheetSummary{ID: uint32(ws.ID), Name: ws.Name, Visibility: visibilityString(ws.Visibility)})
		}
		return nil
	})
	if err != nil {
		return nil, handleError(req.Handle, err)
	}
	return out, nil
}

func (s *server) opCreateSheet(req request) (any, error) {
	name, err := stringParam(req, "name")
	if err != nil {
		return nil, err
	}

	var created sheetSummary
	err = s.mgr.WithWrite(req.Handle, func(wb *model.Workbook, _ *graph.Graph) error {
		existing := make([]string, 0, len(wb.Sheets))
		for _, ws := range wb.Sheets {
			existing = append(existing, ws.Name)
		}
		folded, verr := validate.ValidateSheetName(name, validate.FoldedNameSet(existing))
		if verr != nil {
			return verr
		}
		ws := wb.AddSheet(folded)
		created = sheetSummary{ID: uint32(ws.ID), Name: ws.Name, Visibility: visibilityString(ws.Visibility)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *server) opRenameSheet(req request) (any, error) {
	sheetParam, err := stringParam(req, "sheet")
	if err != nil {
		return nil, err
	}
	newName, err := stringParam(req, "new_name")
	if err != nil {
		return nil, err
	}

	err = s.mgr.WithWrite(req.Handle, func(wb *model.Workbook, _ *graph.Graph) error {
		ws, ok := wb.SheetByName(sheetParam)
		if !ok {
			return mcperr.New(mcperr.UnknownSheet, "sheet %q not found", sheetParam)
		}
		existing := make([]string, 0, len(wb.Sheets))
		for _, other := range wb.Sheets {
			if other.ID == ws.ID {
				continue
			}
			existing = append(existing, other.Name)
		}
		folded, verr := validate.ValidateSheetName(newName, validate.FoldedNameSet(existing))
		if verr != nil {
			return verr
		}
		wb.RenameSheet(ws.ID, folded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"renamed": true}, nil
}

func resolveSheet(wb *model.Workbook, name string) (*model.Worksheet, error) {
	ws, ok := wb.SheetByName(name)
	if !ok {
		return nil, mcperr.New(mcperr.UnknownSheet, "sheet %q not found", name)
	}
	return ws, nil
}

func (s *server) opGetCell(req request) (any, error) {
	sheetParam, err := stringParam(req, "sheet")
	if err != nil {
		return nil, err
	}
	refParam, err := stringParam(req, "ref")
	if err != nil {
		return nil, err
	}
	ref, err := model.ParseCellRef(refParam)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Validation, err, "invalid cell reference %q", refParam)
	}

	var out map[string]any
	err = s.mgr.WithRead(req.Handle, func(wb *model.Workbook, _ *graph.Graph) error {
		ws, serr := resolveSheet(wb, sheetParam)
		if serr != nil {
			return serr
		}
		cell := ws.Cell(ref)
		if cell == nil {
			out = map[string]any{"value": nil, "has_formula": false}
			return nil
		}
		out = map[string]any{"value": cell.Value.AsJSON(), "has_formula": cell.HasFormula}
		if cell.HasFormula {
			out["formula"] = cell.Formula
		}
		return nil
	})
	if err != nil {
		return nil, handleError(req.Handle, err)
	}
	return out, nil
}

func (s *server) opSetCell(req request) (any, error) {
	sheetParam, err := stringParam(req, "sheet")
	if err != nil {
		return nil, err
	}
	refParam, err := stringParam(req, "ref")
	if err != nil {
		return nil, err
	}
	ref, err := model.ParseCellRef(refParam)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.Validation, err, "invalid cell reference %q", refParam)
	}
	input, hasInput := req.Params["value"]
	if !hasInput {
		input = nil
	}
	coerced, err := validate.CoerceCellInput(input)
	if err != nil {
		return nil, err
	}

	err = s.mgr.WithWrite(req.Handle, func(wb *model.Workbook, g *graph.Graph) error {
		ws, serr := resolveSheet(wb, sheetParam)
		if serr != nil {
			return serr
		}
		cellID := model.CellID{SheetID: ws.ID, Cell: ref}

		switch {
		case coerced.IsEmpty:
			ws.SetCell(ref, model.Cell{Value: model.Empty()})
			g.RemoveCell(cellID)
		case coerced.IsFormula:
			ws.SetCell(ref, model.Cell{HasFormula: true, Formula: coerced.Formula})
			// No formula grammar exists at this boundary; register with no
			// known precedents and let a later recalc pass discover them.
			g.UpdateCellDependencies(cellID, graph.CellDependencies{})
		default:
			ws.SetCell(ref, model.Cell{Value: valueOf(coerced.Value)})
			g.RemoveCell(cellID)
		}
		g.MarkDirty(cellID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"set": true}, nil
}

func valueOf(v any) model.CellValue {
	switch tv := v.(type) {
	case bool:
		return model.Bool(tv)
	case float64:
		return model.Num(tv)
	case string:
		return model.Str(tv)
	default:
		return model.Str(fmt.Sprintf("%v", tv))
	}
}

// rangeCursorSep separates the four bounds packed into a pagination
// cursor's opaque range field; the range here is a plain row/col
// rectangle, not an A1 string, so any separator outside [0-9] is safe.
const rangeCursorSep = ","

func encodeRangeCursor(handle, sheet string, b validate.RangeBounds, pageSize int, off int) (string, error) {
	r := fmt.Sprintf("%d%s%d%s%d%s%d", b.StartRow, rangeCursorSep, b.StartCol, rangeCursorSep, b.EndRow, rangeCursorSep, b.EndCol)
	return pagination.EncodeCursor(pagination.Cursor{
		V: 1, Wid: handle, S: sheet, R: r, U: pagination.UnitRows, Off: off, Ps: pageSize,
	})
}

func decodeRangeCursor(token string) (sheet string, b validate.RangeBounds, pageSize, off int, err error) {
	c, err := pagination.DecodeCursor(token)
	if err != nil {
		return "", validate.RangeBounds{}, 0, 0, mcperr.Wrap(mcperr.CursorInvalid, err, "malformed cursor")
	}
	parts := strings.Split(c.R, rangeCursorSep)
	if len(parts) != 4 {
		return "", validate.RangeBounds{}, 0, 0, mcperr.New(mcperr.CursorInvalid, "malformed cursor range")
	}
	nums := make([]uint64, 4)
	for i, p := range parts {
		n, perr := strconv.ParseUint(p, 10, 64)
		if perr != nil {
			return "", validate.RangeBounds{}, 0, 0, mcperr.New(mcperr.CursorInvalid, "malformed cursor range bound %q", p)
		}
		nums[i] = n
	}
	return c.S, validate.RangeBounds{StartRow: nums[0], StartCol: nums[1], EndRow: nums[2], EndCol: nums[3]}, c.Ps, c.Off, nil
}

func (s *server) opGetRange(req request) (any, error) {
	var (
		sheetParam string
		full       validate.RangeBounds
		pageSize   int
		rowOffset  int
		paging     bool
	)

	if token := optionalStringParam(req, "cursor"); token != "" {
		var (
			cursorHandle string
			err          error
		)
		sheetParam, full, pageSize, rowOffset, err = decodeRangeCursor(token)
		if err != nil {
			return nil, err
		}
		if c, derr := pagination.DecodeCursor(token); derr == nil {
			cursorHandle = c.Wid
		}
		if cursorHandle != req.Handle {
			return nil, mcperr.New(mcperr.CursorInvalid, "cursor was not issued for this handle")
		}
		paging = true
	} else {
		var err error
		sheetParam, err = stringParam(req, "sheet")
		if err != nil {
			return nil, err
		}
		full.StartRow, err = uintParam(req, "start_row")
		if err != nil {
			return nil, err
		}
		full.StartCol, err = uintParam(req, "start_col")
		if err != nil {
			return nil, err
		}
		full.EndRow, err = uintParam(req, "end_row")
		if err != nil {
			return nil, err
		}
		full.EndCol, err = uintParam(req, "end_col")
		if err != nil {
			return nil, err
		}
		if raw, ok := req.Params["page_size"]; ok {
			ps, ok := raw.(float64)
			if !ok || ps <= 0 {
				return nil, mcperr.New(mcperr.Validation, "param %q must be a positive number", "page_size")
			}
			pageSize = int(ps)
			paging = true
		}
	}

	if full.StartRow > full.EndRow || full.StartCol > full.EndCol {
		return nil, mcperr.New(mcperr.InvalidRange,
			"range [%d,%d]-[%d,%d] is inverted", full.StartRow, full.StartCol, full.EndRow, full.EndCol)
	}
	fullRowCount := full.EndRow - full.StartRow + 1
	if fullRowCount > config.MaxRangeDim || full.EndCol-full.StartCol+1 > config.MaxRangeDim {
		return nil, mcperr.New(mcperr.RangeDimensionTooBig,
			"range is %dx%d cells; the per-axis limit is %d", fullRowCount, full.EndCol-full.StartCol+1, config.MaxRangeDim)
	}

	page := full
	if paging {
		page.StartRow = full.StartRow + uint64(rowOffset)
		if page.StartRow > full.EndRow {
			return map[string]any{"values": [][]any{}}, nil
		}
		if pageSize > 0 && page.StartRow+uint64(pageSize)-1 < full.EndRow {
			page.EndRow = page.StartRow + uint64(pageSize) - 1
		}
	}

	rowCount, colCount, err := validate.EnforceRangeLimits(page)
	if err != nil {
		return nil, err
	}

	grid := make([][]any, rowCount)
	err = s.mgr.WithRead(req.Handle, func(wb *model.Workbook, _ *graph.Graph) error {
		ws, serr := resolveSheet(wb, sheetParam)
		if serr != nil {
			return serr
		}
		for r := uint64(0); r < rowCount; r++ {
			row := make([]any, colCount)
			for c := uint64(0); c < colCount; c++ {
				ref := model.CellRef{Row: uint32(page.StartRow + r), Col: uint32(page.StartCol + c)}
				if cell := ws.Cell(ref); cell != nil {
					row[c] = cell.Value.AsJSON()
				}
			}
			grid[r] = row
		}
		return nil
	})
	if err != nil {
		return nil, handleError(req.Handle, err)
	}

	result := map[string]any{"values": grid}
	if paging && page.EndRow < full.EndRow {
		nextOffset := pagination.NextOffset(rowOffset, int(rowCount))
		next, cerr := encodeRangeCursor(req.Handle, sheetParam, full, pageSize, nextOffset)
		if cerr != nil {
			return nil, mcperr.Wrap(mcperr.CursorInvalid, cerr, "failed to encode pagination cursor")
		}
		result["next_cursor"] = next
	}
	return result, nil
}

// identityEvaluator re-affirms each dirty formula cell's already-cached
// value: no formula grammar exists in this engine, so recalculation here
// only clears the dirty schedule rather than recomputing results.
type identityEvaluator struct{ wb *model.Workbook }

func (e identityEvaluator) Evaluate(ctx context.Context, cell model.CellID) (model.CellValue, error) {
	ws, ok := e.wb.SheetByID(cell.SheetID)
	if !ok {
		return model.Empty(), nil
	}
	c := ws.Cell(cell.Cell)
	if c == nil {
		return model.Empty(), nil
	}
	return c.Value, nil
}

func (s *server) opRecalc(ctx context.Context, req request) (any, error) {
	var dirtyCount int
	err := s.mgr.WithWrite(req.Handle, func(wb *model.Workbook, g *graph.Graph) error {
		dirtyCount = len(g.DirtyCells())
		sched := recalc.New(g, len(wb.Sheets)*2+1)
		sink := recalc.SinkFunc(func(cell model.CellID, value model.CellValue) {
			if ws, ok := wb.SheetByID(cell.SheetID); ok {
				if c := ws.Cell(cell.Cell); c != nil {
					c.Value = value
				}
			}
		})
		return sched.Run(ctx, identityEvaluator{wb: wb}, sink)
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"recalculated_cells": dirtyCount}, nil
}

func (s *server) opRunScript(ctx context.Context, req request) (any, error) {
	code, err := stringParam(req, "code")
	if err != nil {
		return nil, err
	}

	var result sandbox.RunResult
	err = s.mgr.WithWrite(req.Handle, func(wb *model.Workbook, g *graph.Graph) error {
		runReq := sandbox.RunRequest{Code: code}
		res, runErr := sandbox.Run(ctx, wb, g, runReq, sandbox.Config{})
		result = res
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
