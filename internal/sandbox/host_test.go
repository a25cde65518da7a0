package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
)

func newTestHost(t *testing.T) (*host, *model.Workbook, *graph.Graph) {
	t.Helper()
	wb := model.NewWorkbook()
	wb.AddSheet("Sheet1")
	wb.AddSheet("Sheet2")
	g := graph.New(65536)
	h, err := newHost(wb, g, nil)
	require.NoError(t, err)
	return h, wb, g
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestNewHostRejectsEmptyWorkbook(t *testing.T) {
	wb := model.NewWorkbook()
	g := graph.New(65536)
	_, err := newHost(wb, g, nil)
	require.Error(t, err)
}

func TestNewHostDefaultsToFirstSheet(t *testing.T) {
	h, wb, _ := newTestHost(t)
	require.Equal(t, wb.Sheets[0].ID, h.activeSheetID)
	require.Equal(t, uint32(wb.Sheets[0].ID), h.selection.SheetID)
}

func TestNewHostHonorsRunContext(t *testing.T) {
	wb := model.NewWorkbook()
	wb.AddSheet("Sheet1")
	s2 := wb.AddSheet("Sheet2")
	g := graph.New(65536)

	runCtx := &RunContext{
		ActiveSheetID: &s2.ID,
		Selection:     &Selection{SheetID: uint32(s2.ID), StartRow: 1, StartCol: 2, EndRow: 1, EndCol: 2},
	}
	h, err := newHost(wb, g, runCtx)
	require.NoError(t, err)
	require.Equal(t, s2.ID, h.activeSheetID)
	require.Equal(t, uint32(1), h.selection.StartRow)
}

func TestNewHostFallsBackWhenContextReferencesUnknownSheet(t *testing.T) {
	wb := model.NewWorkbook()
	wb.AddSheet("Sheet1")
	g := graph.New(65536)

	bogus := model.SheetID(999)
	runCtx := &RunContext{ActiveSheetID: &bogus}
	h, err := newHost(wb, g, runCtx)
	require.NoError(t, err)
	require.Equal(t, wb.Sheets[0].ID, h.activeSheetID)
}

func TestHandleRPCGetActiveSheetID(t *testing.T) {
	h, wb, _ := newTestHost(t)
	out, err := h.handleRPC("get_active_sheet_id", nil)
	require.NoError(t, err)
	require.Equal(t, uint32(wb.Sheets[0].ID), out)
}

func TestHandleRPCGetSheetID(t *testing.T) {
	h, wb, _ := newTestHost(t)
	out, err := h.handleRPC("get_sheet_id", rawJSON(t, map[string]any{"name": "sheet2"}))
	require.NoError(t, err)
	require.Equal(t, uint32(wb.Sheets[1].ID), out)
}

func TestHandleRPCGetSheetIDUnknownReturnsNilNoError(t *testing.T) {
	h, _, _ := newTestHost(t)
	out, err := h.handleRPC("get_sheet_id", rawJSON(t, map[string]any{"name": "NoSuchSheet"}))
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestHandleRPCCreateSheetInsertsAfterActiveSheetByDefault(t *testing.T) {
	h, wb, _ := newTestHost(t)
	out, err := h.handleRPC("create_sheet", rawJSON(t, map[string]any{"name": "NewSheet"}))
	require.NoError(t, err)
	id, ok := out.(uint32)
	require.True(t, ok)
	require.Len(t, wb.Sheets, 3)
	// The first sheet is active, so the new sheet lands right after it.
	require.Equal(t, "NewSheet", wb.Sheets[1].Name)
	require.Equal(t, uint32(wb.Sheets[1].ID), id)
}

func TestHandleRPCCreateSheetRejectsDuplicateName(t *testing.T) {
	h, _, _ := newTestHost(t)
	_, err := h.handleRPC("create_sheet", rawJSON(t, map[string]any{"name": "Sheet1"}))
	require.Error(t, err)
}

func TestHandleRPCRenameSheet(t *testing.T) {
	h, wb, _ := newTestHost(t)
	_, err := h.handleRPC("rename_sheet", rawJSON(t, map[string]any{
		"sheet_id": uint32(wb.Sheets[0].ID),
		"name":     "Renamed",
	}))
	require.NoError(t, err)
	require.Equal(t, "Renamed", wb.Sheets[0].Name)
}

func TestHandleRPCRenameSheetUnknownSheetErrors(t *testing.T) {
	h, _, _ := newTestHost(t)
	_, err := h.handleRPC("rename_sheet", rawJSON(t, map[string]any{
		"sheet_id": uint32(9999),
		"name":     "X",
	}))
	require.Error(t, err)
}

func TestHandleRPCGetAndSetSelection(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sel := Selection{SheetID: uint32(wb.Sheets[1].ID), StartRow: 2, StartCol: 3, EndRow: 4, EndCol: 5}
	_, err := h.handleRPC("set_selection", rawJSON(t, map[string]any{"selection": sel}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_selection", nil)
	require.NoError(t, err)
	got, ok := out.(Selection)
	require.True(t, ok)
	require.Equal(t, sel, got)
	require.Equal(t, wb.Sheets[1].ID, h.activeSheetID)
}

func TestHandleRPCSetCellValueAndGetRangeValues(t *testing.T) {
	h, wb, g := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)

	_, err := h.handleRPC("set_cell_value", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 0},
		"value": 42.0,
	}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_range_values", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 0},
	}))
	require.NoError(t, err)
	grid, ok := out.([][]any)
	require.True(t, ok)
	require.Equal(t, float64(42), grid[0][0])

	// The dirty set holds formula cells only; a plain value cell never
	// enters it.
	cellID := model.CellID{SheetID: model.SheetID(sheetID), Cell: model.CellRef{Row: 0, Col: 0}}
	require.NotContains(t, g.DirtyCells(), cellID)

	updates := h.takeUpdates()
	require.Len(t, updates, 1)
	require.Equal(t, float64(42), updates[0].Value)
}

func TestHandleRPCSetCellValueRejectsMultiCellRange(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	_, err := h.handleRPC("set_cell_value", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1},
		"value": 1.0,
	}))
	require.Error(t, err)
}

func TestHandleRPCSetRangeValuesBroadcastsScalar(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	_, err := h.handleRPC("set_range_values", rawJSON(t, map[string]any{
		"range":  RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1},
		"values": "x",
	}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_range_values", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1},
	}))
	require.NoError(t, err)
	grid := out.([][]any)
	for _, row := range grid {
		for _, cell := range row {
			require.Equal(t, "x", cell)
		}
	}
}

func TestHandleRPCSetRangeValuesNestedArrayPositional(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	_, err := h.handleRPC("set_range_values", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1},
		"values": [][]any{
			{1.0, 2.0},
			{3.0, 4.0},
		},
	}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_range_values", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 1},
	}))
	require.NoError(t, err)
	grid := out.([][]any)
	require.Equal(t, float64(1), grid[0][0])
	require.Equal(t, float64(2), grid[0][1])
	require.Equal(t, float64(3), grid[1][0])
	require.Equal(t, float64(4), grid[1][1])
}

func TestHandleRPCSetAndGetCellFormula(t *testing.T) {
	h, wb, g := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	ref := RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 0}

	formula := "=A2+1"
	_, err := h.handleRPC("set_cell_formula", rawJSON(t, map[string]any{
		"range":   ref,
		"formula": formula,
	}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_cell_formula", rawJSON(t, map[string]any{"range": ref}))
	require.NoError(t, err)
	require.Equal(t, "A2+1", out)

	cellID := model.CellID{SheetID: model.SheetID(sheetID), Cell: model.CellRef{Row: 0, Col: 0}}
	deps := g.PrecedentsOf(cellID)
	require.Empty(t, deps)
}

func TestHandleRPCSetCellFormulaRejectsEmptyBody(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	ref := RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 0}
	_, err := h.handleRPC("set_cell_formula", rawJSON(t, map[string]any{
		"range":   ref,
		"formula": "   =   ",
	}))
	require.Error(t, err)
}

func TestHandleRPCGetCellFormulaOnNonFormulaCellReturnsNil(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	ref := RangeRef{SheetID: sheetID, StartRow: 5, StartCol: 5, EndRow: 5, EndCol: 5}
	out, err := h.handleRPC("get_cell_formula", rawJSON(t, map[string]any{"range": ref}))
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestHandleRPCClearRange(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	rng := RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 0}
	_, err := h.handleRPC("set_cell_value", rawJSON(t, map[string]any{"range": rng, "value": 7.0}))
	require.NoError(t, err)

	_, err = h.handleRPC("clear_range", rawJSON(t, map[string]any{"range": rng}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_range_values", rawJSON(t, map[string]any{"range": rng}))
	require.NoError(t, err)
	grid := out.([][]any)
	require.Nil(t, grid[0][0])
}

func TestHandleRPCSetAndGetRangeFormat(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	rng := RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 0}

	_, err := h.handleRPC("set_range_format", rawJSON(t, map[string]any{
		"range":  rng,
		"format": "0.00%",
	}))
	require.NoError(t, err)

	out, err := h.handleRPC("get_range_format", rawJSON(t, map[string]any{"range": rng}))
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "0.00%", m["numberFormat"])
}

func TestHandleRPCGetRangeFormatOnUntouchedCellIsEmptyMap(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	rng := RangeRef{SheetID: sheetID, StartRow: 9, StartCol: 9, EndRow: 9, EndCol: 9}
	out, err := h.handleRPC("get_range_format", rawJSON(t, map[string]any{"range": rng}))
	require.NoError(t, err)
	require.Empty(t, out.(map[string]any))
}

func TestHandleRPCRejectsUnknownSheet(t *testing.T) {
	h, _, _ := newTestHost(t)
	_, err := h.handleRPC("get_sheet_name", rawJSON(t, map[string]any{"sheet_id": uint32(777)}))
	require.Error(t, err)
}

func TestHandleRPCRejectsOversizedRange(t *testing.T) {
	h, wb, _ := newTestHost(t)
	sheetID := uint32(wb.Sheets[0].ID)
	_, err := h.handleRPC("get_range_values", rawJSON(t, map[string]any{
		"range": RangeRef{SheetID: sheetID, StartRow: 0, StartCol: 0, EndRow: 1_000_000, EndCol: 1_000_000},
	}))
	require.Error(t, err)
}

func TestHandleRPCUnknownMethod(t *testing.T) {
	h, _, _ := newTestHost(t)
	_, err := h.handleRPC("not_a_real_method", nil)
	require.Error(t, err)
}

func TestNormalizeFormulaText(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantOK  bool
		comment string
	}{
		{"=A1+1", "A1+1", true, "strips leading equals"},
		{"  =A1  ", "A1", true, "trims whitespace around and after the equals"},
		{"A1+1", "A1+1", true, "no leading equals is left untouched"},
		{"=", "", false, "empty after stripping equals"},
		{"   ", "", false, "blank input"},
	}
	for _, c := range cases {
		got, ok := normalizeFormulaText(c.in)
		require.Equal(t, c.wantOK, ok, c.comment)
		if ok {
			require.Equal(t, c.want, got, c.comment)
		}
	}
}

func TestParseNumberFormatPatchShapes(t *testing.T) {
	code, hasPatch, err := parseNumberFormatPatch(rawJSON(t, "0.00"))
	require.NoError(t, err)
	require.True(t, hasPatch)
	require.Equal(t, "0.00", *code)

	code, hasPatch, err = parseNumberFormatPatch(rawJSON(t, nil))
	require.NoError(t, err)
	require.True(t, hasPatch)
	require.Nil(t, code)

	code, hasPatch, err = parseNumberFormatPatch(rawJSON(t, map[string]any{"numberFormat": "#,##0"}))
	require.NoError(t, err)
	require.True(t, hasPatch)
	require.Equal(t, "#,##0", *code)

	code, hasPatch, err = parseNumberFormatPatch(rawJSON(t, map[string]any{"unrelated": "x"}))
	require.NoError(t, err)
	require.False(t, hasPatch)
	require.Nil(t, code)

	_, _, err = parseNumberFormatPatch(json.RawMessage(`{not valid json`))
	require.Error(t, err)
}

func TestBuildValuesGridScalarBroadcast(t *testing.T) {
	grid, err := buildValuesGrid(rawJSON(t, 5.0), 2, 2)
	require.NoError(t, err)
	for _, row := range grid {
		for _, v := range row {
			require.Equal(t, 5.0, v)
		}
	}
}

func TestBuildValuesGridNestedArrayPadsMissingEntries(t *testing.T) {
	grid, err := buildValuesGrid(rawJSON(t, [][]any{{1.0}}), 2, 2)
	require.NoError(t, err)
	require.Equal(t, 1.0, grid[0][0])
	require.Nil(t, grid[0][1])
	require.Nil(t, grid[1][0])
	require.Nil(t, grid[1][1])
}

func TestBuildValuesGridInvalidJSON(t *testing.T) {
	_, err := buildValuesGrid(json.RawMessage(`{bad`), 1, 1)
	require.Error(t, err)
}
