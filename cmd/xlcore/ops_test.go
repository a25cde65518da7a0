package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/registry"
	"github.com/vinodismyname/xlcore/internal/runtime"
	"github.com/vinodismyname/xlcore/internal/security"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const (
	minimalContentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>
  <Override PartName="/xl/worksheets/sheet1.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>
</Types>`

	minimalRootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`

	minimalWorkbookXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"
          xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets>
    <sheet name="Sheet1" sheetId="1" r:id="rId1"/>
  </sheets>
</workbook>`

	minimalWorkbookRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`

	minimalSheetXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row r="1">
      <c r="A1" t="str"><v>hi</v></c>
    </row>
  </sheetData>
</worksheet>`
)

// buildMinimalXLSX assembles a tiny well-formed .xlsx in memory, just
// enough for workbookio.FromBytes to build a one-sheet workbook from.
func buildMinimalXLSX(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml":        minimalContentTypesXML,
		"_rels/.rels":                minimalRootRelsXML,
		"xl/workbook.xml":            minimalWorkbookXML,
		"xl/_rels/workbook.xml.rels": minimalWorkbookRelsXML,
		"xl/worksheets/sheet1.xml":   minimalSheetXML,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestServer(t *testing.T) (*server, string) {
	t.Helper()
	dir := t.TempDir()
	secMgr, err := security.NewManager([]string{dir}, nil)
	require.NoError(t, err)

	ctrl := runtime.NewController(runtime.NewLimits(10, 4))
	mgr := registry.NewManager(config.DefaultWorkbookIdleTTL, time.Hour, ctrl, time.Now)

	return &server{secMgr: secMgr, mgr: mgr}, dir
}

func adoptTestWorkbook(t *testing.T, s *server) string {
	t.Helper()
	wb := model.NewWorkbook()
	wb.AddSheet("Sheet1")
	g := graph.New(config.DirtyMarkLimit)
	handle, err := s.mgr.Adopt(context.Background(), wb, g)
	require.NoError(t, err)
	return handle
}

func TestOpListSheetsReturnsEveryTab(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	out, err := s.opListSheets(request{Handle: handle})
	require.NoError(t, err)
	sheets := out.([]sheetSummary)
	require.Len(t, sheets, 1)
	require.Equal(t, "Sheet1", sheets[0].Name)
	require.Equal(t, "visible", sheets[0].Visibility)
}

func TestOpListSheetsRejectsUnknownHandle(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.opListSheets(request{Handle: "does-not-exist"})
	require.True(t, mcperr.Is(err, mcperr.InvalidHandle))
}

func TestOpCreateSheetAppendsAndValidatesName(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	out, err := s.opCreateSheet(request{Handle: handle, Params: map[string]any{"name": "Data"}})
	require.NoError(t, err)
	created := out.(sheetSummary)
	require.Equal(t, "Data", created.Name)

	_, err = s.opCreateSheet(request{Handle: handle, Params: map[string]any{"name": "Data"}})
	require.Error(t, err)
}

func TestOpRenameSheetUpdatesName(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opRenameSheet(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "new_name": "Renamed",
	}})
	require.NoError(t, err)

	out, err := s.opListSheets(request{Handle: handle})
	require.NoError(t, err)
	sheets := out.([]sheetSummary)
	require.Equal(t, "Renamed", sheets[0].Name)
}

func TestOpRenameSheetRejectsUnknownSheet(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opRenameSheet(request{Handle: handle, Params: map[string]any{
		"sheet": "Nope", "new_name": "Whatever",
	}})
	require.True(t, mcperr.Is(err, mcperr.UnknownSheet))
}

func TestOpSetCellThenGetCellRoundTripsLiteralValue(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opSetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "B2", "value": float64(7),
	}})
	require.NoError(t, err)

	out, err := s.opGetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "B2",
	}})
	require.NoError(t, err)
	result := out.(map[string]any)
	require.Equal(t, float64(7), result["value"])
	require.False(t, result["has_formula"].(bool))
}

func TestOpSetCellAcceptsFormulaAndRegistersEmptyPrecedents(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opSetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "C3", "value": "=A1+A2",
	}})
	require.NoError(t, err)

	out, err := s.opGetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "C3",
	}})
	require.NoError(t, err)
	result := out.(map[string]any)
	require.True(t, result["has_formula"].(bool))
	require.Equal(t, "A1+A2", result["formula"])

	h, ok := s.mgr.Get(handle)
	require.True(t, ok)
	cellID := model.CellID{SheetID: h.Workbook.Sheets[0].ID, Cell: model.CellRef{Row: 2, Col: 2}}
	require.Empty(t, h.Graph.PrecedentsOf(cellID))
}

func TestOpSetCellClearsCellOnNilValue(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opSetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "A1", "value": "hello",
	}})
	require.NoError(t, err)

	_, err = s.opSetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "A1", "value": nil,
	}})
	require.NoError(t, err)

	out, err := s.opGetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "A1",
	}})
	require.NoError(t, err)
	result := out.(map[string]any)
	require.Nil(t, result["value"])
}

func TestOpGetRangeRejectsOversizedRange(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opGetRange(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "start_row": float64(0), "start_col": float64(0),
		"end_row": float64(config.MaxRangeDim), "end_col": float64(0),
	}})
	require.True(t, mcperr.Is(err, mcperr.RangeDimensionTooBig))
}

func TestOpGetRangeReturnsGridOfValues(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opSetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "A1", "value": "x",
	}})
	require.NoError(t, err)

	out, err := s.opGetRange(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "start_row": float64(0), "start_col": float64(0),
		"end_row": float64(0), "end_col": float64(1),
	}})
	require.NoError(t, err)
	grid := out.(map[string]any)["values"].([][]any)
	require.Len(t, grid, 1)
	require.Equal(t, "x", grid[0][0])
	require.Nil(t, grid[0][1])
}

func TestOpGetRangePagesThroughACursorUntilExhausted(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	for row := 0; row < 5; row++ {
		_, err := s.opSetCell(request{Handle: handle, Params: map[string]any{
			"sheet": "Sheet1",
			"ref":   model.CellRef{Row: uint32(row), Col: 0}.A1(),
			"value": float64(row),
		}})
		require.NoError(t, err)
	}

	out, err := s.opGetRange(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "start_row": float64(0), "start_col": float64(0),
		"end_row": float64(4), "end_col": float64(0), "page_size": float64(2),
	}})
	require.NoError(t, err)
	page1 := out.(map[string]any)
	grid1 := page1["values"].([][]any)
	require.Len(t, grid1, 2)
	require.Equal(t, float64(0), grid1[0][0])
	require.Equal(t, float64(1), grid1[1][0])
	cursor, ok := page1["next_cursor"].(string)
	require.True(t, ok)
	require.NotEmpty(t, cursor)

	out, err = s.opGetRange(request{Handle: handle, Params: map[string]any{"cursor": cursor}})
	require.NoError(t, err)
	page2 := out.(map[string]any)
	grid2 := page2["values"].([][]any)
	require.Len(t, grid2, 2)
	require.Equal(t, float64(2), grid2[0][0])
	require.Equal(t, float64(3), grid2[1][0])
	cursor2 := page2["next_cursor"].(string)

	out, err = s.opGetRange(request{Handle: handle, Params: map[string]any{"cursor": cursor2}})
	require.NoError(t, err)
	page3 := out.(map[string]any)
	grid3 := page3["values"].([][]any)
	require.Len(t, grid3, 1)
	require.Equal(t, float64(4), grid3[0][0])
	_, hasMore := page3["next_cursor"]
	require.False(t, hasMore)
}

func TestOpGetRangeRejectsCursorIssuedForAnotherHandle(t *testing.T) {
	s, _ := newTestServer(t)
	handleA := adoptTestWorkbook(t, s)
	handleB := adoptTestWorkbook(t, s)

	out, err := s.opGetRange(request{Handle: handleA, Params: map[string]any{
		"sheet": "Sheet1", "start_row": float64(0), "start_col": float64(0),
		"end_row": float64(3), "end_col": float64(0), "page_size": float64(1),
	}})
	require.NoError(t, err)
	cursor := out.(map[string]any)["next_cursor"].(string)

	_, err = s.opGetRange(request{Handle: handleB, Params: map[string]any{"cursor": cursor}})
	require.True(t, mcperr.Is(err, mcperr.CursorInvalid))
}

func TestOpRecalcClearsDirtySet(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opSetCell(request{Handle: handle, Params: map[string]any{
		"sheet": "Sheet1", "ref": "A1", "value": "=1",
	}})
	require.NoError(t, err)

	out, err := s.opRecalc(context.Background(), request{Handle: handle})
	require.NoError(t, err)
	require.Equal(t, 1, out.(map[string]any)["recalculated_cells"])

	h, ok := s.mgr.Get(handle)
	require.True(t, ok)
	require.Empty(t, h.Graph.DirtyCells())
}

func TestOpCloseRemovesHandle(t *testing.T) {
	s, _ := newTestServer(t)
	handle := adoptTestWorkbook(t, s)

	_, err := s.opClose(request{Handle: handle})
	require.NoError(t, err)

	_, ok := s.mgr.Get(handle)
	require.False(t, ok)
}

func TestOpOpenRejectsPathOutsideAllowList(t *testing.T) {
	s, dir := newTestServer(t)
	outside := filepath.Join(os.TempDir(), "not-allowed.xlsx")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	defer os.Remove(outside)
	_ = dir

	_, err := s.opOpen(context.Background(), request{Params: map[string]any{"path": outside}})
	require.True(t, mcperr.Is(err, mcperr.OpenFailed))
}

func TestOpOpenLoadsAllowedWorkbookIntoANewHandle(t *testing.T) {
	s, dir := newTestServer(t)
	path := filepath.Join(dir, "book.xlsx")
	require.NoError(t, os.WriteFile(path, buildMinimalXLSX(t), 0o644))

	out, err := s.opOpen(context.Background(), request{Params: map[string]any{"path": path}})
	require.NoError(t, err)
	handle := out.(map[string]any)["handle"].(string)
	require.NotEmpty(t, handle)

	sheets, err := s.opListSheets(request{Handle: handle})
	require.NoError(t, err)
	require.Len(t, sheets.([]sheetSummary), 1)
}

func TestHandleErrorPassesThroughNonNotFoundErrors(t *testing.T) {
	err := handleError("h", mcperr.New(mcperr.Validation, "bad input"))
	require.True(t, mcperr.Is(err, mcperr.Validation))
}

func TestHandleErrorWrapsHandleNotFound(t *testing.T) {
	err := handleError("h", registry.ErrHandleNotFound)
	require.True(t, mcperr.Is(err, mcperr.InvalidHandle))
}
