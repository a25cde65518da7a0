package workbookio

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const testWorkbookXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"
          xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <workbookPr date1904="0"/>
  <sheets>
    <sheet name="Sheet1" sheetId="1" r:id="rId1"/>
  </sheets>
</workbook>`

const testWorkbookRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`

const testSharedStrings = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="1" uniqueCount="1">
  <si><t>Hello</t></si>
</sst>`

const testStyles = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <numFmts count="0"/>
  <fonts count="1"><font><sz val="11"/><name val="Calibri"/></font></fonts>
  <fills count="1"><fill><patternFill patternType="none"/></fill></fills>
  <borders count="1"><border><left/><right/><top/><bottom/><diagonal/></border></borders>
  <cellStyleXfs count="1"><xf fontId="0" fillId="0" borderId="0"/></cellStyleXfs>
  <cellXfs count="1"><xf fontId="0" fillId="0" borderId="0" xfId="0"/></cellXfs>
</styleSheet>`

const testSheetData = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row r="1">
      <c r="A1" t="s"><v>0</v></c>
      <c r="B1"><v>42</v></c>
      <c r="C1"><f>A1&amp;B1</f><v>Hello42</v></c>
    </row>
  </sheetData>
</worksheet>`

func buildTestXLSX(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"[Content_Types].xml":        `<Types/>`,
		"xl/workbook.xml":            testWorkbookXML,
		"xl/_rels/workbook.xml.rels": testWorkbookRels,
		"xl/sharedStrings.xml":       testSharedStrings,
		"xl/styles.xml":              testStyles,
		"xl/worksheets/sheet1.xml":   testSheetData,
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

func TestFromBytesBuildsWorkbookFromPlainPackage(t *testing.T) {
	wb, g, err := FromBytes(buildTestXLSX(t), "")
	require.NoError(t, err)
	require.NotNil(t, wb)
	require.NotNil(t, g)

	require.Len(t, wb.Sheets, 1)
	sheet := wb.Sheets[0]
	require.Equal(t, "Sheet1", sheet.Name)

	a1 := sheet.Cell(model.CellRef{Row: 0, Col: 0})
	require.NotNil(t, a1)
	require.Equal(t, "Hello", a1.Value.Str)

	b1 := sheet.Cell(model.CellRef{Row: 0, Col: 1})
	require.NotNil(t, b1)
	require.Equal(t, float64(42), b1.Value.Number)

	c1 := sheet.Cell(model.CellRef{Row: 0, Col: 2})
	require.NotNil(t, c1)
	require.True(t, c1.HasFormula)
	require.Equal(t, "A1&B1", c1.Formula)
}

func TestFromBytesRegistersFormulaCellsWithEmptyPrecedents(t *testing.T) {
	wb, g, err := FromBytes(buildTestXLSX(t), "")
	require.NoError(t, err)

	sheet := wb.Sheets[0]
	formulaCellID := model.CellID{SheetID: sheet.ID, Cell: model.CellRef{Row: 0, Col: 2}}
	require.Empty(t, g.PrecedentsOf(formulaCellID))
}

func TestFromBytesInternsStylesIntoFreshTable(t *testing.T) {
	wb, _, err := FromBytes(buildTestXLSX(t), "")
	require.NoError(t, err)
	require.Positive(t, wb.Styles.Len())
}

func TestOpenRejectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Open(ctx, "/does/not/matter.xlsx", "")
	require.Error(t, err)
}

func TestFromBytesRejectsCorruptZip(t *testing.T) {
	_, _, err := FromBytes([]byte("not a zip file"), "")
	require.True(t, mcperr.Is(err, mcperr.CorruptWorkbook))
}

func TestNewLoaderBindsPassword(t *testing.T) {
	loader := NewLoader("irrelevant")
	require.NotNil(t, loader)
}
