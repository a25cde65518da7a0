package patch

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/opc"
)

const testWorkbookXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"
          xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets>
    <sheet name="Sheet1" sheetId="1" r:id="rId1"/>
  </sheets>
</workbook>`

const testWorkbookRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
</Relationships>`

const testSheetXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData><row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1"><v>1</v></c></row><row r="2"><c r="A2"><v>2</v></c></row></sheetData></worksheet>`

func buildTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testPackage(t *testing.T) *opc.Package {
	t.Helper()
	data := buildTestZip(t, map[string]string{
		"[Content_Types].xml":         `<Types/>`,
		"xl/workbook.xml":             testWorkbookXML,
		"xl/_rels/workbook.xml.rels":  testWorkbookRels,
		"xl/worksheets/sheet1.xml":    testSheetXML,
	})
	pkg, err := opc.FromBytes(data)
	require.NoError(t, err)
	return pkg
}

func TestGroupBySheetOrdersAndDedupes(t *testing.T) {
	patches := []Patch{
		{SheetName: "Sheet1", Cell: model.CellRef{Row: 1, Col: 0}, Value: model.Num(1)},
		{SheetName: "Sheet1", Cell: model.CellRef{Row: 0, Col: 2}, Value: model.Num(2)},
		{SheetName: "Sheet1", Cell: model.CellRef{Row: 0, Col: 2}, Value: model.Num(3)}, // supersedes prior
	}
	grouped := groupBySheet(patches)
	require.Len(t, grouped["Sheet1"], 2)
	require.Equal(t, model.CellRef{Row: 0, Col: 2}, grouped["Sheet1"][0].Cell)
	require.Equal(t, model.Num(3), grouped["Sheet1"][0].Value)
	require.Equal(t, model.CellRef{Row: 1, Col: 0}, grouped["Sheet1"][1].Cell)
}

func TestApplyRewritesOnlyPatchedCellsAndPreservesOthers(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()
	strings.Intern("hello")

	batch := Batch{
		Patches: []Patch{
			{SheetName: "Sheet1", Cell: model.CellRef{Row: 0, Col: 1}, Value: model.Num(42)},
		},
		Recalc: RecalcNone,
	}

	require.NoError(t, Apply(pkg, strings, batch))

	out, ok := pkg.Part("xl/worksheets/sheet1.xml")
	require.True(t, ok)
	require.Contains(t, string(out), `<c r="B1">`)
	require.Contains(t, string(out), "<v>42</v>")
	// Untouched cells survive verbatim.
	require.Contains(t, string(out), `<c r="A1" t="s"><v>0</v></c>`)
	require.Contains(t, string(out), `<c r="A2"><v>2</v></c>`)
}

func TestApplyAppendsNewRowPastOriginalContent(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()

	batch := Batch{
		Patches: []Patch{
			{SheetName: "Sheet1", Cell: model.CellRef{Row: 4, Col: 0}, Value: model.Num(9)},
		},
	}
	require.NoError(t, Apply(pkg, strings, batch))

	out, ok := pkg.Part("xl/worksheets/sheet1.xml")
	require.True(t, ok)
	require.Contains(t, string(out), `<row r="5">`)
	require.Contains(t, string(out), "<v>9</v>")
}

func TestApplyInternsNewStringAndRewritesSharedStrings(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()

	batch := Batch{
		Patches: []Patch{
			{SheetName: "Sheet1", Cell: model.CellRef{Row: 1, Col: 0}, Value: model.Str("brand new")},
		},
	}
	require.NoError(t, Apply(pkg, strings, batch))

	sst, ok := pkg.Part("xl/sharedStrings.xml")
	require.True(t, ok)
	require.Contains(t, string(sst), "brand new")

	sheet, _ := pkg.Part("xl/worksheets/sheet1.xml")
	require.Contains(t, string(sheet), `<c r="A2" t="s">`)
}

func TestApplyForceFullOnOpenSetsFlagAndDropsCalcChain(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()

	// Seed a calcChain part to verify it gets dropped.
	pkg.SetPart("xl/calcChain.xml", []byte(`<calcChain/>`))

	batch := Batch{
		Patches: []Patch{
			{SheetName: "Sheet1", Cell: model.CellRef{Row: 0, Col: 1}, Value: model.Num(5), Formula: "A1+1", HasFormula: true},
		},
		Recalc: RecalcForceFullOnOpen,
	}
	require.NoError(t, Apply(pkg, strings, batch))

	wbXML, ok := pkg.Part("xl/workbook.xml")
	require.True(t, ok)
	require.Contains(t, string(wbXML), `fullCalcOnLoad="1"`)

	require.False(t, pkg.Has("xl/calcChain.xml"))

	sheet, _ := pkg.Part("xl/worksheets/sheet1.xml")
	require.Contains(t, string(sheet), "<f>A1+1</f>")
}

func TestApplyRecalcNoneClearsPreExistingFullCalcOnLoadAndDropsCalcChain(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()

	// Simulate a workbook that already forces a full recalc on open
	// and already has a (now stale) calc chain.
	wb, ok := pkg.Part("xl/workbook.xml")
	require.True(t, ok)
	forced := bytes.Replace(wb, []byte("<sheets>"), []byte(`<workbookPr fullCalcOnLoad="1"/><sheets>`), 1)
	pkg.SetPart("xl/workbook.xml", forced)
	pkg.SetPart("xl/calcChain.xml", []byte(`<calcChain/>`))

	batch := Batch{
		Patches: []Patch{
			{SheetName: "Sheet1", Cell: model.CellRef{Row: 0, Col: 1}, Value: model.Num(5)},
		},
		Recalc: RecalcNone,
	}
	require.NoError(t, Apply(pkg, strings, batch))

	wbXML, ok := pkg.Part("xl/workbook.xml")
	require.True(t, ok)
	require.NotContains(t, string(wbXML), "fullCalcOnLoad")
	require.False(t, pkg.Has("xl/calcChain.xml"))
}

func TestApplyRecalcNoneLeavesWorkbookByteIdenticalWhenFlagAbsent(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()
	before, _ := pkg.Part("xl/workbook.xml")

	batch := Batch{
		Patches: []Patch{
			{SheetName: "Sheet1", Cell: model.CellRef{Row: 0, Col: 1}, Value: model.Num(5)},
		},
		Recalc: RecalcNone,
	}
	require.NoError(t, Apply(pkg, strings, batch))

	after, ok := pkg.Part("xl/workbook.xml")
	require.True(t, ok)
	require.Equal(t, before, after)
}

func TestApplyUnknownSheetReturnsError(t *testing.T) {
	pkg := testPackage(t)
	strings := model.NewSharedStringTable()
	batch := Batch{Patches: []Patch{{SheetName: "NoSuchSheet", Cell: model.CellRef{Row: 0, Col: 0}, Value: model.Num(1)}}}
	err := Apply(pkg, strings, batch)
	require.Error(t, err)
}
