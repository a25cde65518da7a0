package styleedit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/internal/model"
)

func TestParseOrDefaultBuildsBlankWorkbookStyles(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)
	require.Equal(t, 1, sp.CellXfsCount())

	style, ok := sp.StyleForXf(0)
	require.True(t, ok)
	require.Equal(t, "Calibri", style.Font.Name)
	require.Equal(t, 11.0, style.Font.SizePt)
}

func TestDxfBoolValZeroAndFalseParseAsFalse(t *testing.T) {
	const stylesXML = `<?xml version="1.0"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <fonts count="1"><font><sz val="11"/><name val="Calibri"/></font></fonts>
  <fills count="1"><fill><patternFill patternType="none"/></fill></fills>
  <borders count="1"><border><left/><right/><top/><bottom/><diagonal/></border></borders>
  <cellXfs count="1"><xf numFmtId="0" fontId="0" fillId="0" borderId="0"/></cellXfs>
  <dxfs count="2">
    <dxf><font><b val="0"/></font></dxf>
    <dxf><font><i val="false"/></font></dxf>
  </dxfs>
</styleSheet>`
	sp, err := Parse([]byte(stylesXML))
	require.NoError(t, err)

	dxfs := sp.ConditionalFormattingDxfs()
	require.Len(t, dxfs, 2)
	require.NotNil(t, dxfs[0].Bold)
	require.False(t, *dxfs[0].Bold)
	require.NotNil(t, dxfs[1].Italic)
	require.False(t, *dxfs[1].Italic)
}

func TestDxfRoundTripsFillAndFontColor(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)

	fontColor := "FFFF0000"
	fillColor := "FFFFFF00"
	bold := true
	overrides := []model.CfStyleOverride{
		{FontColorARGB: &fontColor, FillARGB: &fillColor, Bold: &bold},
	}
	sp.SetConditionalFormattingDxfs(overrides)

	reparsed, err := Parse(sp.ToXMLBytes())
	require.NoError(t, err)
	got := reparsed.ConditionalFormattingDxfs()
	require.Len(t, got, 1)
	require.Equal(t, fontColor, *got[0].FontColorARGB)
	require.Equal(t, fillColor, *got[0].FillARGB)
	require.True(t, *got[0].Bold)
}

func TestSetConditionalFormattingDxfsReusesEquivalentEntry(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)

	color := "FF00FF00"
	sp.SetConditionalFormattingDxfs([]model.CfStyleOverride{{FillARGB: &color}})
	firstXML := string(sp.ToXMLBytes())

	sameColor := "FF00FF00"
	sp.SetConditionalFormattingDxfs([]model.CfStyleOverride{{FillARGB: &sameColor}})
	secondXML := string(sp.ToXMLBytes())

	require.Equal(t, firstXML, secondXML)
}

func TestEnsureChildInsertsDxfsBeforeTableStyles(t *testing.T) {
	const stylesXML = `<?xml version="1.0"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <fonts count="1"><font><sz val="11"/><name val="Calibri"/></font></fonts>
  <fills count="1"><fill><patternFill patternType="none"/></fill></fills>
  <borders count="1"><border><left/><right/><top/><bottom/><diagonal/></border></borders>
  <cellXfs count="1"><xf numFmtId="0" fontId="0" fillId="0" borderId="0"/></cellXfs>
  <tableStyles count="0"/>
</styleSheet>`
	sp, err := Parse([]byte(stylesXML))
	require.NoError(t, err)

	color := "FFAABBCC"
	sp.SetConditionalFormattingDxfs([]model.CfStyleOverride{{FillARGB: &color}})

	dxfsIdx, dxfsOK := sp.root.childIndex("dxfs")
	tableStylesIdx, tsOK := sp.root.childIndex("tableStyles")
	require.True(t, dxfsOK)
	require.True(t, tsOK)
	require.Less(t, dxfsIdx, tableStylesIdx)
}

func TestAppendCellXfGrowsTableWithoutDisturbingExistingIndices(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)

	originalStyle, ok := sp.StyleForXf(0)
	require.True(t, ok)

	newStyle := originalStyle
	newStyle.Font.Bold = true
	newStyle.Font.Name = "Arial"

	ids := sp.XfIndicesForStyleIDs([]model.Style{newStyle})
	require.Len(t, ids, 1)
	require.Equal(t, uint32(1), ids[0])
	require.Equal(t, 2, sp.CellXfsCount())

	// Existing index 0 is untouched.
	still, ok := sp.StyleForXf(0)
	require.True(t, ok)
	require.Equal(t, originalStyle, still)

	added, ok := sp.StyleForXf(1)
	require.True(t, ok)
	require.Equal(t, "Arial", added.Font.Name)
	require.True(t, added.Font.Bold)
}

func TestXfIndicesForStyleIDsReusesExistingIndex(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)

	existing, ok := sp.StyleForXf(0)
	require.True(t, ok)

	ids := sp.XfIndicesForStyleIDs([]model.Style{existing})
	require.Equal(t, []uint32{0}, ids)
	require.Equal(t, 1, sp.CellXfsCount())
}

func TestNumFmtCodeForIDExpandsRestrictedBuiltinSubset(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)

	code, ok := sp.NumFmtCodeForID(9)
	require.True(t, ok)
	require.Equal(t, "0%", code)

	code, ok = sp.NumFmtCodeForID(0)
	require.True(t, ok)
	require.Equal(t, "General", code)

	_, ok = sp.NumFmtCodeForID(200)
	require.False(t, ok)
}

func TestCustomNumberFormatRoundTrips(t *testing.T) {
	sp, err := ParseOrDefault(nil)
	require.NoError(t, err)

	existing, ok := sp.StyleForXf(0)
	require.True(t, ok)
	withCustom := existing
	withCustom.NumberFormat = model.NumberFormat{Code: "0.000"}

	ids := sp.XfIndicesForStyleIDs([]model.Style{withCustom})
	require.Equal(t, uint32(1), ids[0])

	reparsed, err := Parse(sp.ToXMLBytes())
	require.NoError(t, err)
	style, ok := reparsed.StyleForXf(1)
	require.True(t, ok)
	require.Equal(t, "0.000", style.NumberFormat.Code)
}
