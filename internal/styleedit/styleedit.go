package styleedit

import (
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// defaultStylesXML is the minimal styleSheet a blank workbook ships with:
// one default font, the two reserved fills (none/gray125), one default
// border, and a single cellXfs entry (style id 0, every cell's implicit
// default).
const defaultStylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<styleSheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <fonts count="1">
    <font><sz val="11"/><color theme="1"/><name val="Calibri"/></font>
  </fonts>
  <fills count="2">
    <fill><patternFill patternType="none"/></fill>
    <fill><patternFill patternType="gray125"/></fill>
  </fills>
  <borders count="1">
    <border><left/><right/><top/><bottom/><diagonal/></border>
  </borders>
  <cellStyleXfs count="1">
    <xf numFmtId="0" fontId="0" fillId="0" borderId="0"/>
  </cellStyleXfs>
  <cellXfs count="1">
    <xf numFmtId="0" fontId="0" fillId="0" borderId="0" xfId="0"/>
  </cellXfs>
  <cellStyles count="1">
    <cellStyle name="Normal" xfId="0" builtinId="0"/>
  </cellStyles>
  <dxfs count="0"/>
  <tableStyles count="0" defaultTableStyle="TableStyleMedium2" defaultPivotStyle="PivotStyleLight16"/>
</styleSheet>`

// StylesPart is a parsed xl/styles.xml: a deduplicated font/fill/border/
// numFmt catalog plus the cellXfs table cells reference by xf index
// (spec.md §4.7). Existing indices never shift across edits -- appends
// only ever grow each table.
type StylesPart struct {
	root *element

	customNumFmts      map[uint32]string
	nextCustomNumFmtID uint32

	fonts     []model.Font
	fontIndex map[model.Font]uint32

	fills     []model.Fill
	fillIndex map[model.Fill]uint32

	borders     []model.Border
	borderIndex map[model.Border]uint32

	xfs        []model.Style
	dedupIndex map[model.Style]uint32

	dxfs []model.CfStyleOverride
}

// Parse decodes xl/styles.xml.
func Parse(data []byte) (*StylesPart, error) {
	root, err := parseElement(data)
	if err != nil {
		return nil, err
	}
	if root.local != "styleSheet" {
		return nil, mcperr.New(mcperr.MalformedXML, "styles.xml root element is %q, want styleSheet", root.local)
	}

	sp := &StylesPart{
		root:          root,
		customNumFmts: parseNumFmts(root),
		fontIndex:     make(map[model.Font]uint32),
		fillIndex:     make(map[model.Fill]uint32),
		borderIndex:   make(map[model.Border]uint32),
		dedupIndex:    make(map[model.Style]uint32),
	}
	for id := range sp.customNumFmts {
		if id >= sp.nextCustomNumFmtID {
			sp.nextCustomNumFmtID = id + 1
		}
	}
	if sp.nextCustomNumFmtID < 164 {
		sp.nextCustomNumFmtID = 164
	}

	sp.fonts = parseFonts(root)
	for i, f := range sp.fonts {
		if _, ok := sp.fontIndex[f]; !ok {
			sp.fontIndex[f] = uint32(i)
		}
	}
	sp.fills = parseFills(root)
	for i, f := range sp.fills {
		if _, ok := sp.fillIndex[f]; !ok {
			sp.fillIndex[f] = uint32(i)
		}
	}
	sp.borders = parseBorders(root)
	for i, b := range sp.borders {
		if _, ok := sp.borderIndex[b]; !ok {
			sp.borderIndex[b] = uint32(i)
		}
	}

	sp.xfs = parseCellXfs(root, sp.customNumFmts, sp.fonts, sp.fills, sp.borders)
	for i, s := range sp.xfs {
		if _, ok := sp.dedupIndex[s]; !ok {
			sp.dedupIndex[s] = uint32(i)
		}
	}

	if dxfs := root.child("dxfs"); dxfs != nil {
		for _, d := range dxfs.childrenByLocal("dxf") {
			sp.dxfs = append(sp.dxfs, parseConditionalFormattingDxf(d))
		}
	}

	return sp, nil
}

// ParseOrDefault parses data, or builds a blank-workbook styleSheet when
// data is empty (a workbook with no xl/styles.xml part at all).
func ParseOrDefault(data []byte) (*StylesPart, error) {
	if len(data) == 0 {
		return Parse([]byte(defaultStylesXML))
	}
	return Parse(data)
}

// CellXfsCount returns the number of entries in cellXfs, i.e. one past
// the highest valid xf index.
func (sp *StylesPart) CellXfsCount() int { return len(sp.xfs) }

// StyleForXf returns the resolved Style for an existing xf index.
func (sp *StylesPart) StyleForXf(xfIndex uint32) (model.Style, bool) {
	if int(xfIndex) >= len(sp.xfs) {
		return model.Style{}, false
	}
	return sp.xfs[xfIndex], true
}

// XfIndexForStyle returns an existing xf index rendering exactly s, if
// one is already present.
func (sp *StylesPart) XfIndexForStyle(s model.Style) (uint32, bool) {
	id, ok := sp.dedupIndex[s]
	return id, ok
}

// XfIndicesForStyleIDs maps each style to an existing or freshly appended
// xf index, appending the style (and any of its font/fill/border/numFmt
// components not already interned) when no existing xf renders it.
func (sp *StylesPart) XfIndicesForStyleIDs(styles []model.Style) []uint32 {
	out := make([]uint32, len(styles))
	for i, s := range styles {
		out[i] = sp.internStyle(s)
	}
	return out
}

func (sp *StylesPart) internFont(f model.Font) uint32 {
	if id, ok := sp.fontIndex[f]; ok {
		return id
	}
	id := uint32(len(sp.fonts))
	sp.fonts = append(sp.fonts, f)
	sp.fontIndex[f] = id
	ensureChild(sp.root, "fonts").children = append(ensureChild(sp.root, "fonts").children, buildFontElement(f))
	sp.setCount("fonts", len(sp.fonts))
	return id
}

func (sp *StylesPart) internFill(f model.Fill) uint32 {
	if id, ok := sp.fillIndex[f]; ok {
		return id
	}
	id := uint32(len(sp.fills))
	sp.fills = append(sp.fills, f)
	sp.fillIndex[f] = id
	ensureChild(sp.root, "fills").children = append(ensureChild(sp.root, "fills").children, buildFillElement(f))
	sp.setCount("fills", len(sp.fills))
	return id
}

func (sp *StylesPart) internBorder(b model.Border) uint32 {
	if id, ok := sp.borderIndex[b]; ok {
		return id
	}
	id := uint32(len(sp.borders))
	sp.borders = append(sp.borders, b)
	sp.borderIndex[b] = id
	ensureChild(sp.root, "borders").children = append(ensureChild(sp.root, "borders").children, buildBorderElement(b))
	sp.setCount("borders", len(sp.borders))
	return id
}

func (sp *StylesPart) internNumFmt(nf model.NumberFormat) uint32 {
	id := numFmtIDFor(nf, sp.customNumFmts, &sp.nextCustomNumFmtID)
	if code, ok := sp.customNumFmts[id]; ok && code == nf.Code {
		numFmts := ensureChild(sp.root, "numFmts")
		found := false
		for _, existing := range numFmts.childrenByLocal("numFmt") {
			if v, _ := existing.attr("numFmtId"); v == formatUint32(id) {
				found = true
				break
			}
		}
		if !found {
			numFmts.children = append(numFmts.children, buildNumFmtElement(id, nf.Code))
			sp.setCount("numFmts", len(numFmts.childrenByLocal("numFmt")))
		}
	}
	return id
}

// internStyle interns every component of s and appends a new <xf> only if
// no existing xf already renders this exact Style.
func (sp *StylesPart) internStyle(s model.Style) uint32 {
	if id, ok := sp.dedupIndex[s]; ok {
		return id
	}

	numFmtID := sp.internNumFmt(s.NumberFormat)
	fontID := sp.internFont(s.Font)
	fillID := sp.internFill(s.Fill)
	borderID := sp.internBorder(s.Border)

	id := uint32(len(sp.xfs))
	sp.xfs = append(sp.xfs, s)
	sp.dedupIndex[s] = id

	cellXfs := ensureChild(sp.root, "cellXfs")
	cellXfs.children = append(cellXfs.children, buildXfElement(numFmtID, fontID, fillID, borderID, s))
	sp.setCount("cellXfs", len(sp.xfs))
	return id
}

func (sp *StylesPart) setCount(childLocal string, n int) {
	child := sp.root.child(childLocal)
	if child == nil {
		return
	}
	child.setAttr("count", formatUint32(uint32(n)))
}

// ConditionalFormattingDxfs returns the dxfs table in document order.
func (sp *StylesPart) ConditionalFormattingDxfs() []model.CfStyleOverride {
	return append([]model.CfStyleOverride(nil), sp.dxfs...)
}

// SetConditionalFormattingDxfs replaces the entire <dxfs> table, preserving
// any existing dxf element whose parsed value is equal to one of the new
// overrides (so a no-op edit of an already-identical dxf round-trips
// byte-for-byte instead of being rewritten).
func (sp *StylesPart) SetConditionalFormattingDxfs(overrides []model.CfStyleOverride) {
	dxfs := ensureChild(sp.root, "dxfs")
	existingElements := dxfs.childrenByLocal("dxf")

	newChildren := make([]node, 0, len(overrides))
	for _, want := range overrides {
		var reused *element
		for _, existing := range existingElements {
			if cfStyleOverrideEqual(parseConditionalFormattingDxf(existing), want) {
				reused = existing
				break
			}
		}
		if reused != nil {
			newChildren = append(newChildren, reused)
		} else {
			newChildren = append(newChildren, buildConditionalFormattingDxf(want))
		}
	}

	dxfs.children = newChildren
	sp.dxfs = append([]model.CfStyleOverride(nil), overrides...)
	sp.setCount("dxfs", len(sp.dxfs))
}

// AppendConditionalFormattingDxfs appends new dxf entries after the
// existing table and returns each new entry's dxf index.
func (sp *StylesPart) AppendConditionalFormattingDxfs(overrides []model.CfStyleOverride) []uint32 {
	dxfs := ensureChild(sp.root, "dxfs")
	ids := make([]uint32, len(overrides))
	for i, o := range overrides {
		id := uint32(len(sp.dxfs))
		sp.dxfs = append(sp.dxfs, o)
		dxfs.children = append(dxfs.children, buildConditionalFormattingDxf(o))
		ids[i] = id
	}
	sp.setCount("dxfs", len(sp.dxfs))
	return ids
}

// NumFmtCodeForID returns the effective format code for a numFmtId: a
// custom <numFmts> code, a code from the builtin subset this package
// knows, or "General" for id 0, for callers that need the literal format
// string rather than the raw id. Any other id reports false.
func (sp *StylesPart) NumFmtCodeForID(id uint32) (string, bool) {
	if code, ok := sp.customNumFmts[id]; ok {
		return code, true
	}
	if code, ok := builtinFormatCode(id); ok {
		return code, true
	}
	if id == 0 {
		return "General", true
	}
	return "", false
}

// ToXMLBytes serializes the current styleSheet tree.
func (sp *StylesPart) ToXMLBytes() []byte {
	return sp.root.toXMLBytes()
}
