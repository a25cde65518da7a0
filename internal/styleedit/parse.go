package styleedit

import (
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
)

func parseUint32(s string) uint32 {
	n, _ := strconv.ParseUint(s, 10, 32)
	return uint32(n)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseBool(el *element, name string, defaultVal bool) bool {
	v, ok := el.attr(name)
	if !ok {
		return defaultVal
	}
	return v == "1" || v == "true"
}

// parseNumFmts reads <numFmts><numFmt numFmtId="" formatCode=""/></numFmts>
// into an id -> code lookup; styleSheet has no <numFmts> at all when the
// workbook uses only builtin formats.
func parseNumFmts(root *element) map[uint32]string {
	out := make(map[uint32]string)
	numFmts := root.child("numFmts")
	if numFmts == nil {
		return out
	}
	for _, nf := range numFmts.childrenByLocal("numFmt") {
		id, ok := nf.attr("numFmtId")
		if !ok {
			continue
		}
		code, _ := nf.attr("formatCode")
		out[parseUint32(id)] = code
	}
	return out
}

func parseColor(el *element) string {
	if el == nil {
		return ""
	}
	if rgb, ok := el.attr("rgb"); ok {
		return strings.ToUpper(rgb)
	}
	// Theme/indexed colors carry no literal ARGB in styles.xml alone; a
	// dedicated theme resolver is out of scope for the style table itself,
	// so the raw theme index round-trips as a synthetic marker instead of
	// being silently dropped.
	if theme, ok := el.attr("theme"); ok {
		return "theme:" + theme
	}
	if indexed, ok := el.attr("indexed"); ok {
		return "indexed:" + indexed
	}
	return ""
}

func parseFont(el *element) model.Font {
	var f model.Font
	if name := el.child("name"); name != nil {
		f.Name, _ = name.attr("val")
	}
	if sz := el.child("sz"); sz != nil {
		if v, ok := sz.attr("val"); ok {
			f.SizePt = parseFloat(v)
		}
	}
	f.Bold = hasFlagChild(el, "b")
	f.Italic = hasFlagChild(el, "i")
	f.Underline = hasFlagChild(el, "u")
	f.Strike = hasFlagChild(el, "strike")
	f.ColorARGB = parseColor(el.child("color"))
	return f
}

// hasFlagChild reports whether a boolean style flag element (<b/>, <i/>,
// <u/>, <strike/>) is present and not explicitly val="0"/"false".
func hasFlagChild(el *element, local string) bool {
	child := el.child(local)
	if child == nil {
		return false
	}
	v, ok := child.attr("val")
	if !ok {
		return true
	}
	return v == "1" || v == "true"
}

func parseFonts(root *element) []model.Font {
	fonts := root.child("fonts")
	if fonts == nil {
		return nil
	}
	out := make([]model.Font, 0, len(fonts.childrenByLocal("font")))
	for _, f := range fonts.childrenByLocal("font") {
		out = append(out, parseFont(f))
	}
	return out
}

func parseFill(el *element) model.Fill {
	var fl model.Fill
	pat := el.child("patternFill")
	if pat == nil {
		return fl
	}
	fl.PatternType, _ = pat.attr("patternType")
	fl.FgColorARGB = parseColor(pat.child("fgColor"))
	fl.BgColorARGB = parseColor(pat.child("bgColor"))
	return fl
}

func parseFills(root *element) []model.Fill {
	fills := root.child("fills")
	if fills == nil {
		return nil
	}
	out := make([]model.Fill, 0, len(fills.childrenByLocal("fill")))
	for _, f := range fills.childrenByLocal("fill") {
		out = append(out, parseFill(f))
	}
	return out
}

func parseBorderEdge(el *element, local string) model.BorderEdge {
	var e model.BorderEdge
	edge := el.child(local)
	if edge == nil {
		return e
	}
	e.Style, _ = edge.attr("style")
	e.ColorARGB = parseColor(edge.child("color"))
	return e
}

func parseBorder(el *element) model.Border {
	return model.Border{
		Left:     parseBorderEdge(el, "left"),
		Right:    parseBorderEdge(el, "right"),
		Top:      parseBorderEdge(el, "top"),
		Bottom:   parseBorderEdge(el, "bottom"),
		Diagonal: parseBorderEdge(el, "diagonal"),
	}
}

func parseBorders(root *element) []model.Border {
	borders := root.child("borders")
	if borders == nil {
		return nil
	}
	out := make([]model.Border, 0, len(borders.childrenByLocal("border")))
	for _, b := range borders.childrenByLocal("border") {
		out = append(out, parseBorder(b))
	}
	return out
}

func parseAlignment(el *element) model.Alignment {
	var a model.Alignment
	align := el.child("alignment")
	if align == nil {
		return a
	}
	a.Horizontal, _ = align.attr("horizontal")
	a.Vertical, _ = align.attr("vertical")
	a.WrapText = parseBool(align, "wrapText", false)
	if v, ok := align.attr("textRotation"); ok {
		n, _ := strconv.ParseInt(v, 10, 32)
		a.TextRotation = int32(n)
	}
	if v, ok := align.attr("indent"); ok {
		a.Indent = parseUint32(v)
	}
	return a
}

func parseProtection(el *element) model.Protection {
	p := model.Protection{Locked: true}
	prot := el.child("protection")
	if prot == nil {
		return p
	}
	p.Locked = parseBool(prot, "locked", true)
	p.Hidden = parseBool(prot, "hidden", false)
	return p
}

// numFmtFor resolves an xf's numFmtId against the custom <numFmts> table,
// falling back to the restricted builtin-code expansion and finally the
// round-trip placeholder for every other builtin id.
func numFmtFor(id uint32, customCodes map[uint32]string) model.NumberFormat {
	if code, ok := customCodes[id]; ok {
		return model.NumberFormat{BuiltinID: 0, Code: code}
	}
	if id == 0 {
		return model.NumberFormat{}
	}
	if code, ok := builtinFormatCode(id); ok {
		return model.NumberFormat{BuiltinID: id, Code: code}
	}
	return model.NumberFormat{BuiltinID: id, Code: builtinPlaceholder(id)}
}

// parseXf resolves one <xf> element (from cellXfs) into a fully-populated
// Style by indexing into the already-parsed fonts/fills/borders/numFmts
// tables. An out-of-range index is treated as index 0, matching how Excel
// itself degrades a styles.xml a hand-editor has corrupted rather than
// refusing to open the workbook.
func parseXf(el *element, customCodes map[uint32]string, fonts []model.Font, fills []model.Fill, borders []model.Border) model.Style {
	var s model.Style

	if v, ok := el.attr("numFmtId"); ok {
		s.NumberFormat = numFmtFor(parseUint32(v), customCodes)
	}
	if v, ok := el.attr("fontId"); ok {
		if idx := int(parseUint32(v)); idx >= 0 && idx < len(fonts) {
			s.Font = fonts[idx]
		} else if len(fonts) > 0 {
			s.Font = fonts[0]
		}
	}
	if v, ok := el.attr("fillId"); ok {
		if idx := int(parseUint32(v)); idx >= 0 && idx < len(fills) {
			s.Fill = fills[idx]
		} else if len(fills) > 0 {
			s.Fill = fills[0]
		}
	}
	if v, ok := el.attr("borderId"); ok {
		if idx := int(parseUint32(v)); idx >= 0 && idx < len(borders) {
			s.Border = borders[idx]
		} else if len(borders) > 0 {
			s.Border = borders[0]
		}
	}
	s.Alignment = parseAlignment(el)
	s.Protection = parseProtection(el)
	return s
}

// parseCellXfs parses every <xf> in cellXfs (in document order, so index ==
// xf_index) into fully-resolved Styles.
func parseCellXfs(root *element, customCodes map[uint32]string, fonts []model.Font, fills []model.Fill, borders []model.Border) []model.Style {
	cellXfs := root.child("cellXfs")
	if cellXfs == nil {
		return nil
	}
	xfs := cellXfs.childrenByLocal("xf")
	out := make([]model.Style, 0, len(xfs))
	for _, xf := range xfs {
		out = append(out, parseXf(xf, customCodes, fonts, fills, borders))
	}
	return out
}

// parseConditionalFormattingDxf reads one <dxf> element's optional
// font-color / fill / bold / italic overrides. Unlike a full <xf>, a dxf
// carries only the properties a rule actually changes -- absence, not a
// zero value, means "leave the base style's value alone" -- so every field
// on CfStyleOverride stays nil unless the corresponding XML child/attr is
// present. A dxf val="0"/val="false" is a real false override, distinct
// from the field being entirely absent.
func parseConditionalFormattingDxf(el *element) model.CfStyleOverride {
	var out model.CfStyleOverride

	if font := el.child("font"); font != nil {
		if color := parseColor(font.child("color")); color != "" {
			c := color
			out.FontColorARGB = &c
		}
		if b := font.child("b"); b != nil {
			v := boolAttrVal(b)
			out.Bold = &v
		}
		if i := font.child("i"); i != nil {
			v := boolAttrVal(i)
			out.Italic = &v
		}
	}
	if fill := el.child("fill"); fill != nil {
		if pat := fill.child("patternFill"); pat != nil {
			if color := parseColor(pat.child("bgColor")); color != "" {
				c := color
				out.FillARGB = &c
			} else if color := parseColor(pat.child("fgColor")); color != "" {
				c := color
				out.FillARGB = &c
			}
		}
	}
	return out
}

// boolAttrVal reads a flag element's val attribute, defaulting to true
// when absent (an empty <b/> means "bold", same convention as <font>).
func boolAttrVal(el *element) bool {
	v, ok := el.attr("val")
	if !ok {
		return true
	}
	return v == "1" || v == "true"
}

// cfStyleOverrideEqual compares two overrides by value rather than by the
// pointer identity == would use: two overrides parsed from distinct XML
// elements are never pointer-equal even when every field carries the same
// value, which would otherwise defeat the "preserve an equivalent existing
// dxf in place" logic entirely.
func cfStyleOverrideEqual(a, b model.CfStyleOverride) bool {
	return stringPtrEqual(a.FontColorARGB, b.FontColorARGB) &&
		stringPtrEqual(a.FillARGB, b.FillARGB) &&
		boolPtrEqual(a.Bold, b.Bold) &&
		boolPtrEqual(a.Italic, b.Italic)
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
