package styleedit

import (
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatUint32(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}

func boolAttr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// buildColorElement renders an ARGB/theme/indexed color marker back to a
// <color> child, or nil when argb is empty (no color was ever set).
func buildColorElement(argb string) *element {
	if argb == "" {
		return nil
	}
	el := newElement("color")
	switch {
	case strings.HasPrefix(argb, "theme:"):
		el.setAttr("theme", strings.TrimPrefix(argb, "theme:"))
	case strings.HasPrefix(argb, "indexed:"):
		el.setAttr("indexed", strings.TrimPrefix(argb, "indexed:"))
	default:
		el.setAttr("rgb", strings.ToUpper(argb))
	}
	return el
}

func appendIfNotNil(el *element, child *element) {
	if child != nil {
		el.children = append(el.children, child)
	}
}

func buildFontElement(f model.Font) *element {
	el := newElement("font")
	if f.Name != "" {
		name := newElement("name")
		name.setAttr("val", f.Name)
		el.children = append(el.children, name)
	}
	if f.SizePt != 0 {
		sz := newElement("sz")
		sz.setAttr("val", formatFloat(f.SizePt))
		el.children = append(el.children, sz)
	}
	if f.Bold {
		el.children = append(el.children, newElement("b"))
	}
	if f.Italic {
		el.children = append(el.children, newElement("i"))
	}
	if f.Underline {
		el.children = append(el.children, newElement("u"))
	}
	if f.Strike {
		el.children = append(el.children, newElement("strike"))
	}
	appendIfNotNil(el, buildColorElement(f.ColorARGB))
	return el
}

func buildFillElement(f model.Fill) *element {
	el := newElement("fill")
	pat := newElement("patternFill")
	if f.PatternType != "" {
		pat.setAttr("patternType", f.PatternType)
	}
	appendIfNotNil(pat, withColorName(f.FgColorARGB, "fgColor"))
	appendIfNotNil(pat, withColorName(f.BgColorARGB, "bgColor"))
	el.children = append(el.children, pat)
	return el
}

func withColorName(argb, local string) *element {
	c := buildColorElement(argb)
	if c == nil {
		return nil
	}
	c.local = local
	return c
}

func buildBorderEdgeElement(local string, e model.BorderEdge) *element {
	el := newElement(local)
	if e.Style != "" {
		el.setAttr("style", e.Style)
	}
	appendIfNotNil(el, buildColorElement(e.ColorARGB))
	return el
}

func buildBorderElement(b model.Border) *element {
	el := newElement("border")
	el.children = append(el.children,
		buildBorderEdgeElement("left", b.Left),
		buildBorderEdgeElement("right", b.Right),
		buildBorderEdgeElement("top", b.Top),
		buildBorderEdgeElement("bottom", b.Bottom),
		buildBorderEdgeElement("diagonal", b.Diagonal),
	)
	return el
}

func buildAlignmentElement(a model.Alignment) *element {
	if a == (model.Alignment{}) {
		return nil
	}
	el := newElement("alignment")
	if a.Horizontal != "" {
		el.setAttr("horizontal", a.Horizontal)
	}
	if a.Vertical != "" {
		el.setAttr("vertical", a.Vertical)
	}
	if a.WrapText {
		el.setAttr("wrapText", "1")
	}
	if a.TextRotation != 0 {
		el.setAttr("textRotation", strconv.FormatInt(int64(a.TextRotation), 10))
	}
	if a.Indent != 0 {
		el.setAttr("indent", formatUint32(a.Indent))
	}
	return el
}

func buildProtectionElement(p model.Protection) *element {
	if p.Locked && !p.Hidden {
		return nil
	}
	el := newElement("protection")
	el.setAttr("locked", boolAttr(p.Locked))
	if p.Hidden {
		el.setAttr("hidden", boolAttr(p.Hidden))
	}
	return el
}

func buildNumFmtElement(id uint32, code string) *element {
	el := newElement("numFmt")
	el.setAttr("numFmtId", formatUint32(id))
	el.setAttr("formatCode", code)
	return el
}

// numFmtIDFor resolves a NumberFormat back to the numFmtId an xf should
// reference, registering a fresh custom <numFmt> entry in customCodes when
// the code isn't a known builtin and isn't already registered.
func numFmtIDFor(nf model.NumberFormat, customCodes map[uint32]string, nextCustomID *uint32) uint32 {
	if nf.Code == "" {
		return nf.BuiltinID
	}
	if builtinID, ok := parseBuiltinPlaceholder(nf.Code); ok {
		return builtinID
	}
	if builtinID, ok := builtinFormatIDForCode(nf.Code); ok {
		return builtinID
	}
	for id, code := range customCodes {
		if code == nf.Code {
			return id
		}
	}
	id := *nextCustomID
	customCodes[id] = nf.Code
	*nextCustomID = id + 1
	return id
}

// buildXfElement renders a resolved xf back to XML, given the already
// -interned font/fill/border ids and the numFmtId resolved via
// numFmtIDFor.
func buildXfElement(numFmtID, fontID, fillID, borderID uint32, s model.Style) *element {
	el := newElement("xf")
	el.setAttr("numFmtId", formatUint32(numFmtID))
	el.setAttr("fontId", formatUint32(fontID))
	el.setAttr("fillId", formatUint32(fillID))
	el.setAttr("borderId", formatUint32(borderID))
	el.setAttr("xfId", "0")
	if numFmtID != 0 {
		el.setAttr("applyNumberFormat", "1")
	}
	if fontID != 0 {
		el.setAttr("applyFont", "1")
	}
	if fillID != 0 {
		el.setAttr("applyFill", "1")
	}
	if borderID != 0 {
		el.setAttr("applyBorder", "1")
	}
	if align := buildAlignmentElement(s.Alignment); align != nil {
		el.children = append(el.children, align)
		el.setAttr("applyAlignment", "1")
	}
	if prot := buildProtectionElement(s.Protection); prot != nil {
		el.children = append(el.children, prot)
		el.setAttr("applyProtection", "1")
	}
	return el
}

// buildConditionalFormattingDxf renders a CfStyleOverride back to a <dxf>
// element, omitting any child whose pointer field was never set.
func buildConditionalFormattingDxf(o model.CfStyleOverride) *element {
	el := newElement("dxf")

	if o.FontColorARGB != nil || o.Bold != nil || o.Italic != nil {
		font := newElement("font")
		if o.Bold != nil {
			b := newElement("b")
			b.setAttr("val", boolAttr(*o.Bold))
			font.children = append(font.children, b)
		}
		if o.Italic != nil {
			i := newElement("i")
			i.setAttr("val", boolAttr(*o.Italic))
			font.children = append(font.children, i)
		}
		if o.FontColorARGB != nil {
			appendIfNotNil(font, buildColorElement(*o.FontColorARGB))
		}
		el.children = append(el.children, font)
	}

	if o.FillARGB != nil {
		fill := newElement("fill")
		pat := newElement("patternFill")
		bg := buildColorElement(*o.FillARGB)
		bg.local = "bgColor"
		pat.children = append(pat.children, bg)
		fill.children = append(fill.children, pat)
		el.children = append(el.children, fill)
	}

	return el
}
