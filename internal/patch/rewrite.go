package patch

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// rowSpan is one <row>...</row> (or self-closing <row/>) element's raw
// bytes plus its parsed 0-based row index.
type rowSpan struct {
	row uint32
	raw []byte
}

// cellSpan is one <c>...</c> (or self-closing <c/>) element's raw
// bytes, its cell reference, and its declared "t" (type) attribute.
type cellSpan struct {
	ref model.CellRef
	raw []byte
	typ string
}

// splitSheetData locates the <sheetData>...</sheetData> span inside a
// worksheet part's bytes. It returns the bytes verbatim before and
// after that span (preserved untouched) and the span's inner body
// (the row elements).
func splitSheetData(xmlBody []byte) (before, body, after []byte, err error) {
	openTag := []byte("<sheetData")
	openIdx := bytes.Index(xmlBody, openTag)
	if openIdx < 0 {
		return nil, nil, nil, mcperr.New(mcperr.MalformedXML, "worksheet part has no <sheetData> element")
	}
	gtIdx := bytes.IndexByte(xmlBody[openIdx:], '>')
	if gtIdx < 0 {
		return nil, nil, nil, mcperr.New(mcperr.MalformedXML, "worksheet part has an unterminated <sheetData> tag")
	}
	openEnd := openIdx + gtIdx + 1

	// Self-closing <sheetData/> has no rows.
	if xmlBody[openEnd-2] == '/' {
		return xmlBody[:openIdx], nil, xmlBody[openEnd:], nil
	}

	closeTag := []byte("</sheetData>")
	closeIdx := bytes.Index(xmlBody[openEnd:], closeTag)
	if closeIdx < 0 {
		return nil, nil, nil, mcperr.New(mcperr.MalformedXML, "worksheet part has an unterminated <sheetData> element")
	}
	closeIdx += openEnd

	return xmlBody[:openEnd], xmlBody[openEnd:closeIdx], xmlBody[closeIdx:], nil
}

// splitRows decodes body (the raw bytes between <sheetData> and
// </sheetData>) into individual row spans, preserving each row's exact
// original bytes via decoder byte offsets.
func splitRows(body []byte) ([]rowSpan, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var rows []rowSpan

	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to scan worksheet rows")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "row" {
			continue
		}
		rowNum, err := attrUint(se.Attr, "r")
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "row element has an invalid r attribute")
		}
		if err := dec.Skip(); err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to skip row element")
		}
		end := dec.InputOffset()
		rows = append(rows, rowSpan{row: rowNum - 1, raw: append([]byte(nil), body[start:end]...)})
	}
	return rows, nil
}

// splitCells decodes one row's raw bytes into individual cell spans.
func splitCells(rowRaw []byte) ([]cellSpan, error) {
	dec := xml.NewDecoder(bytes.NewReader(rowRaw))
	var cells []cellSpan

	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to scan worksheet cells")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "c" {
			continue
		}
		refAttr := attrString(se.Attr, "r")
		ref, err := model.ParseCellRef(refAttr)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "cell has an invalid r attribute %q", refAttr)
		}
		typ := attrString(se.Attr, "t")
		if err := dec.Skip(); err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to skip cell element")
		}
		end := dec.InputOffset()
		cells = append(cells, cellSpan{ref: ref, raw: append([]byte(nil), rowRaw[start:end]...), typ: typ})
	}
	return cells, nil
}

func attrString(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func attrUint(attrs []xml.Attr, local string) (uint32, error) {
	v := attrString(attrs, local)
	if v == "" {
		return 0, fmt.Errorf("missing %q attribute", local)
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// serializeCell renders a patched cell as a fresh <c> element. String
// values intern into strings when sharedStringOf is non-nil and the
// original cell was not an inline string (spec.md §4.4 step 4); a nil
// sharedStringOf or an inline-string original forces an inline <is>.
func serializeCell(p Patch, sharedStringOf func(string) uint32, wasInline bool) []byte {
	ref := p.Cell.A1()
	var attrs strings.Builder
	fmt.Fprintf(&attrs, ` r="%s"`, ref)
	if p.HasStyleID {
		fmt.Fprintf(&attrs, ` s="%d"`, p.StyleID)
	}

	var body strings.Builder
	if p.HasFormula {
		fmt.Fprintf(&body, "<f>%s</f>", xmlEscape(p.Formula))
	}

	switch p.Value.Kind {
	case model.KindEmpty:
		if !p.HasFormula {
			return []byte(fmt.Sprintf("<c%s/>", attrs.String()))
		}
	case model.KindNumber:
		fmt.Fprintf(&body, "<v>%s</v>", formatNumber(p.Value.Number))
	case model.KindBoolean:
		attrs.WriteString(` t="b"`)
		v := "0"
		if p.Value.Boolean {
			v = "1"
		}
		fmt.Fprintf(&body, "<v>%s</v>", v)
	case model.KindString:
		if wasInline || sharedStringOf == nil {
			attrs.WriteString(` t="inlineStr"`)
			fmt.Fprintf(&body, "<is><t>%s</t></is>", xmlEscape(p.Value.Str))
		} else {
			attrs.WriteString(` t="s"`)
			idx := sharedStringOf(p.Value.Str)
			fmt.Fprintf(&body, "<v>%d</v>", idx)
		}
	case model.KindError:
		attrs.WriteString(` t="e"`)
		fmt.Fprintf(&body, "<v>%s</v>", p.Value.Err.String())
	}

	return []byte(fmt.Sprintf("<c%s>%s</c>", attrs.String(), body.String()))
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// rewriteRow merges a row's original cell spans with the patches that
// land on it: unpatched cells are emitted verbatim, patched cells are
// re-serialized, and trailing patched cells past the row's original
// content are appended in column order.
func rewriteRow(row rowSpan, patches []Patch, sharedStringOf func(string) uint32) ([]byte, error) {
	cells, err := splitCells(row.raw)
	if err != nil {
		return nil, err
	}

	byCol := make(map[uint32]cellSpan, len(cells))
	order := make([]uint32, 0, len(cells))
	for _, c := range cells {
		if _, ok := byCol[c.ref.Col]; !ok {
			order = append(order, c.ref.Col)
		}
		byCol[c.ref.Col] = c
	}

	patchByCol := make(map[uint32]Patch, len(patches))
	for _, p := range patches {
		patchByCol[p.Cell.Col] = p
		if _, ok := byCol[p.Cell.Col]; !ok {
			order = append(order, p.Cell.Col)
		}
	}
	sortUint32(order)

	// Preserve the row's own opening tag attributes verbatim by
	// reusing the original <row ...> open tag text.
	openEnd := bytes.IndexByte(row.raw, '>')
	selfClosing := openEnd > 0 && row.raw[openEnd-1] == '/'
	var openTag []byte
	if selfClosing {
		openTag = append(append([]byte(nil), row.raw[:openEnd-1]...), '>')
	} else {
		openTag = row.raw[:openEnd+1]
	}

	var out bytes.Buffer
	out.Write(openTag)
	for _, col := range order {
		if p, patched := patchByCol[col]; patched {
			wasInline := byCol[col].typ == "inlineStr"
			out.Write(serializeCell(p, sharedStringOf, wasInline))
			continue
		}
		out.Write(byCol[col].raw)
	}
	out.WriteString("</row>")
	return out.Bytes(), nil
}

func sortUint32(s []uint32) {
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j] < s[j-1] {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}
