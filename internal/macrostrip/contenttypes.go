package macrostrip

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const contentTypesPart = "[Content_Types].xml"

const macroEnabledWorkbookType = "application/vnd.ms-excel.sheet.macroEnabled.main+xml"
const plainWorkbookType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"

// patchContentTypes implements step 8: remove <Override> entries for
// deleted parts, and rewrite the workbook override's ContentType from
// the macro-enabled variant to the plain variant — preserving every
// other Override/Default entry (including prefixed element names and
// unrelated attributes) verbatim.
func patchContentTypes(pkg *opc.Package, deleteSet map[string]struct{}) error {
	data, ok := pkg.Part(contentTypesPart)
	if !ok {
		return nil // nothing to patch; unusual but not this component's concern
	}

	patched, err := rewriteContentTypes(data, deleteSet)
	if err != nil {
		return mcperr.Wrap(mcperr.MalformedXML, err, "failed to patch %s", contentTypesPart)
	}
	pkg.SetPart(contentTypesPart, patched)
	return nil
}

func rewriteContentTypes(xmlBody []byte, deleteSet map[string]struct{}) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	var out bytes.Buffer
	lastWrite := 0

	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		tagEnd := findTagEnd(xmlBody, int(start))
		rawTag := xmlBody[int(start):tagEnd]
		elemLocal := localName(se.Name.Local, rawTag)
		if elemLocal != "Override" {
			continue
		}

		attrs := parseRawAttrs(rawTag)
		partName := attrValue(attrs, "PartName")
		contentType := attrValue(attrs, "ContentType")

		if partName != "" {
			canon := opc.CanonicalName(partName)
			if _, deleted := deleteSet[canon]; deleted {
				out.Write(xmlBody[lastWrite:int(start)])
				if err := dec.Skip(); err != nil {
					return nil, err
				}
				lastWrite = int(dec.InputOffset())
				continue
			}
		}

		if contentType == macroEnabledWorkbookType {
			out.Write(xmlBody[lastWrite:int(start)])
			out.Write(renderTagWithReplacedAttr(rawTag, attrs, "ContentType", plainWorkbookType))
			lastWrite = int(tagEnd)
		}
	}
	out.Write(xmlBody[lastWrite:])
	return out.Bytes(), nil
}

func attrValue(attrs []rawAttr, local string) string {
	for _, a := range attrs {
		if a.local == local {
			return a.value
		}
	}
	return ""
}

func renderTagWithReplacedAttr(rawTag []byte, attrs []rawAttr, local, newValue string) []byte {
	s := string(rawTag)
	var out strings.Builder

	tagNameEnd := 1
	for tagNameEnd < len(s) && s[tagNameEnd] != ' ' && s[tagNameEnd] != '\t' && s[tagNameEnd] != '\n' && s[tagNameEnd] != '>' && s[tagNameEnd] != '/' {
		tagNameEnd++
	}
	out.WriteString(s[:tagNameEnd])

	for _, a := range attrs {
		out.WriteByte(' ')
		out.WriteString(a.name)
		out.WriteString(`="`)
		if a.local == local {
			var buf bytes.Buffer
			xml.EscapeText(&buf, []byte(newValue))
			out.Write(buf.Bytes())
		} else {
			var buf bytes.Buffer
			xml.EscapeText(&buf, []byte(a.value))
			out.Write(buf.Bytes())
		}
		out.WriteString(`"`)
	}

	if strings.HasSuffix(s, "/>") {
		out.WriteString("/>")
	} else {
		out.WriteString(">")
	}
	return []byte(out.String())
}
