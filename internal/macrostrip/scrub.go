package macrostrip

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"
	"strings"

	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// relIDAttrLocals are the local attribute names that can carry a
// relationship ID, independent of namespace prefix (spec.md §4.5 step
// 7): r:id, r:embed, r:link, and o:relid (matched by local name alone,
// since producers bind the "o:" prefix inconsistently).
var relIDAttrLocals = map[string]struct{}{
	"id":    {},
	"embed": {},
	"link":  {},
	"relid": {},
}

// soleRelIDElements are element local names whose entire purpose is to
// carry a relationship reference; once that reference is gone, the
// element itself is removed rather than left behind as an empty husk.
var soleRelIDElements = map[string]struct{}{
	"control":   {},
	"OLEObject": {},
}

// scrubSources implements step 7: for every source part that lost
// relationships in rewriteRelationships, strip the now-dangling
// r:id/r:embed/r:link/o:relid references from its XML.
func scrubSources(pkg *opc.Package, removedIDs map[string]map[string]struct{}) error {
	for sourcePart, ids := range removedIDs {
		if sourcePart == "" || len(ids) == 0 {
			continue
		}
		data, ok := pkg.Part(sourcePart)
		if !ok {
			continue // already physically deleted (itself in the delete set)
		}
		scrubbed, err := scrubDanglingRelIDs(data, ids)
		if err != nil {
			return mcperr.Wrap(mcperr.MalformedXML, err, "failed to scrub relationship references from %q", sourcePart)
		}
		pkg.SetPart(sourcePart, scrubbed)
	}
	return nil
}

// rawAttr is one attribute as it appears literally in the source: its
// prefixed name, local name (the part after ':'), and value.
type rawAttr struct {
	name, local, value string
}

// scrubDanglingRelIDs token-scans xmlBody, dropping any removed-ID
// attribute and, for elements whose sole purpose is to carry one of
// the removed IDs, the whole element. A <controls> container left with
// nothing but whitespace inside is dropped as well. Everything else is
// copied byte-for-byte.
func scrubDanglingRelIDs(xmlBody []byte, removed map[string]struct{}) ([]byte, error) {
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
		attrs := parseRawAttrs(rawTag)

		carriesRemoved := false
		for _, a := range attrs {
			if _, isRelAttr := relIDAttrLocals[a.local]; isRelAttr {
				if _, dropped := removed[a.value]; dropped {
					carriesRemoved = true
					break
				}
			}
		}
		if !carriesRemoved {
			continue
		}

		out.Write(xmlBody[lastWrite:int(start)])
		if _, wholeElement := soleRelIDElements[elemLocal]; wholeElement {
			if err := dec.Skip(); err != nil {
				return nil, err
			}
			lastWrite = int(dec.InputOffset())
			continue
		}
		out.Write(renderTagWithoutAttrs(rawTag, attrs, removed))
		lastWrite = int(tagEnd)
	}
	out.Write(xmlBody[lastWrite:])
	return emptyControlsWrapper.ReplaceAll(out.Bytes(), nil), nil
}

// emptyControlsWrapper matches a (possibly prefixed) <controls> element
// whose content is only whitespace.
var emptyControlsWrapper = regexp.MustCompile(`<(?:[\w.-]+:)?controls(?:\s[^>]*)?>\s*</(?:[\w.-]+:)?controls>`)

// parseRawAttrs extracts name="value" (or name='value') pairs from a
// raw start-tag's bytes, in source order, preserving literal prefixes.
func parseRawAttrs(rawTag []byte) []rawAttr {
	s := string(rawTag)
	i := 1 // skip '<'
	for i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' && s[i] != '>' && s[i] != '/' {
		i++
	}
	var attrs []rawAttr
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
			i++
		}
		if i >= len(s) || s[i] == '>' || s[i] == '/' {
			break
		}
		nameStart := i
		for i < len(s) && s[i] != '=' && s[i] != ' ' && s[i] != '>' && s[i] != '/' {
			i++
		}
		name := s[nameStart:i]
		for i < len(s) && s[i] != '=' {
			i++
		}
		if i >= len(s) {
			break
		}
		i++ // skip '='
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) || (s[i] != '"' && s[i] != '\'') {
			break
		}
		quote := s[i]
		i++
		valStart := i
		for i < len(s) && s[i] != quote {
			i++
		}
		value := s[valStart:i]
		if i < len(s) {
			i++ // skip closing quote
		}
		local := name
		if idx := strings.IndexByte(name, ':'); idx >= 0 {
			local = name[idx+1:]
		}
		attrs = append(attrs, rawAttr{name: name, local: local, value: xmlUnescape(value)})
	}
	return attrs
}

// renderTagWithoutAttrs rebuilds rawTag with every attribute in
// removed dropped. Surviving attributes keep their original name text
// and order; each is re-emitted after a single space, in double quotes,
// with its value re-escaped.
func renderTagWithoutAttrs(rawTag []byte, attrs []rawAttr, removed map[string]struct{}) []byte {
	s := string(rawTag)
	var out strings.Builder

	tagNameEnd := 1
	for tagNameEnd < len(s) && s[tagNameEnd] != ' ' && s[tagNameEnd] != '\t' && s[tagNameEnd] != '\n' && s[tagNameEnd] != '>' && s[tagNameEnd] != '/' {
		tagNameEnd++
	}
	out.WriteString(s[:tagNameEnd])

	for _, a := range attrs {
		drop := false
		if _, isRelAttr := relIDAttrLocals[a.local]; isRelAttr {
			if _, dropped := removed[a.value]; dropped {
				drop = true
			}
		}
		if drop {
			continue
		}
		out.WriteByte(' ')
		out.WriteString(a.name)
		out.WriteString(`="`)
		var buf bytes.Buffer
		xml.EscapeText(&buf, []byte(a.value))
		out.Write(buf.Bytes())
		out.WriteString(`"`)
	}

	if strings.HasSuffix(s, "/>") {
		out.WriteString("/>")
	} else {
		out.WriteString(">")
	}
	return []byte(out.String())
}

func localName(resolvedLocal string, rawTag []byte) string {
	s := string(rawTag)
	i := 1
	for i < len(s) && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' && s[i] != '>' && s[i] != '/' {
		i++
	}
	tagName := s[1:i]
	if idx := strings.IndexByte(tagName, ':'); idx >= 0 {
		return tagName[idx+1:]
	}
	if tagName != "" {
		return tagName
	}
	return resolvedLocal
}

// findTagEnd returns the byte offset just past the '>' that closes the
// start tag beginning at start, honoring quoted attribute values.
func findTagEnd(xmlBody []byte, start int) int64 {
	inQuote := byte(0)
	for i := start; i < len(xmlBody); i++ {
		c := xmlBody[i]
		if inQuote != 0 {
			if c == inQuote {
				inQuote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inQuote = c
		case '>':
			return int64(i + 1)
		}
	}
	return int64(len(xmlBody))
}

func xmlUnescape(s string) string {
	r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
	return r.Replace(s)
}
