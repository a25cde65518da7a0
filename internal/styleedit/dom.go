// Package styleedit parses xl/styles.xml into a deduplicated style table
// keyed by xf index, and accepts style appends that extend the
// fonts/fills/borders/numFmts/cellXfs tables without disturbing existing
// indices (spec.md §4.7).
package styleedit

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const mainNS = "http://schemas.openxmlformats.org/spreadsheetml/2006/main"

// attr is one XML attribute, order-preserving.
type attr struct {
	local string
	value string
}

// node is either an *element or charData (raw text/whitespace between
// elements, preserved so re-serialization doesn't collapse formatting
// the input never had reason to need).
type node interface{ isNode() }

type charData string

func (charData) isNode() {}

// element is a mutable XML element: local name (always rendered
// unprefixed under the default spreadsheetml namespace, matching how
// every teacher-adjacent styles.xml in this corpus is written),
// attributes, and children in document order.
type element struct {
	local    string
	attrs    []attr
	children []node
}

func (*element) isNode() {}

func newElement(local string) *element {
	return &element{local: local}
}

func (e *element) attr(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.local == name {
			return a.value, true
		}
	}
	return "", false
}

func (e *element) setAttr(name, value string) {
	for i := range e.attrs {
		if e.attrs[i].local == name {
			e.attrs[i].value = value
			return
		}
	}
	e.attrs = append(e.attrs, attr{local: name, value: value})
}

// child returns the first direct child element with the given local
// name.
func (e *element) child(local string) *element {
	for _, c := range e.children {
		if el, ok := c.(*element); ok && el.local == local {
			return el
		}
	}
	return nil
}

// childrenByLocal returns every direct child element with the given
// local name, in document order.
func (e *element) childrenByLocal(local string) []*element {
	var out []*element
	for _, c := range e.children {
		if el, ok := c.(*element); ok && el.local == local {
			out = append(out, el)
		}
	}
	return out
}

func (e *element) childIndex(local string) (int, bool) {
	for i, c := range e.children {
		if el, ok := c.(*element); ok && el.local == local {
			return i, true
		}
	}
	return 0, false
}

// parseElement decodes bytes (expected to be a single well-formed XML
// document) into a *element tree. Namespace declarations and prefixes
// are discarded: this package only ever re-emits under the single
// default spreadsheetml namespace, matching the shape every writer in
// this corpus produces.
func parseElement(data []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*element
	var root *element

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse styles.xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := newElement(t.Name.Local)
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				el.attrs = append(el.attrs, attr{local: a.Name.Local, value: a.Value})
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			} else {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, charData(t))
			}
		}
	}
	if root == nil {
		return nil, mcperr.New(mcperr.MalformedXML, "styles.xml has no root element")
	}
	return root, nil
}

// toXMLBytes serializes the tree back to XML, declaring the
// spreadsheetml namespace as the default on the root element only.
func (e *element) toXMLBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	writeElement(&buf, e, true)
	return buf.Bytes()
}

func writeElement(buf *bytes.Buffer, e *element, isRoot bool) {
	buf.WriteByte('<')
	buf.WriteString(e.local)
	if isRoot {
		buf.WriteString(` xmlns="` + mainNS + `"`)
	}
	for _, a := range e.attrs {
		buf.WriteByte(' ')
		buf.WriteString(a.local)
		buf.WriteString(`="`)
		buf.WriteString(xmlEscapeAttr(a.value))
		buf.WriteByte('"')
	}
	if len(e.children) == 0 {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	for _, c := range e.children {
		switch n := c.(type) {
		case *element:
			writeElement(buf, n, false)
		case charData:
			buf.WriteString(xmlEscapeText(string(n)))
		}
	}
	buf.WriteString("</")
	buf.WriteString(e.local)
	buf.WriteByte('>')
}

func xmlEscapeAttr(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return strings.ReplaceAll(b.String(), "\n", "&#xA;")
}

func xmlEscapeText(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

// schemaOrder is styleSheet's permitted child order (spec.md §4.7).
var schemaOrder = []string{
	"numFmts", "fonts", "fills", "borders",
	"cellStyleXfs", "cellXfs", "cellStyles",
	"dxfs", "tableStyles", "extLst",
}

func schemaPosition(local string) (int, bool) {
	for i, name := range schemaOrder {
		if name == local {
			return i, true
		}
	}
	return 0, false
}

// ensureChild returns root's direct child element named local,
// inserting an empty one at the schema-correct position if absent.
func ensureChild(root *element, local string) *element {
	if existing := root.child(local); existing != nil {
		return existing
	}

	target, ok := schemaPosition(local)
	insertAt := len(root.children)
	if ok {
		for i, c := range root.children {
			el, isEl := c.(*element)
			if !isEl {
				continue
			}
			pos, known := schemaPosition(el.local)
			if known && pos > target {
				insertAt = i
				break
			}
		}
	}

	el := newElement(local)
	root.children = append(root.children, nil)
	copy(root.children[insertAt+1:], root.children[insertAt:])
	root.children[insertAt] = el
	return el
}
