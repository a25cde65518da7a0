package richdata

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// parseRichValueRelationshipIndices parses one
// xl/richData/richValue*.xml part's <rv><v kind="rel">N</v></rv>
// entries into a dense, index-aligned list (nil entries are
// placeholders for rich-value records with no relationship-indexed
// value, preserving table alignment — spec.md §4.6).
func parseRichValueRelationshipIndices(xmlBody []byte) ([]*int, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	var out []*int

	inRV := false
	var current *int

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse richValue.xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "rv":
				inRV = true
				current = nil
			case "v":
				if inRV && strings.EqualFold(attrValue(t.Attr, "kind"), "rel") {
					if txt, err := dec.Token(); err == nil {
						if cd, ok := txt.(xml.CharData); ok {
							if n, err := strconv.Atoi(strings.TrimSpace(string(cd))); err == nil {
								v := n
								current = &v
							}
						}
					}
				}
			}
		case xml.EndElement:
			if localName(t.Name) == "rv" {
				out = append(out, current)
				inRV = false
			}
		}
	}
	return out, nil
}

// parseRichValueRelIDs parses xl/richData/richValueRel.xml's <rel
// r:id="..."/> list into a dense list of relationship IDs, preserving
// a missing r:id as an empty-string placeholder so indices stay
// aligned with the rich-value table (spec.md §4.6).
func parseRichValueRelIDs(xmlBody []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	var out []string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse richValueRel.xml")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || localName(se.Name) != "rel" {
			continue
		}
		id := ""
		for _, a := range se.Attr {
			if a.Name.Local == "id" {
				id = strings.TrimSpace(a.Value)
				break
			}
		}
		out = append(out, id)
	}
	return out, nil
}
