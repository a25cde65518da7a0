package macrostrip

import (
	"bytes"
	"encoding/xml"
	"io"
)

const relationshipsNS = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

// oleObjectRelIDs scans a VML drawing's bytes for <o:OLEObject>
// elements and returns the r:id each one carries (spec.md §4.5 step
// 2). Namespace resolution is left to encoding/xml, which binds the
// "o:"/"r:" prefixes via the in-scope xmlns declarations regardless of
// what literal prefix the producer chose.
func oleObjectRelIDs(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var ids []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "OLEObject" {
			continue
		}
		for _, a := range se.Attr {
			if a.Name.Local == "id" && (a.Name.Space == relationshipsNS || a.Name.Space == "r") {
				ids = append(ids, a.Value)
			}
		}
	}
	return ids, nil
}
