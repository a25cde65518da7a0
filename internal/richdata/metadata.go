package richdata

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// parseVMToRichValueIndex parses xl/metadata.xml into a map from a
// canonical 1-based "bk" position (the convention the @vm attribute
// indexes into — spec.md §4.6 leaves the exact base to the caller's
// 0-/1-based disambiguation heuristic) to a rich-value table index.
//
// Each <bk> holds one or more <rc t="..." v="..."/> records; t is a
// 1-based index into <metadataTypes>, and a <bk> is kept only if one
// of its records references a metadataType named "XLRICHVALUE".
func parseVMToRichValueIndex(xmlBody []byte) (map[uint32]uint32, error) {
	richValueTypeIndices, err := richValueMetadataTypeIndices(xmlBody)
	if err != nil {
		return nil, err
	}
	if len(richValueTypeIndices) == 0 {
		return map[uint32]uint32{}, nil
	}

	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	out := make(map[uint32]uint32)

	var bkIndex uint32
	inBk := false
	bkHasRichValue := false
	var bkRichValueIndex uint32

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse metadata.xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "bk":
				inBk = true
				bkHasRichValue = false
				bkRichValueIndex = 0
			case "rc":
				if !inBk {
					continue
				}
				tAttr := attrValue(t.Attr, "t")
				vAttr := attrValue(t.Attr, "v")
				typeIdx, err := strconv.ParseUint(strings.TrimSpace(tAttr), 10, 32)
				if err != nil {
					continue
				}
				if _, isRichValue := richValueTypeIndices[uint32(typeIdx)]; !isRichValue {
					continue
				}
				v, err := strconv.ParseUint(strings.TrimSpace(vAttr), 10, 32)
				if err != nil {
					continue
				}
				bkHasRichValue = true
				bkRichValueIndex = uint32(v)
			}
		case xml.EndElement:
			if localName(t.Name) == "bk" {
				bkIndex++
				if bkHasRichValue {
					out[bkIndex] = bkRichValueIndex
				}
				inBk = false
			}
		}
	}
	return out, nil
}

// richValueMetadataTypeIndices returns the 1-based <metadataType>
// positions named "XLRICHVALUE".
func richValueMetadataTypeIndices(xmlBody []byte) (map[uint32]struct{}, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	out := make(map[uint32]struct{})
	var idx uint32
	inTypes := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse metadataTypes")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "metadataTypes":
				inTypes = true
			case "metadataType":
				if !inTypes {
					continue
				}
				idx++
				name := attrValue(t.Attr, "name")
				if strings.EqualFold(name, "XLRICHVALUE") {
					out[idx] = struct{}{}
				}
			}
		case xml.EndElement:
			if localName(t.Name) == "metadataTypes" {
				inTypes = false
			}
		}
	}
	return out, nil
}

func localName(n xml.Name) string { return n.Local }

func attrValue(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
