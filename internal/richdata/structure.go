package richdata

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// parseStructurePositions parses xl/richData/rdrichvaluestructure.xml:
// each <s t="..."> declares a structure type via its child <k n="..."/>
// field names, in declaration order. Only "_localImage" structures are
// kept (as a field-name -> positional-index map); every other
// structure records a present-but-not-local-image marker so callers
// can distinguish "no structure info" from "not a local image".
func parseStructurePositions(xmlBody []byte) ([]*structurePositions, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	var out []*structurePositions

	inS := false
	isLocalImage := false
	keyIdx := 0
	current := structurePositions{}

	flush := func() {
		if isLocalImage {
			c := current
			c.isLocalImage = true
			out = append(out, &c)
		} else {
			out = append(out, nil)
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse rdrichvaluestructure.xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "s":
				inS = true
				isLocalImage = isLocalImageType(attrValue(t.Attr, "t"))
				keyIdx = 0
				current = structurePositions{}
			case "k":
				if !inS || !isLocalImage {
					if inS {
						keyIdx++
					}
					continue
				}
				switch strings.TrimSpace(lastSegment(attrValue(t.Attr, "n"))) {
				case "LocalImageIdentifier":
					if !current.hasLocalImageIdent {
						current.localImageIdentifier = keyIdx
						current.hasLocalImageIdent = true
					}
				case "CalcOrigin":
					if !current.hasCalcOrigin {
						current.calcOrigin = keyIdx
						current.hasCalcOrigin = true
					}
				case "Text":
					if !current.hasText {
						current.text = keyIdx
						current.hasText = true
					}
				}
				keyIdx++
			}
		case xml.EndElement:
			if localName(t.Name) == "s" {
				flush()
				inS = false
			}
		}
	}
	return out, nil
}

func isLocalImageType(t string) bool {
	return strings.EqualFold(strings.TrimSpace(lastSegment(t)), "_localImage")
}

// lastSegment returns the part of s after the last ':', tolerating the
// unprefixed case.
func lastSegment(s string) string {
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
