package richdata

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// parseRichValues parses xl/richData/rdrichvalue.xml into a map keyed
// by rich-value record index (0-based, in document order). Only
// records resolvable to a local-image identifier and CalcOrigin are
// kept — everything else is silently skipped (spec.md §4.6: this
// component is best-effort and resilient to unrelated record shapes).
//
// structurePositions, when non-nil, supplies the field layout declared
// by rdrichvaluestructure.xml for each <rv s="..."> structure index. A
// record without structure info falls back to the legacy fixed order
// (identifier, origin, text).
func parseRichValues(xmlBody []byte, structurePositions []*structurePositions) (map[uint32]richValueImage, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	out := make(map[uint32]richValueImage)

	inRV := false
	inV := false
	var structIdx int
	hasStructIdx := false
	var values []string
	var vText strings.Builder
	var rvIndex uint32

	flush := func() {
		defer func() { rvIndex++ }()

		var pos *structurePositions
		knownNonLocal := false
		if structurePositions != nil && hasStructIdx && structIdx >= 0 && structIdx < len(structurePositions) {
			if structurePositions[structIdx] != nil {
				pos = structurePositions[structIdx]
			} else {
				knownNonLocal = true
			}
		}
		if knownNonLocal {
			return
		}

		var localImageIdentifier, calcOrigin uint32
		var haveIdent, haveOrigin bool
		var altText string
		var haveAlt bool

		if pos != nil {
			if pos.hasLocalImageIdent {
				if v, ok := parseUintField(values, pos.localImageIdentifier); ok {
					localImageIdentifier, haveIdent = v, true
				}
			}
			if pos.hasCalcOrigin {
				if v, ok := parseUintField(values, pos.calcOrigin); ok {
					calcOrigin, haveOrigin = v, true
				}
			}
			if pos.hasText {
				if v, ok := stringField(values, pos.text); ok {
					altText, haveAlt = v, true
				}
			}
		}
		if !haveIdent {
			if v, ok := parseUintField(values, 0); ok {
				localImageIdentifier, haveIdent = v, true
			}
		}
		if !haveOrigin {
			if v, ok := parseUintField(values, 1); ok {
				calcOrigin, haveOrigin = v, true
			}
		}
		if !haveAlt && pos == nil {
			if v, ok := stringField(values, 2); ok {
				altText, haveAlt = v, true
			}
		}

		if haveIdent && haveOrigin {
			out[rvIndex] = richValueImage{
				localImageIdentifier: localImageIdentifier,
				calcOrigin:           calcOrigin,
				altText:              altText,
				hasAltText:           haveAlt,
			}
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse rdrichvalue.xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "rv":
				inRV = true
				inV = false
				values = nil
				hasStructIdx = false
				if s := attrValue(t.Attr, "s"); s != "" {
					if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
						structIdx, hasStructIdx = n, true
					}
				}
			case "v":
				if inRV {
					inV = true
					vText.Reset()
				}
			}
		case xml.CharData:
			if inRV && inV {
				vText.Write(t)
			}
		case xml.EndElement:
			switch localName(t.Name) {
			case "v":
				if inRV {
					values = append(values, vText.String())
					inV = false
				}
			case "rv":
				if inRV {
					flush()
				}
				inRV = false
			}
		}
	}
	return out, nil
}

func parseUintField(values []string, idx int) (uint32, bool) {
	if idx < 0 || idx >= len(values) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(values[idx]), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func stringField(values []string, idx int) (string, bool) {
	if idx < 0 || idx >= len(values) {
		return "", false
	}
	v := strings.TrimSpace(values[idx])
	if v == "" {
		return "", false
	}
	return v, true
}
