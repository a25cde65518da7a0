package richdata

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// worksheetHyperlink is one <hyperlink ref="..." r:id="..."/> entry
// with its resolved target: the URL of an external relationship, the
// resolved part name of an internal one, or the location attribute
// when the entry has no r:id.
type worksheetHyperlink struct {
	ref    model.Range
	target string
}

// parseWorksheetHyperlinks parses a worksheet's <hyperlinks> element and
// resolves each entry's r:id via the sheet's own .rels, returning only
// entries with a resolvable external or internal target.
func parseWorksheetHyperlinks(pkg *opc.Package, sheetPart string, xmlBody []byte) ([]worksheetHyperlink, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	var out []worksheetHyperlink

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse worksheet hyperlinks in %q", sheetPart)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || localName(se.Name) != "hyperlink" {
			continue
		}

		refAttr := attrValue(se.Attr, "ref")
		if refAttr == "" {
			continue
		}
		rng, err := parseRefRange(refAttr)
		if err != nil {
			continue
		}

		relID := ""
		for _, a := range se.Attr {
			if a.Name.Local == "id" {
				relID = a.Value
				break
			}
		}
		if relID == "" {
			if loc := attrValue(se.Attr, "location"); loc != "" {
				out = append(out, worksheetHyperlink{ref: rng, target: loc})
			}
			continue
		}

		target, ok := resolveHyperlinkTarget(pkg, sheetPart, relID)
		if !ok {
			continue
		}
		out = append(out, worksheetHyperlink{ref: rng, target: target})
	}
	return out, nil
}

// resolveHyperlinkTarget looks up relID among sheetPart's relationships,
// returning the raw Target for an external link (a URL carries no
// further part to resolve) and the resolved in-package part name for an
// internal one.
func resolveHyperlinkTarget(pkg *opc.Package, sheetPart, relID string) (string, bool) {
	rels, err := pkg.RelationshipsFor(sheetPart)
	if err != nil {
		return "", false
	}
	for _, r := range rels {
		if r.ID != relID {
			continue
		}
		if r.TargetMode == opc.External {
			return r.Target, true
		}
		return opc.ResolveTarget(opc.DirOf(opc.CanonicalName(sheetPart)), r.Target), true
	}
	return "", false
}

// parseRefRange parses a hyperlink's ref attribute, which is either a
// single cell ("B12") or a range ("B12:C14"), into a model.Range.
func parseRefRange(ref string) (model.Range, error) {
	parts := strings.SplitN(ref, ":", 2)
	start, err := model.ParseCellRef(parts[0])
	if err != nil {
		return model.Range{}, err
	}
	if len(parts) == 1 {
		return model.Range{Start: start, End: start}, nil
	}
	end, err := model.ParseCellRef(parts[1])
	if err != nil {
		return model.Range{}, err
	}
	return model.Range{Start: start, End: end}, nil
}

// hyperlinkTargetFor returns the target of whichever hyperlink entry
// contains cell, if any.
func hyperlinkTargetFor(links []worksheetHyperlink, cell model.CellRef) string {
	for _, l := range links {
		if l.ref.Contains(cell) {
			return l.target
		}
	}
	return ""
}
