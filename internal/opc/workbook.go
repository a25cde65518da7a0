package opc

import (
	"encoding/xml"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const workbookPartName = "xl/workbook.xml"

// SheetInfo is one <sheet> entry from xl/workbook.xml, resolved to its
// worksheet part (spec.md §4.3: worksheet_parts/workbook_sheets).
type SheetInfo struct {
	Name       string
	SheetID    string
	RID        string
	Visibility model.Visibility
	PartName   string
}

type workbookXML struct {
	XMLName xml.Name `xml:"workbook"`
	Sheets  struct {
		Sheet []struct {
			Name    string `xml:"name,attr"`
			SheetID string `xml:"sheetId,attr"`
			State   string `xml:"state,attr"`
			RID     string `xml:"id,attr"`
		} `xml:"sheet"`
	} `xml:"sheets"`
	WorkbookPr struct {
		Date1904 bool `xml:"date1904,attr"`
	} `xml:"workbookPr"`
}

func visibilityOf(state string) model.Visibility {
	switch state {
	case "hidden":
		return model.Hidden
	case "veryHidden":
		return model.VeryHidden
	default:
		return model.Visible
	}
}

// WorksheetParts parses xl/workbook.xml for <sheet> elements and
// xl/_rels/workbook.xml.rels for each r:id's target, resolving each
// target against xl/workbook.xml's directory (spec.md §4.3).
func (p *Package) WorksheetParts() ([]SheetInfo, error) {
	wbData, ok := p.Part(workbookPartName)
	if !ok {
		return nil, mcperr.New(mcperr.MissingPart, "%s is missing", workbookPartName)
	}
	var doc workbookXML
	if err := xml.Unmarshal(wbData, &doc); err != nil {
		return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse %s", workbookPartName)
	}

	rels, err := p.RelationshipsFor(workbookPartName)
	if err != nil {
		return nil, err
	}
	relByID := make(map[string]Relationship, len(rels))
	for _, r := range rels {
		relByID[r.ID] = r
	}

	out := make([]SheetInfo, 0, len(doc.Sheets.Sheet))
	for _, s := range doc.Sheets.Sheet {
		rel, ok := relByID[s.RID]
		if !ok {
			return nil, mcperr.New(mcperr.DanglingRelID, "sheet %q references unknown relationship id %q", s.Name, s.RID)
		}
		if rel.TargetMode == External {
			return nil, mcperr.New(mcperr.InvalidTarget, "sheet %q's relationship target is external", s.Name)
		}
		partName := resolveTarget(dirOf(workbookPartName), rel.Target)
		if !p.Has(partName) {
			return nil, mcperr.New(mcperr.InvalidTarget, "sheet %q's target %q does not resolve to an existing part", s.Name, partName)
		}
		out = append(out, SheetInfo{
			Name:       s.Name,
			SheetID:    s.SheetID,
			RID:        s.RID,
			Visibility: visibilityOf(s.State),
			PartName:   partName,
		})
	}
	return out, nil
}

// WorkbookSheets returns the ordered sheet list with visibility
// resolved (spec.md §4.3).
func (p *Package) WorkbookSheets() ([]SheetInfo, error) {
	return p.WorksheetParts()
}

// DateSystem reports the workbook's 1900/1904 epoch flag.
func (p *Package) DateSystem() (model.DateSystem, error) {
	wbData, ok := p.Part(workbookPartName)
	if !ok {
		return model.DateSystem1900, mcperr.New(mcperr.MissingPart, "%s is missing", workbookPartName)
	}
	var doc workbookXML
	if err := xml.Unmarshal(wbData, &doc); err != nil {
		return model.DateSystem1900, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse %s", workbookPartName)
	}
	if doc.WorkbookPr.Date1904 {
		return model.DateSystem1904, nil
	}
	return model.DateSystem1900, nil
}

// IsWorksheetMain reports whether contentType is the non-macro
// SpreadsheetML main-workbook content type (used by the macro stripper
// to rewrite a macro-enabled workbook's declared type).
func IsWorksheetMain(contentType string) bool {
	return strings.HasSuffix(contentType, "spreadsheetml.sheet.main+xml")
}
