package opc

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

type worksheetXML struct {
	XMLName   xml.Name `xml:"worksheet"`
	SheetData struct {
		Row []rowXML `xml:"row"`
	} `xml:"sheetData"`
}

type rowXML struct {
	C []cXML `xml:"c"`
}

type cXML struct {
	R  string `xml:"r,attr"`
	T  string `xml:"t,attr"`
	S  string `xml:"s,attr"`
	V  string `xml:"v"`
	F  *fXML  `xml:"f"`
	Is *isXML `xml:"is"`
}

type fXML struct {
	Text string `xml:",chardata"`
}

type isXML struct {
	T string `xml:"t"`
}

var cellErrorTokens = map[string]model.ErrorKind{
	"#DIV/0!":       model.ErrDivZero,
	"#N/A":          model.ErrNA,
	"#NAME?":        model.ErrName,
	"#NUM!":         model.ErrNum,
	"#REF!":         model.ErrRef,
	"#VALUE!":       model.ErrValue,
	"#NULL!":        model.ErrNull,
	"#GETTING_DATA": model.ErrGettingData,
	"#SPILL!":       model.ErrSpill,
	"#CALC!":        model.ErrCalc,
}

// StyleResolver maps a worksheet cell's raw xfIndex (xl/styles.xml
// cellXfs index) to the StyleID a model.StyleTable assigns it, deduplicating
// identical xfs to the same ID.
type StyleResolver func(xfIndex uint32) uint32

// ParseSheetData decodes one worksheet part's <sheetData> into the cell map
// a model.Worksheet holds (spec.md §3, §4.3). shared resolves a "t=s"
// cell's numeric value to its shared-string text; styleOf resolves a cell's
// raw "s" attribute to an interned StyleID. No formula grammar is available
// at this layer (spec.md §4.1's assumption that one is supplied
// externally): a formula cell's display text is recorded as-is and its
// dependency-graph registration is the caller's responsibility.
func ParseSheetData(data []byte, partName string, shared []string, styleOf StyleResolver) (map[model.CellRef]*model.Cell, error) {
	var doc worksheetXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse %s", partName)
	}

	cells := make(map[model.CellRef]*model.Cell)
	for _, row := range doc.SheetData.Row {
		for _, c := range row.C {
			if strings.TrimSpace(c.R) == "" {
				continue
			}
			ref, err := model.ParseCellRef(c.R)
			if err != nil {
				return nil, mcperr.Wrap(mcperr.MalformedXML, err, "invalid cell reference %q in %s", c.R, partName)
			}

			cell := &model.Cell{}
			if c.S != "" {
				if xf, err := strconv.ParseUint(c.S, 10, 32); err == nil && styleOf != nil {
					cell.StyleID = styleOf(uint32(xf))
				}
			}
			if c.F != nil {
				cell.HasFormula = true
				cell.Formula = strings.TrimSpace(c.F.Text)
			}
			cell.Value = cellValueOf(c, shared)
			cells[ref] = cell
		}
	}
	return cells, nil
}

func cellValueOf(c cXML, shared []string) model.CellValue {
	if c.Is != nil {
		return model.Str(c.Is.T)
	}
	switch c.T {
	case "s":
		idx, err := strconv.ParseUint(strings.TrimSpace(c.V), 10, 32)
		if err != nil || int(idx) >= len(shared) {
			return model.Empty()
		}
		return model.Str(shared[idx])
	case "str":
		return model.Str(c.V)
	case "b":
		return model.Bool(strings.TrimSpace(c.V) == "1")
	case "e":
		if kind, ok := cellErrorTokens[strings.TrimSpace(c.V)]; ok {
			return model.ErrVal(kind)
		}
		return model.ErrVal(model.ErrUnknown)
	default:
		if strings.TrimSpace(c.V) == "" {
			return model.Empty()
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(c.V), 64)
		if err != nil {
			return model.Empty()
		}
		return model.Num(n)
	}
}
