package opc

import (
	"encoding/xml"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const themePartName = "xl/theme/theme1.xml"

// themeSlotOrder is the canonical 12-slot order of a:clrScheme's
// children (spec.md §3 Workbook "theme palette").
var themeSlotOrder = []string{
	"dk1", "lt1", "dk2", "lt2",
	"accent1", "accent2", "accent3", "accent4", "accent5", "accent6",
	"hlink", "folHlink",
}

type themeXML struct {
	XMLName    xml.Name `xml:"theme"`
	ThemeElts  struct {
		ClrScheme struct {
			Dk1      themeColorXML `xml:"dk1"`
			Lt1      themeColorXML `xml:"lt1"`
			Dk2      themeColorXML `xml:"dk2"`
			Lt2      themeColorXML `xml:"lt2"`
			Accent1  themeColorXML `xml:"accent1"`
			Accent2  themeColorXML `xml:"accent2"`
			Accent3  themeColorXML `xml:"accent3"`
			Accent4  themeColorXML `xml:"accent4"`
			Accent5  themeColorXML `xml:"accent5"`
			Accent6  themeColorXML `xml:"accent6"`
			Hlink    themeColorXML `xml:"hlink"`
			FolHlink themeColorXML `xml:"folHlink"`
		} `xml:"clrScheme"`
	} `xml:"themeElements"`
}

type themeColorXML struct {
	SrgbClr struct {
		Val string `xml:"val,attr"`
	} `xml:"srgbClr"`
	SysClr struct {
		LastClr string `xml:"lastClr,attr"`
	} `xml:"sysClr"`
}

func (c themeColorXML) argb() string {
	if c.SrgbClr.Val != "" {
		return c.SrgbClr.Val
	}
	return c.SysClr.LastClr
}

// ThemePalette parses xl/theme/theme1.xml when present; returns nil,
// false otherwise (spec.md §4.3).
func (p *Package) ThemePalette() ([]model.ThemeColor, bool, error) {
	data, ok := p.Part(themePartName)
	if !ok {
		return nil, false, nil
	}
	var doc themeXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, true, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse %s", themePartName)
	}
	cs := doc.ThemeElts.ClrScheme
	colors := []themeColorXML{cs.Dk1, cs.Lt1, cs.Dk2, cs.Lt2, cs.Accent1, cs.Accent2, cs.Accent3, cs.Accent4, cs.Accent5, cs.Accent6, cs.Hlink, cs.FolHlink}

	out := make([]model.ThemeColor, 0, len(themeSlotOrder))
	for i, name := range themeSlotOrder {
		out = append(out, model.ThemeColor{Name: name, ARGB: colors[i].argb()})
	}
	return out, true, nil
}
