package opc

import (
	"encoding/xml"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const sharedStringsPartName = "xl/sharedStrings.xml"

type sstXML struct {
	XMLName xml.Name `xml:"sst"`
	SI      []siXML  `xml:"si"`
}

type siXML struct {
	T string `xml:"t"`
	R []struct {
		T string `xml:"t"`
	} `xml:"r"`
}

func (si siXML) text() string {
	if len(si.R) > 0 {
		var b strings.Builder
		for _, run := range si.R {
			b.WriteString(run.T)
		}
		return b.String()
	}
	return si.T
}

// SharedStrings parses xl/sharedStrings.xml into its index-ordered string
// table; returns an empty slice when the part is absent (a workbook with
// only inline strings has no such part). Rich-text runs are flattened to
// their concatenated plain text, matching the value a formula referencing
// the cell would see.
func (p *Package) SharedStrings() ([]string, error) {
	data, ok := p.Part(sharedStringsPartName)
	if !ok {
		return nil, nil
	}
	var doc sstXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse %s", sharedStringsPartName)
	}
	out := make([]string, len(doc.SI))
	for i, si := range doc.SI {
		out[i] = si.text()
	}
	return out, nil
}
