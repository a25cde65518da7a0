package richdata

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// cellVM is one worksheet <c r="..." vm="N"> entry.
type cellVM struct {
	cell  model.CellRef
	vm    uint32
	hasVM bool
}

// scanCellsWithVM streams a worksheet part for every <c> element carrying
// a vm attribute, skipping the bulk of plain cells without building a
// full DOM (most worksheets have very few rich-value-annotated cells).
func scanCellsWithVM(xmlBody []byte) ([]cellVM, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBody))
	var out []cellVM

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to scan worksheet cells")
		}
		se, ok := tok.(xml.StartElement)
		if !ok || localName(se.Name) != "c" {
			continue
		}
		vmAttr := attrValue(se.Attr, "vm")
		if vmAttr == "" {
			continue
		}
		refAttr := attrValue(se.Attr, "r")
		if refAttr == "" {
			continue
		}
		ref, err := model.ParseCellRef(refAttr)
		if err != nil {
			continue
		}
		v, ok := parseUintField([]string{vmAttr}, 0)
		if !ok {
			continue
		}
		out = append(out, cellVM{cell: ref, vm: v, hasVM: true})
	}
	return out, nil
}
