package patch

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

const (
	sharedStringsPart = "xl/sharedStrings.xml"
	calcChainPart     = "xl/calcChain.xml"
	workbookPart      = "xl/workbook.xml"
)

// Apply runs the part edit pipeline (spec.md §4.4) against pkg in
// place: every patch is resolved to its worksheet part, grouped,
// deduplicated, and stream-rewritten; shared strings are interned as
// needed; and the recalc policy is applied. Parts not touched by any
// patch, shared-string update, or recalc-policy change are left
// byte-identical (spec.md §4.4 invariant 1).
func Apply(pkg *opc.Package, strings *model.SharedStringTable, batch Batch) error {
	sheets, err := pkg.WorksheetParts()
	if err != nil {
		return err
	}
	partBySheetName := make(map[string]string, len(sheets))
	for _, s := range sheets {
		partBySheetName[s.Name] = s.PartName
	}

	grouped := groupBySheet(batch.Patches)
	sheetNames := make([]string, 0, len(grouped))
	for name := range grouped {
		sheetNames = append(sheetNames, name)
	}
	sort.Strings(sheetNames)

	stringsDirty := false
	internFn := func(s string) uint32 {
		stringsDirty = true
		return strings.Intern(s)
	}

	for _, sheetName := range sheetNames {
		partName, ok := partBySheetName[sheetName]
		if !ok {
			return mcperr.New(mcperr.UnknownSheet, "patch references unknown sheet %q", sheetName)
		}
		if err := rewriteWorksheetPart(pkg, partName, grouped[sheetName], internFn); err != nil {
			return mcperr.Wrap(mcperr.MalformedXML, err, "failed to apply patches to %q", partName)
		}
	}

	if stringsDirty {
		if err := rewriteSharedStrings(pkg, strings); err != nil {
			return err
		}
	}

	if err := applyRecalcPolicy(pkg, batch.Recalc); err != nil {
		return err
	}

	return nil
}

func rewriteWorksheetPart(pkg *opc.Package, partName string, patches []Patch, internFn func(string) uint32) error {
	data, ok := pkg.Part(partName)
	if !ok {
		return mcperr.New(mcperr.MissingPart, "worksheet part %q is missing", partName)
	}

	before, body, after, err := splitSheetData(data)
	if err != nil {
		return err
	}

	rows, err := splitRows(body)
	if err != nil {
		return err
	}

	patchesByRow := make(map[uint32][]Patch)
	for _, p := range patches {
		patchesByRow[p.Cell.Row] = append(patchesByRow[p.Cell.Row], p)
	}

	var out bytes.Buffer
	out.Write(before)

	seenRows := make(map[uint32]struct{}, len(rows))
	for _, row := range rows {
		seenRows[row.row] = struct{}{}
		rowPatches := patchesByRow[row.row]
		if len(rowPatches) == 0 {
			out.Write(row.raw)
			continue
		}
		rewritten, err := rewriteRow(row, rowPatches, internFn)
		if err != nil {
			return err
		}
		out.Write(rewritten)
	}

	// Trailing patched rows past the last original row, in row order
	// (spec.md §4.4 step 3).
	var newRowNums []uint32
	for rowNum := range patchesByRow {
		if _, ok := seenRows[rowNum]; !ok {
			newRowNums = append(newRowNums, rowNum)
		}
	}
	sortUint32Rows(newRowNums)
	for _, rowNum := range newRowNums {
		rewritten, err := rewriteNewRow(rowNum, patchesByRow[rowNum], internFn)
		if err != nil {
			return err
		}
		out.Write(rewritten)
	}

	out.Write(after)
	pkg.SetPart(partName, out.Bytes())
	return nil
}

func rewriteNewRow(rowNum uint32, patches []Patch, internFn func(string) uint32) ([]byte, error) {
	sort.Slice(patches, func(i, j int) bool { return patches[i].Cell.Col < patches[j].Cell.Col })
	var out bytes.Buffer
	fmt.Fprintf(&out, `<row r="%d">`, rowNum+1)
	for _, p := range patches {
		out.Write(serializeCell(p, internFn, false))
	}
	out.WriteString("</row>")
	return out.Bytes(), nil
}

func sortUint32Rows(s []uint32) { sortUint32(s) }

func rewriteSharedStrings(pkg *opc.Package, table *model.SharedStringTable) error {
	var out bytes.Buffer
	all := table.All()
	fmt.Fprintf(&out, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	fmt.Fprintf(&out, `<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="%d" uniqueCount="%d">`, len(all), len(all))
	for _, s := range all {
		fmt.Fprintf(&out, "<si><t>%s</t></si>", xmlEscape(s))
	}
	out.WriteString("</sst>")
	pkg.SetPart(sharedStringsPart, out.Bytes())
	return nil
}

// applyRecalcPolicy implements spec.md §4.4 step 6: after a batch of
// formula edits, either set workbook.xml/@fullCalcOnLoad="1"
// (ForceFullOnOpen) or clear it (None), and in both cases drop
// xl/calcChain.xml if present, since it is now stale.
func applyRecalcPolicy(pkg *opc.Package, policy RecalcPolicy) error {
	data, ok := pkg.Part(workbookPart)
	if !ok {
		return mcperr.New(mcperr.MissingPart, "%s is missing", workbookPart)
	}

	var (
		patched []byte
		err     error
	)
	switch policy {
	case RecalcForceFullOnOpen:
		patched, err = setFullCalcOnLoad(data)
	case RecalcNone:
		patched, err = clearFullCalcOnLoad(data)
	default:
		return mcperr.New(mcperr.Validation, "unknown recalc policy %d", policy)
	}
	if err != nil {
		return err
	}
	pkg.SetPart(workbookPart, patched)
	pkg.DeletePart(calcChainPart)
	return nil
}

// setFullCalcOnLoad sets or inserts workbookPr/@fullCalcOnLoad="1" in
// workbook.xml's raw bytes, leaving every other byte untouched.
func setFullCalcOnLoad(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("<workbookPr"))
	if idx < 0 {
		// No workbookPr element: insert a minimal one right before
		// <sheets>.
		return insertWorkbookPr(data)
	}
	gt := bytes.IndexByte(data[idx:], '>')
	if gt < 0 {
		return nil, mcperr.New(mcperr.MalformedXML, "unterminated workbookPr element")
	}
	tagEnd := idx + gt
	tag := data[idx:tagEnd]
	if bytes.Contains(tag, []byte("fullCalcOnLoad=")) {
		return data, nil // already set; leaving existing value untouched
	}
	var out bytes.Buffer
	out.Write(data[:tagEnd])
	out.WriteString(` fullCalcOnLoad="1"`)
	out.Write(data[tagEnd:])
	return out.Bytes(), nil
}

// clearFullCalcOnLoad removes workbookPr/@fullCalcOnLoad from
// workbook.xml's raw bytes if present, leaving every other byte
// untouched. A workbook with no workbookPr element, or one with no
// fullCalcOnLoad attribute, is already in the cleared state.
func clearFullCalcOnLoad(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("<workbookPr"))
	if idx < 0 {
		return data, nil
	}
	gt := bytes.IndexByte(data[idx:], '>')
	if gt < 0 {
		return nil, mcperr.New(mcperr.MalformedXML, "unterminated workbookPr element")
	}
	tagEnd := idx + gt
	tag := data[idx:tagEnd]

	attrStart := bytes.Index(tag, []byte(" fullCalcOnLoad="))
	if attrStart < 0 {
		return data, nil // attribute absent; already cleared
	}
	rest := tag[attrStart+len(" fullCalcOnLoad="):]
	if len(rest) == 0 || (rest[0] != '"' && rest[0] != '\'') {
		return nil, mcperr.New(mcperr.MalformedXML, "malformed fullCalcOnLoad attribute")
	}
	quote := rest[0]
	closeIdx := bytes.IndexByte(rest[1:], quote)
	if closeIdx < 0 {
		return nil, mcperr.New(mcperr.MalformedXML, "unterminated fullCalcOnLoad attribute value")
	}
	attrEnd := attrStart + len(" fullCalcOnLoad=") + 1 + closeIdx + 1

	var out bytes.Buffer
	out.Write(data[:idx])
	out.Write(tag[:attrStart])
	out.Write(tag[attrEnd:])
	out.Write(data[tagEnd:])
	return out.Bytes(), nil
}

func insertWorkbookPr(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("<sheets"))
	if idx < 0 {
		return nil, mcperr.New(mcperr.MalformedXML, "workbook.xml has no <sheets> element")
	}
	var out bytes.Buffer
	out.Write(data[:idx])
	out.WriteString(`<workbookPr fullCalcOnLoad="1"/>`)
	out.Write(data[idx:])
	return out.Bytes(), nil
}
