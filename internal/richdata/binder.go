package richdata

import (
	"sort"
	"strconv"
	"strings"

	"github.com/vinodismyname/xlcore/internal/opc"
)

const (
	relTypeSheetMetadata           = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/sheetMetadata"
	relTypeMetadata                = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/metadata"
	relTypeRdRichValue             = "http://schemas.microsoft.com/office/2017/06/relationships/rdRichValue"
	relTypeRdRichValue2017         = "http://schemas.microsoft.com/office/2017/relationships/rdRichValue"
	relTypeRdRichValueStructure    = "http://schemas.microsoft.com/office/2017/06/relationships/rdRichValueStructure"
	relTypeRdRichValueStructure17  = "http://schemas.microsoft.com/office/2017/relationships/rdRichValueStructure"
	relTypeRichValue               = "http://schemas.microsoft.com/office/2017/06/relationships/richValue"
	relTypeRichValue2017           = "http://schemas.microsoft.com/office/2017/relationships/richValue"
	relTypeRichValueRel            = "http://schemas.microsoft.com/office/2022/10/relationships/richValueRel"
	relTypeRichValueRel201706      = "http://schemas.microsoft.com/office/2017/06/relationships/richValueRel"
	relTypeRichValueRel2017        = "http://schemas.microsoft.com/office/2017/relationships/richValueRel"
	relTypeImage                   = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"

	workbookPartName = "xl/workbook.xml"
)

// Bind resolves every cell-anchored "Place In Cell" image in pkg,
// mirroring the vm -> metadata -> rich-value -> relationship -> image
// chain (spec.md §4.6). It is best-effort throughout: a workbook with no
// rich-data parts at all returns an empty, nil-error result.
func Bind(pkg *opc.Package) ([]EmbeddedImage, error) {
	parts := discoverParts(pkg)

	var vmToRichValueIndex map[uint32]uint32
	if parts.metadata != "" {
		if data, ok := pkg.Part(parts.metadata); ok {
			m, err := parseVMToRichValueIndex(data)
			if err != nil {
				return nil, err
			}
			vmToRichValueIndex = m
		}
	}
	if vmToRichValueIndex == nil {
		vmToRichValueIndex = map[uint32]uint32{}
	}

	var structPositions []*structurePositions
	if parts.rdRichValueStructure != "" {
		if data, ok := pkg.Part(parts.rdRichValueStructure); ok {
			sp, err := parseStructurePositions(data)
			if err != nil {
				return nil, err
			}
			structPositions = sp
		}
	}

	richValues := map[uint32]richValueImage{}
	if parts.rdRichValue != "" {
		if data, ok := pkg.Part(parts.rdRichValue); ok {
			rv, err := parseRichValues(data, structPositions)
			if err != nil {
				return nil, err
			}
			richValues = rv
		}
	}

	relIndices, err := collectRelationshipIndices(pkg, parts.richValue)
	if err != nil {
		return nil, err
	}

	var relIDs []string
	if parts.richValueRel != "" {
		if data, ok := pkg.Part(parts.richValueRel); ok {
			ids, err := parseRichValueRelIDs(data)
			if err != nil {
				return nil, err
			}
			relIDs = ids
		}
	}

	ridToTarget := map[string]string{}
	if parts.richValueRel != "" {
		rels, err := pkg.RelationshipsFor(parts.richValueRel)
		if err == nil {
			dir := opc.DirOf(parts.richValueRel)
			for _, r := range rels {
				if r.TargetMode == opc.External || !strings.EqualFold(r.Type, relTypeImage) {
					continue
				}
				ridToTarget[r.ID] = resolveImageRelTarget(pkg, dir, r.Target)
			}
		}
	}

	base := inferRelationshipIndexBase(richValues, relIndices, relIDs, ridToTarget)

	sheets, err := worksheetPartNames(pkg)
	if err != nil {
		return nil, err
	}

	var out []EmbeddedImage
	for _, sheetPart := range sheets {
		sheetData, ok := pkg.Part(sheetPart)
		if !ok {
			continue
		}
		cells, err := scanCellsWithVM(sheetData)
		if err != nil {
			continue
		}
		if len(cells) == 0 {
			continue
		}
		links, _ := parseWorksheetHyperlinks(pkg, sheetPart, sheetData)

		offset := inferVMOffset(cells, vmToRichValueIndex, richValues, relIndices, relIDs, ridToTarget)

		for _, c := range cells {
			vm := c.vm + offset
			richValueIndex, ok := vmToRichValueIndex[vm]
			if !ok {
				continue
			}

			var localImageIdentifier uint32
			var haveIdent bool
			var altText string
			decorative := false

			if rv, ok := richValues[richValueIndex]; ok {
				localImageIdentifier, haveIdent = rv.localImageIdentifier, true
				altText = rv.altText
				decorative = rv.calcOrigin == 5
			} else if idx := int(richValueIndex); idx >= 0 && idx < len(relIndices) && relIndices[idx] != nil && *relIndices[idx] >= 0 {
				localImageIdentifier, haveIdent = uint32(*relIndices[idx]), true
			}
			if !haveIdent {
				continue
			}

			target, ok := resolveImageTarget(localImageIdentifier, base, relIDs, ridToTarget)
			if !ok {
				continue
			}
			data, ok := pkg.Part(target)
			if !ok {
				continue
			}

			out = append(out, EmbeddedImage{
				SheetPart:       sheetPart,
				Cell:            c.cell,
				ImagePart:       target,
				Bytes:           data,
				AltText:         altText,
				HyperlinkTarget: hyperlinkTargetFor(links, c.cell),
				Decorative:      decorative,
			})
		}
	}
	return out, nil
}

// inferVMOffset picks, per worksheet, whichever of {0,1} added to a raw
// @vm value resolves more cells end-to-end, breaking ties toward 1 when
// any cell's raw vm is exactly 0 (a strong signal of 0-based indexing
// once the +1 offset is applied) — spec.md §4.6.
func inferVMOffset(cells []cellVM, vmToRichValueIndex map[uint32]uint32, richValues map[uint32]richValueImage, relIndices []*int, relIDs []string, ridToTarget map[string]string) uint32 {
	if len(vmToRichValueIndex) == 0 {
		return 0
	}

	resolves := func(vmRaw, offset uint32) bool {
		richValueIndex, ok := vmToRichValueIndex[vmRaw+offset]
		if !ok {
			return false
		}
		var localImageIdentifier uint32
		var have bool
		if rv, ok := richValues[richValueIndex]; ok {
			localImageIdentifier, have = rv.localImageIdentifier, true
		} else if idx := int(richValueIndex); idx >= 0 && idx < len(relIndices) && relIndices[idx] != nil && *relIndices[idx] >= 0 {
			localImageIdentifier, have = uint32(*relIndices[idx]), true
		}
		if !have {
			return false
		}
		_, ok = resolveImageTarget(localImageIdentifier, baseUnknown, relIDs, ridToTarget)
		return ok
	}

	hasVMZero := false
	resolved0, resolved1 := 0, 0
	for _, c := range cells {
		if c.vm == 0 {
			hasVMZero = true
		}
		if resolves(c.vm, 0) {
			resolved0++
		}
		if resolves(c.vm, 1) {
			resolved1++
		}
	}

	switch {
	case resolved1 > resolved0:
		return 1
	case resolved0 > resolved1:
		return 0
	case hasVMZero:
		return 1
	default:
		return 0
	}
}

type richDataParts struct {
	metadata             string
	richValue            string
	rdRichValue          string
	rdRichValueStructure string
	richValueRel         string
}

// discoverParts locates the rich-data parts via xl/_rels/workbook.xml.rels,
// falling back to canonical part names and, failing that, to
// xl/metadata.xml's own .rels (spec.md §4.6: producers vary in how they
// wire these relationships).
func discoverParts(pkg *opc.Package) richDataParts {
	var p richDataParts

	if rels, err := pkg.RelationshipsFor(workbookPartName); err == nil {
		for _, r := range rels {
			if r.TargetMode == opc.External {
				continue
			}
			target := opc.ResolveTarget(opc.DirOf(workbookPartName), r.Target)
			switch {
			case p.metadata == "" && matchesType(r.Type, relTypeSheetMetadata, relTypeMetadata):
				if pkg.Has(target) {
					p.metadata = target
				}
			case p.richValue == "" && matchesType(r.Type, relTypeRichValue, relTypeRichValue2017):
				if pkg.Has(target) {
					p.richValue = target
				}
			case p.rdRichValue == "" && matchesType(r.Type, relTypeRdRichValue, relTypeRdRichValue2017):
				if pkg.Has(target) {
					p.rdRichValue = target
				}
			case p.rdRichValueStructure == "" && matchesType(r.Type, relTypeRdRichValueStructure, relTypeRdRichValueStructure17):
				if pkg.Has(target) {
					p.rdRichValueStructure = target
				}
			case p.richValueRel == "" && matchesType(r.Type, relTypeRichValueRel, relTypeRichValueRel201706, relTypeRichValueRel2017):
				if pkg.Has(target) {
					p.richValueRel = target
				}
			}
		}
	}

	if p.metadata == "" && pkg.Has("xl/metadata.xml") {
		p.metadata = "xl/metadata.xml"
	}
	if p.richValue == "" {
		if pkg.Has("xl/richData/richValue.xml") {
			p.richValue = "xl/richData/richValue.xml"
		} else if pkg.Has("xl/richData/richValues.xml") {
			p.richValue = "xl/richData/richValues.xml"
		}
	}
	if p.rdRichValue == "" && pkg.Has("xl/richData/rdrichvalue.xml") {
		p.rdRichValue = "xl/richData/rdrichvalue.xml"
	}
	if p.rdRichValueStructure == "" && pkg.Has("xl/richData/rdrichvaluestructure.xml") {
		p.rdRichValueStructure = "xl/richData/rdrichvaluestructure.xml"
	}
	if p.richValueRel == "" && pkg.Has("xl/richData/richValueRel.xml") {
		p.richValueRel = "xl/richData/richValueRel.xml"
	}

	if (p.richValue == "" || p.rdRichValue == "" || p.rdRichValueStructure == "" || p.richValueRel == "") && p.metadata != "" {
		if rels, err := pkg.RelationshipsFor(p.metadata); err == nil {
			for _, r := range rels {
				if r.TargetMode == opc.External {
					continue
				}
				target := opc.ResolveTarget(opc.DirOf(p.metadata), r.Target)
				if !pkg.Has(target) {
					continue
				}
				switch {
				case p.richValue == "" && matchesType(r.Type, relTypeRichValue, relTypeRichValue2017):
					p.richValue = target
				case p.richValueRel == "" && matchesType(r.Type, relTypeRichValueRel, relTypeRichValueRel201706, relTypeRichValueRel2017):
					p.richValueRel = target
				case p.rdRichValue == "" && matchesType(r.Type, relTypeRdRichValue, relTypeRdRichValue2017):
					p.rdRichValue = target
				case p.rdRichValueStructure == "" && matchesType(r.Type, relTypeRdRichValueStructure, relTypeRdRichValueStructure17):
					p.rdRichValueStructure = target
				}
			}
		}
	}

	return p
}

func matchesType(actual string, candidates ...string) bool {
	for _, c := range candidates {
		if strings.EqualFold(actual, c) {
			return true
		}
	}
	return false
}

// collectRelationshipIndices parses preferredPart's rich-value rel-kind
// <v> entries, or, when absent or itself a numbered richValueN.xml part,
// concatenates every xl/richData/richValue*.xml part in numeric-suffix
// order (some producers split the rich-value table across several parts
// — spec.md §4.6).
func collectRelationshipIndices(pkg *opc.Package, preferredPart string) ([]*int, error) {
	var numbered []string
	for _, name := range pkg.PartNames() {
		if _, ok := richValuePartSuffixIndex(name); ok {
			numbered = append(numbered, name)
		}
	}

	useMultiPart := len(numbered) > 0 && (preferredPart == "" || func() bool {
		_, ok := richValuePartSuffixIndex(preferredPart)
		return ok
	}())

	if useMultiPart {
		sort.Slice(numbered, func(i, j int) bool {
			ii, _ := richValuePartSuffixIndex(numbered[i])
			jj, _ := richValuePartSuffixIndex(numbered[j])
			if ii != jj {
				return ii < jj
			}
			return numbered[i] < numbered[j]
		})
		var out []*int
		for _, name := range numbered {
			data, ok := pkg.Part(name)
			if !ok {
				continue
			}
			indices, err := parseRichValueRelationshipIndices(data)
			if err != nil {
				return nil, err
			}
			out = append(out, indices...)
		}
		return out, nil
	}

	if preferredPart == "" {
		return nil, nil
	}
	data, ok := pkg.Part(preferredPart)
	if !ok {
		return nil, nil
	}
	return parseRichValueRelationshipIndices(data)
}

// richValuePartSuffixIndex reports the numeric suffix of an
// xl/richData/richValue*.xml or xl/richData/richValues*.xml part name
// ("" suffix maps to 0), or false if name doesn't match that shape.
func richValuePartSuffixIndex(name string) (int, bool) {
	const dir = "xl/richData/"
	if !strings.EqualFold(name[:min(len(name), len(dir))], dir) {
		return 0, false
	}
	base := name[len(dir):]
	lower := strings.ToLower(base)
	if !strings.HasSuffix(lower, ".xml") {
		return 0, false
	}
	stem := lower[:len(lower)-len(".xml")]

	var suffix string
	switch {
	case strings.HasPrefix(stem, "richvalues"):
		suffix = stem[len("richvalues"):]
	case strings.HasPrefix(stem, "richvalue"):
		suffix = stem[len("richvalue"):]
	default:
		return 0, false
	}
	if suffix == "" {
		return 0, true
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resolveImageRelTarget resolves a richValueRel.xml relationship's Target
// against its own directory, tolerating the producer quirks the image
// chain is known to hit: a fragment suffix, backslash separators, and a
// "media/..." target meant to be relative to xl/ rather than
// xl/richData/ (spec.md §4.6).
func resolveImageRelTarget(pkg *opc.Package, sourceDir, target string) string {
	if idx := strings.IndexByte(target, '#'); idx >= 0 {
		target = target[:idx]
	}
	target = strings.ReplaceAll(target, "\\", "/")
	target = strings.TrimPrefix(target, "./")

	switch {
	case strings.HasPrefix(target, "media/"):
		candidate := "xl/" + target
		if pkg.Has(candidate) {
			return candidate
		}
		return candidate
	case strings.HasPrefix(target, "xl/"):
		return target
	default:
		return opc.ResolveTarget(sourceDir, target)
	}
}

// worksheetPartNames returns every worksheet part, preferring the
// workbook's own sheet list and falling back to a directory scan when
// the workbook graph can't be resolved (best-effort, mirroring the rest
// of this package's resilience to malformed input).
func worksheetPartNames(pkg *opc.Package) ([]string, error) {
	if infos, err := pkg.WorksheetParts(); err == nil {
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.PartName)
		}
		return names, nil
	}

	var names []string
	for _, name := range pkg.PartNames() {
		if strings.HasPrefix(name, "xl/worksheets/") && strings.HasSuffix(name, ".xml") {
			names = append(names, name)
		}
	}
	return names, nil
}
