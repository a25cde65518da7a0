package opc

import "strings"

// PivotTable is a raw, unparsed pivot table definition part plus its
// associated cache definition part name, if resolvable via the
// workbook's pivotCaches relationships. Pivot internals are not a
// named SPEC_FULL.md operation beyond discovery, so this stays at the
// part-inventory level rather than a full object model.
type PivotTable struct {
	DefinitionPart string
	CacheDefPart   string
}

// Pivots assembles the pivot tables and caches present under
// xl/pivotTables/** and xl/pivotCache/** (spec.md §4.3). Pivot tables
// with no resolvable cache definition still appear, with an empty
// CacheDefPart.
func (p *Package) Pivots() []PivotTable {
	var tableParts []string
	for _, name := range p.PartNames() {
		if strings.HasPrefix(name, "xl/pivotTables/") && strings.HasSuffix(name, ".xml") {
			tableParts = append(tableParts, name)
		}
	}

	out := make([]PivotTable, 0, len(tableParts))
	for _, tp := range tableParts {
		pt := PivotTable{DefinitionPart: tp}
		rels, err := p.RelationshipsFor(tp)
		if err == nil {
			for _, r := range rels {
				if strings.Contains(r.Type, "pivotCacheDefinition") && r.TargetMode == Internal {
					pt.CacheDefPart = resolveTarget(dirOf(tp), r.Target)
					break
				}
			}
		}
		out = append(out, pt)
	}
	return out
}
