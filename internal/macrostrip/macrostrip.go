// Package macrostrip removes VBA, ActiveX, ribbon customizations, and
// legacy macro/dialog sheets from an OOXML package, rewriting
// relationships and content types so the result is a valid,
// macro-free .xlsx (spec.md §4.5).
package macrostrip

import (
	"sort"
	"strings"

	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

var seedGlobs = []string{
	"xl/vbaProject.bin",
	"xl/vbaData.xml",
	"xl/vbaProjectSignature.bin",
}

var seedDirPrefixes = []string{
	"customui/",
	"xl/activex/",
	"xl/ctrlprops/",
	"xl/controls/",
	"xl/macrosheets/",
	"xl/dialogsheets/",
}

// Strip runs the full macro/plugin-stripping pipeline against pkg in
// place (spec.md §4.5 steps 1-8). It operates on the package's own
// part map directly; callers that need to preserve the original
// should clone pkg first.
func Strip(pkg *opc.Package) error {
	deleteSet, err := seedDeleteSet(pkg)
	if err != nil {
		return err
	}
	if err := addVMLCarveOuts(pkg, deleteSet); err != nil {
		return err
	}
	if err := closeDeleteSet(pkg, deleteSet); err != nil {
		return err
	}
	cascadeRelsParts(pkg, deleteSet)

	for _, name := range sortedDeleteSet(deleteSet) {
		pkg.DeletePart(name)
	}

	removedIDs, err := rewriteRelationships(pkg, deleteSet)
	if err != nil {
		return err
	}
	if err := scrubSources(pkg, removedIDs); err != nil {
		return err
	}
	return patchContentTypes(pkg, deleteSet)
}

// seedDeleteSet implements step 1: literal macro/extensibility parts
// plus every internal target of xl/_rels/vbaProject.bin.rels.
func seedDeleteSet(pkg *opc.Package) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, name := range pkg.PartNames() {
		lower := strings.ToLower(opc.CanonicalName(name))
		for _, literal := range seedGlobs {
			if lower == strings.ToLower(literal) {
				set[opc.CanonicalName(name)] = struct{}{}
			}
		}
		for _, prefix := range seedDirPrefixes {
			if strings.HasPrefix(lower, prefix) {
				set[opc.CanonicalName(name)] = struct{}{}
			}
		}
	}

	rels, err := pkg.RelationshipsFor("xl/vbaProject.bin")
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		if r.TargetMode == opc.External {
			continue
		}
		target := opc.ResolveTarget(opc.DirOf("xl/vbaProject.bin"), r.Target)
		set[target] = struct{}{}
	}
	return set, nil
}

// addVMLCarveOuts implements step 2: scan every VML drawing for
// <o:OLEObject> children, resolve their r:id through the VML's
// sibling .rels, and add only the resolved embedding parts — never
// the VML file itself.
func addVMLCarveOuts(pkg *opc.Package, deleteSet map[string]struct{}) error {
	for _, name := range pkg.PartNames() {
		canon := opc.CanonicalName(name)
		if !strings.HasPrefix(canon, "xl/drawings/") || !strings.HasSuffix(strings.ToLower(canon), ".vml") {
			continue
		}
		data, ok := pkg.Part(canon)
		if !ok {
			continue
		}
		relIDs, err := oleObjectRelIDs(data)
		if err != nil {
			return mcperr.Wrap(mcperr.MalformedXML, err, "failed to scan VML drawing %q", canon)
		}
		if len(relIDs) == 0 {
			continue
		}
		rels, err := pkg.RelationshipsFor(canon)
		if err != nil {
			return err
		}
		byID := make(map[string]opc.Relationship, len(rels))
		for _, r := range rels {
			byID[r.ID] = r
		}
		for _, id := range relIDs {
			r, ok := byID[id]
			if !ok || r.TargetMode == opc.External {
				continue
			}
			target := opc.ResolveTarget(opc.DirOf(canon), r.Target)
			if strings.HasPrefix(target, "xl/embeddings/") {
				deleteSet[target] = struct{}{}
			}
		}
	}
	return nil
}

// closeDeleteSet implements step 3: repeatedly add any part whose
// every inbound relationship source is already in the delete set.
func closeDeleteSet(pkg *opc.Package, deleteSet map[string]struct{}) error {
	inbound, err := inboundSources(pkg)
	if err != nil {
		return err
	}

	for {
		grew := false
		for target, sources := range inbound {
			if _, already := deleteSet[target]; already {
				continue
			}
			if len(sources) == 0 {
				continue
			}
			allDeleted := true
			for src := range sources {
				if _, ok := deleteSet[src]; !ok {
					allDeleted = false
					break
				}
			}
			if allDeleted {
				deleteSet[target] = struct{}{}
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	return nil
}

// inboundSources maps each internal relationship target to the set of
// source parts that reference it.
func inboundSources(pkg *opc.Package) (map[string]map[string]struct{}, error) {
	inbound := make(map[string]map[string]struct{})
	for _, name := range pkg.PartNames() {
		canon := opc.CanonicalName(name)
		if isRelsPart(canon) {
			continue
		}
		rels, err := pkg.RelationshipsFor(canon)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if r.TargetMode == opc.External {
				continue
			}
			target := opc.ResolveTarget(opc.DirOf(canon), r.Target)
			if inbound[target] == nil {
				inbound[target] = make(map[string]struct{})
			}
			inbound[target][canon] = struct{}{}
		}
	}
	return inbound, nil
}

// cascadeRelsParts implements step 4: a deleted part's own .rels part
// (if any) is deleted too.
func cascadeRelsParts(pkg *opc.Package, deleteSet map[string]struct{}) {
	additions := make([]string, 0)
	for name := range deleteSet {
		relsName := opc.RelsPathFor(name)
		if pkg.Has(relsName) {
			additions = append(additions, opc.CanonicalName(relsName))
		}
	}
	for _, a := range additions {
		deleteSet[a] = struct{}{}
	}
}

func isRelsPart(canon string) bool {
	base := opc.BaseOf(canon)
	return strings.HasSuffix(base, ".rels")
}

// sortedDeleteSet returns deleteSet's members sorted, for output
// determinism in steps that iterate it.
func sortedDeleteSet(deleteSet map[string]struct{}) []string {
	out := make([]string, 0, len(deleteSet))
	for name := range deleteSet {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func customUIExtensibilityType(relType string) bool {
	return strings.Contains(strings.ToLower(relType), "ui/customui") ||
		strings.Contains(strings.ToLower(relType), "extensibility")
}
