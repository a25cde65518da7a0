package macrostrip

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// rewriteRelationships implements step 6: for every remaining .rels
// part, drop any <Relationship> whose resolved target is in
// deleteSet, and drop custom-UI extensibility relationships from the
// package-root .rels. It returns, per source part (the part the .rels
// describes, not the .rels part itself), the set of relationship IDs
// that were dropped — step 7 needs this to scrub now-dangling
// r:id/r:embed/r:link/o:relid references from the source's own XML.
func rewriteRelationships(pkg *opc.Package, deleteSet map[string]struct{}) (map[string]map[string]struct{}, error) {
	removedIDs := make(map[string]map[string]struct{})

	for _, name := range pkg.PartNames() {
		canon := opc.CanonicalName(name)
		if !isRelsPart(canon) {
			continue
		}
		sourcePart := sourcePartForRels(canon)
		data, ok := pkg.Part(canon)
		if !ok {
			continue
		}
		rels, err := opc.ParseRelationships(data)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.MalformedXML, err, "failed to parse %q", canon)
		}

		kept := make([]opc.Relationship, 0, len(rels))
		for _, r := range rels {
			drop := false
			if r.TargetMode == opc.Internal {
				target := opc.ResolveTarget(opc.DirOf(sourcePart), r.Target)
				if _, inSet := deleteSet[target]; inSet {
					drop = true
				}
			}
			if sourcePart == "" && customUIExtensibilityType(r.Type) {
				drop = true
			}
			if drop {
				if removedIDs[sourcePart] == nil {
					removedIDs[sourcePart] = make(map[string]struct{})
				}
				removedIDs[sourcePart][r.ID] = struct{}{}
				continue
			}
			kept = append(kept, r)
		}

		if len(kept) == len(rels) {
			continue
		}
		pkg.SetPart(canon, serializeRelationships(kept))
	}

	return removedIDs, nil
}

// sourcePartForRels returns the canonical part name a .rels part
// describes ("" for the package-root _rels/.rels).
func sourcePartForRels(relsPart string) string {
	if relsPart == "_rels/.rels" {
		return ""
	}
	dir := opc.DirOf(relsPart)
	parentDir := strings.TrimSuffix(dir, "_rels/")
	base := strings.TrimSuffix(opc.BaseOf(relsPart), ".rels")
	return parentDir + base
}

func serializeRelationships(rels []opc.Relationship) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	buf.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, r := range rels {
		fmt.Fprintf(&buf, `<Relationship Id="%s" Type="%s" Target="%s"`, xmlAttrEscape(r.ID), xmlAttrEscape(r.Type), xmlAttrEscape(r.Target))
		if r.TargetMode == opc.External {
			buf.WriteString(` TargetMode="External"`)
		}
		buf.WriteString("/>")
	}
	buf.WriteString("</Relationships>")
	return buf.Bytes()
}

func xmlAttrEscape(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}
